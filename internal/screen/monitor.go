package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/punchclock/internal/broadcast"
	"github.com/kozaktomas/punchclock/internal/events"
	"github.com/kozaktomas/punchclock/internal/gateway"
	"github.com/kozaktomas/punchclock/internal/overlay"
	"github.com/kozaktomas/punchclock/internal/schedule"
	"github.com/kozaktomas/punchclock/internal/stream"
	"github.com/kozaktomas/punchclock/internal/watchdog"
)

// MonitorOwner is the camera lock owner name of the live monitor.
const MonitorOwner = "monitor"

// ErrMonitorClosed is returned by camera controls after Close.
var ErrMonitorClosed = errors.New("monitor closed")

// MonitorBackend is everything the live monitor needs from the gateway.
// *gateway.Client implements it.
type MonitorBackend interface {
	stream.Opener
	overlay.Backend
	Health(ctx context.Context) (*gateway.Health, error)
	CameraStart(ctx context.Context) (*gateway.CameraAction, error)
	CameraStop(ctx context.Context) (*gateway.CameraAction, error)
	StreamFrames(ctx context.Context, version int64, fn func(frame []byte) error) error
}

// CameraState is the monitor's view of the camera lifecycle.
type CameraState string

// Camera states.
const (
	CameraInactive CameraState = "inactive"
	CameraStarting CameraState = "starting"
	CameraActive   CameraState = "active"
	CameraStopping CameraState = "stopping"
	CameraError    CameraState = "error"
)

// MonitorConfig wires the components of the live monitor.
type MonitorConfig struct {
	Stream   stream.Config
	Watchdog watchdog.Config
	Overlay  overlay.Config
	// RestartDelay is the pause between stop and start on RestartCamera.
	RestartDelay time.Duration
	// AutoStart starts the camera on Open when the backend is healthy.
	AutoStart bool
	Logger    *slog.Logger
}

// MonitorState is a snapshot of the live monitor.
type MonitorState struct {
	Camera        CameraState   `json:"camera"`
	CameraError   string        `json:"camera_error,omitempty"`
	Connection    stream.Status `json:"connection"`
	Overlay       overlay.State `json:"overlay"`
	StreamVersion int64         `json:"stream_version"`
	Reloads       int           `json:"reloads"`
	Frames        uint64        `json:"frames"`
	LastFrame     time.Time     `json:"last_frame"`
	Recent        []RecentEvent `json:"recent_events"`
}

// RecentEvent is one entry of the stream's trailing event window.
type RecentEvent struct {
	Kind events.Kind `json:"kind"`
	At   time.Time   `json:"at"`
}

// Monitor is the live monitoring screen: it owns the camera while active,
// keeps the recognition stream connected only while the camera runs,
// supervises the image feed with a watchdog and feeds events into the
// overlay.
type Monitor struct {
	backend  MonitorBackend
	cfg      MonitorConfig
	logger   *slog.Logger
	lock     *CameraLock
	stream   *stream.Manager
	overlay  *overlay.Manager
	watchdog *watchdog.Watchdog

	mu         sync.Mutex
	camera     CameraState
	cameraErr  string
	frame      []byte
	frameAt    time.Time
	frames     uint64
	feedCancel context.CancelFunc
	feedDone   chan struct{}
	current    context.CancelFunc
	opened     bool
	closed     bool

	reload       chan struct{}
	restartTimer schedule.Timer
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	updates      broadcast.Broadcaster[MonitorState]
}

// NewMonitor creates a closed monitor. lock is shared with every other
// screen that may drive the camera.
func NewMonitor(backend MonitorBackend, lock *CameraLock, cfg MonitorConfig) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.Stream.Logger == nil {
		cfg.Stream.Logger = cfg.Logger
	}
	if cfg.Overlay.Logger == nil {
		cfg.Overlay.Logger = cfg.Logger
	}
	if cfg.Watchdog.Logger == nil {
		cfg.Watchdog.Logger = cfg.Logger
	}
	if cfg.Watchdog.Name == "" {
		cfg.Watchdog.Name = "monitor"
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		backend: backend,
		cfg:     cfg,
		logger:  cfg.Logger,
		lock:    lock,
		stream:  stream.New(backend, cfg.Stream),
		overlay: overlay.New(backend, cfg.Overlay),
		camera:  CameraInactive,
		reload:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	m.watchdog = watchdog.New(cfg.Watchdog, m.reloadFrames)
	return m
}

// Overlay returns the overlay manager fed by this monitor.
func (m *Monitor) Overlay() *overlay.Manager {
	return m.overlay
}

// Stream returns the recognition stream manager.
func (m *Monitor) Stream() *stream.Manager {
	return m.stream
}

// Open mounts the screen: it starts the overlay and the watchdog, wires
// stream events into the overlay and, with AutoStart, starts the camera.
func (m *Monitor) Open() {
	m.mu.Lock()
	if m.opened || m.closed {
		m.mu.Unlock()
		return
	}
	m.opened = true
	m.mu.Unlock()

	evCh, _ := m.stream.Events()
	stCh, _ := m.stream.Statuses()
	ovCh, _ := m.overlay.Subscribe()

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		for ev := range evCh {
			m.overlay.Handle(ev)
		}
	}()
	go func() {
		defer m.wg.Done()
		last := m.stream.State()
		for st := range stCh {
			if st.State != last {
				last = st.State
				m.overlay.ResetFaces()
			}
			m.publish()
		}
	}()
	go func() {
		defer m.wg.Done()
		for range ovCh {
			m.publish()
		}
	}()

	m.overlay.Start()
	m.watchdog.Start(m.ctx)
	m.logger.Info("monitor: opened")

	if m.cfg.AutoStart {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.StartCamera(m.ctx); err != nil && m.ctx.Err() == nil {
				m.logger.Warn("monitor: auto-start failed", "error", err)
			}
		}()
	}
}

// StartCamera checks backend health, takes the camera lock and starts the
// camera. Once the camera runs the recognition stream is connected and the
// image feed supervised.
func (m *Monitor) StartCamera(ctx context.Context) error {
	if err := m.lock.Acquire(MonitorOwner); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.lock.Release(MonitorOwner)
		return ErrMonitorClosed
	}
	if m.camera == CameraActive || m.camera == CameraStarting {
		m.mu.Unlock()
		return nil
	}
	m.camera, m.cameraErr = CameraStarting, ""
	m.mu.Unlock()
	m.overlay.ResetFaces()
	m.publish()

	health, err := m.backend.Health(ctx)
	if err == nil && !health.Healthy() {
		err = fmt.Errorf("backend reports status %q", health.Status)
	}
	if err != nil {
		return m.startFailed("Health check failed", fmt.Errorf("health check: %w", err))
	}

	res, err := m.backend.CameraStart(ctx)
	if err == nil && !res.Success {
		err = errors.New(res.Message)
	}
	if err != nil {
		msg := gateway.ErrorMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		return m.startFailed(msg, fmt.Errorf("start camera: %w", err))
	}

	m.mu.Lock()
	if m.closed || m.camera != CameraStarting {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.setCamera(CameraActive, "")
	m.activate()
	m.logger.Info("monitor: camera started", "message", res.Message)
	return nil
}

func (m *Monitor) startFailed(msg string, err error) error {
	m.setCamera(CameraError, msg)
	m.overlay.ShowError(msg)
	m.lock.Release(MonitorOwner)
	m.logger.Error("monitor: camera start failed", "error", err)
	return err
}

// StopCamera disconnects the stream, stops the camera and releases the
// camera lock. A failed stop still leaves the monitor inactive. It refuses
// to stop a camera owned by another screen.
func (m *Monitor) StopCamera(ctx context.Context) error {
	if err := m.lock.Acquire(MonitorOwner); err != nil {
		return err
	}
	m.restartTimer.Stop()
	m.setCamera(CameraStopping, "")
	m.deactivate()

	_, err := m.backend.CameraStop(ctx)
	m.setCamera(CameraInactive, "")
	m.lock.Release(MonitorOwner)
	if err != nil {
		msg := gateway.ErrorMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		m.overlay.ShowError(msg)
		m.logger.Error("monitor: camera stop failed", "error", err)
		return fmt.Errorf("stop camera: %w", err)
	}
	m.logger.Info("monitor: camera stopped")
	return nil
}

// RestartCamera stops the camera and starts it again after RestartDelay.
func (m *Monitor) RestartCamera(ctx context.Context) error {
	err := m.StopCamera(ctx)
	if errors.Is(err, ErrCameraBusy) {
		return err
	}
	m.restartTimer.Reset(m.cfg.RestartDelay, func() {
		if err := m.StartCamera(m.ctx); err != nil && m.ctx.Err() == nil {
			m.logger.Warn("monitor: restart failed", "error", err)
		}
	})
	return err
}

func (m *Monitor) setCamera(state CameraState, errMsg string) {
	m.mu.Lock()
	changed := m.camera != state
	m.camera = state
	m.cameraErr = errMsg
	m.mu.Unlock()

	if changed {
		m.overlay.ResetFaces()
	}
	m.publish()
}

// activate connects the stream and starts the supervised image feed.
func (m *Monitor) activate() {
	m.stream.Connect()
	m.watchdog.SetActive(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedDone != nil || m.closed {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.feedCancel, m.feedDone = cancel, done

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		m.runFrames(ctx)
	}()
}

// deactivate disconnects the stream and stops the image feed.
func (m *Monitor) deactivate() {
	m.stream.Disconnect()
	m.watchdog.SetActive(false)

	m.mu.Lock()
	cancel, done := m.feedCancel, m.feedDone
	m.feedCancel, m.feedDone = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// runFrames reads the image feed at the watchdog's current version. A
// reload cancels the open stream and reopens it at the new version; a
// failed stream waits for the watchdog's delayed reload.
func (m *Monitor) runFrames(ctx context.Context) {
	for {
		select {
		case <-m.reload:
		default:
		}

		version := m.watchdog.Version()
		sctx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.current = cancel
		m.mu.Unlock()

		err := m.backend.StreamFrames(sctx, version, m.frameReceived)
		reloaded := sctx.Err() != nil
		cancel()

		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if reloaded {
			continue
		}

		m.logger.Warn("monitor: camera stream failed", "error", err, "version", version)
		m.watchdog.FrameFailed()
		select {
		case <-ctx.Done():
			return
		case <-m.reload:
		}
	}
}

func (m *Monitor) frameReceived(frame []byte) error {
	m.mu.Lock()
	m.frame = frame
	m.frameAt = time.Now()
	m.frames++
	m.mu.Unlock()
	m.watchdog.FrameReceived()
	return nil
}

// reloadFrames is the watchdog callback: it drops the open image stream so
// runFrames reopens it with the new version token.
func (m *Monitor) reloadFrames(version int64, reason string) {
	m.logger.Info("monitor: reloading camera stream", "version", version, "reason", reason)
	m.mu.Lock()
	cancel := m.current
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case m.reload <- struct{}{}:
	default:
	}
	m.publish()
}

// LatestFrame returns the most recent camera frame and when it arrived.
func (m *Monitor) LatestFrame() ([]byte, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame, m.frameAt
}

// Camera returns the camera lifecycle state.
func (m *Monitor) Camera() CameraState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// State returns the current monitor snapshot.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	s := MonitorState{
		Camera:      m.camera,
		CameraError: m.cameraErr,
		Frames:      m.frames,
		LastFrame:   m.frameAt,
	}
	m.mu.Unlock()

	s.Connection = m.stream.Status()
	recent := m.stream.Recent()
	s.Recent = make([]RecentEvent, 0, len(recent))
	for _, ev := range recent {
		s.Recent = append(s.Recent, RecentEvent{Kind: ev.Kind(), At: ev.Time()})
	}
	s.Overlay = m.overlay.State()
	s.StreamVersion = m.watchdog.Version()
	s.Reloads = m.watchdog.Reloads()
	return s
}

// Subscribe returns a channel of monitor snapshots. The returned function
// unsubscribes.
func (m *Monitor) Subscribe() (<-chan MonitorState, func()) {
	ch := m.updates.AddListener()
	return ch, func() { m.updates.RemoveListener(ch) }
}

func (m *Monitor) publish() {
	m.updates.Send(m.State())
}

// Close unmounts the screen: it stops the stream, the image feed, the
// watchdog and the overlay and releases the camera lock. The camera itself
// keeps running. Safe to call multiple times.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.restartTimer.Stop()
	m.cancel()
	m.deactivate()
	m.watchdog.Stop()
	m.stream.Close()
	m.overlay.Close()
	m.wg.Wait()
	m.lock.Release(MonitorOwner)
	m.updates.Close()
	m.logger.Info("monitor: closed")
}
