// Package capture drives a guided multi-angle face capture: it polls camera
// snapshots, scores them against the backend quality check, captures and
// confirms a frame per angle slot, and submits the registration once every
// slot is validated.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/punchclock/internal/broadcast"
	"github.com/kozaktomas/punchclock/internal/constants"
	"github.com/kozaktomas/punchclock/internal/gateway"
	"github.com/kozaktomas/punchclock/internal/schedule"
	"github.com/kozaktomas/punchclock/internal/watchdog"
)

var (
	ErrSessionClosed    = errors.New("capture session closed")
	ErrIncomplete       = errors.New("not every angle is captured")
	ErrNoIdentity       = errors.New("identity is required")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrUnknownSlot      = errors.New("unknown slot")
	ErrNotReady         = errors.New("no good frame to capture")
	ErrBusy             = errors.New("quality check in progress")
)

// Backend is the subset of the gateway the orchestrator drives.
// *gateway.Client implements it.
type Backend interface {
	Snapshot(ctx context.Context, opts gateway.SnapshotOptions) ([]byte, error)
	DetectFaceQuality(ctx context.Context, image []byte, angle string) (*gateway.QualityResult, error)
	RegisterFace(ctx context.Context, req gateway.RegisterRequest) (*gateway.RegisterResult, error)
	CameraStatus(ctx context.Context) (*gateway.CameraStatus, error)
	CameraStart(ctx context.Context) (*gateway.CameraAction, error)
}

// Phase is the lifecycle stage of a capture session.
type Phase string

// Session phases.
const (
	PhaseCapturing    Phase = "capturing"
	PhaseComplete     Phase = "complete"
	PhaseSubmitting   Phase = "submitting"
	PhaseSubmitted    Phase = "submitted"
	PhaseSubmitFailed Phase = "submit_failed"
	PhaseCancelled    Phase = "cancelled"
)

// ErrorKind classifies a surfaced error.
type ErrorKind string

// Error kinds.
const (
	KindTransport ErrorKind = "transport"
	KindTransient ErrorKind = "transient"
	KindResource  ErrorKind = "resource"
	KindTerminal  ErrorKind = "terminal"
)

// Banner is the operator-facing error message.
type Banner struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Result is reported after a successful registration.
type Result struct {
	Identity     string `json:"identity"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Config tunes the orchestrator cadences and request shapes.
type Config struct {
	Slots              []Slot
	SnapshotInterval   time.Duration
	DetectInterval     time.Duration
	DetectTimeout      time.Duration
	BoostInterval      time.Duration
	SubmitDelay        time.Duration
	StatusInterval     time.Duration
	StallCheckInterval time.Duration
	StallAfter         time.Duration
	ErrorClearDelay    time.Duration
	Snapshot           gateway.SnapshotOptions
	// PreviewSize bounds the thumbnail kept per captured frame.
	PreviewSize int
	Logger      *slog.Logger
	Now         func() time.Time
}

func (c *Config) defaults() {
	if len(c.Slots) == 0 {
		c.Slots = DefaultSlots(constants.DefaultCaptureSlots)
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 400 * time.Millisecond
	}
	if c.DetectInterval <= 0 {
		c.DetectInterval = 700 * time.Millisecond
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 5 * time.Second
	}
	if c.BoostInterval <= 0 {
		c.BoostInterval = 250 * time.Millisecond
	}
	if c.SubmitDelay <= 0 {
		c.SubmitDelay = time.Second
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 5 * time.Second
	}
	if c.StallCheckInterval <= 0 {
		c.StallCheckInterval = 4 * time.Second
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 6 * time.Second
	}
	if c.ErrorClearDelay <= 0 {
		c.ErrorClearDelay = 1200 * time.Millisecond
	}
	if c.PreviewSize <= 0 {
		c.PreviewSize = constants.PreviewMaxSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Orchestrator runs one capture session.
type Orchestrator struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu        sync.Mutex
	session   *Session
	phase     Phase
	frame     []byte
	ready     bool
	failures  int
	quality   *gateway.QualityResult
	boost     float64
	banner    *Banner
	submitErr string
	result    *Result
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc

	// checking guards the quality-check endpoint: one request per session.
	checking atomic.Bool
	attempts atomic.Uint64

	snapshotLoop *schedule.Loop
	detectLoop   *schedule.Loop
	boostLoop    *schedule.Loop
	statusLoop   *schedule.Loop
	stall        *watchdog.Watchdog
	submitTimer  schedule.Timer
	clearTimer   schedule.Timer

	updates     broadcast.Broadcaster[Progress]
	onSubmitted func(Result)
}

// New creates a stopped orchestrator with an empty session.
func New(backend Backend, cfg Config) *Orchestrator {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend: backend,
		cfg:     cfg,
		logger:  cfg.Logger,
		session: NewSession(cfg.Slots),
		phase:   PhaseCapturing,
		ctx:     ctx,
		cancel:  cancel,
	}
	o.snapshotLoop = schedule.NewLoop("capture-snapshot", cfg.SnapshotInterval, o.snapshotTick, cfg.Logger)
	o.detectLoop = schedule.NewLoop("capture-detect", cfg.DetectInterval, o.detectTick, cfg.Logger)
	o.boostLoop = schedule.NewLoop("capture-boost", cfg.BoostInterval, func(context.Context) { o.boostTick() }, cfg.Logger)
	o.statusLoop = schedule.NewLoop("capture-camera", cfg.StatusInterval, o.ensureCamera, cfg.Logger)
	o.stall = watchdog.New(watchdog.Config{
		Name:       "capture",
		Interval:   cfg.StallCheckInterval,
		StaleAfter: cfg.StallAfter,
		Logger:     cfg.Logger,
		Now:        cfg.Now,
	}, func(int64, string) { o.ensureCamera(o.ctx) })
	return o
}

// OnSubmitted registers a callback for a successful registration.
// It must be set before Start.
func (o *Orchestrator) OnSubmitted(fn func(Result)) {
	o.onSubmitted = fn
}

// Start begins snapshot polling, detection, camera supervision and the
// progress animation. The session runs until Close or a successful submit.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.mu.Unlock()

	o.logger.Info("capture: session started", "slots", len(o.cfg.Slots))
	o.statusLoop.Start(ctx, true)
	o.snapshotLoop.Start(ctx, true)
	o.detectLoop.Start(ctx, true)
	o.boostLoop.Start(ctx, false)
	o.stall.SetActive(true)
	o.stall.Start(ctx)
}

func (o *Orchestrator) stopLoops() {
	o.snapshotLoop.Stop()
	o.detectLoop.Stop()
	o.boostLoop.Stop()
	o.statusLoop.Stop()
	o.stall.SetActive(false)
	o.stall.Stop()
	o.clearTimer.Stop()
}

// Close cancels the session: it stops every loop and timer, ignores the
// results of in-flight requests and releases all image buffers. Safe to
// call multiple times.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.phase != PhaseSubmitted {
		o.phase = PhaseCancelled
	}
	o.cancel()
	o.mu.Unlock()

	o.submitTimer.Stop()
	o.stopLoops()

	o.mu.Lock()
	o.session.Release()
	o.frame = nil
	o.quality = nil
	o.mu.Unlock()

	o.publish()
	o.updates.Close()
	o.logger.Info("capture: session closed")
}

// snapshotTick fetches a fresh frame. Failures mark the stream not ready,
// raise a resource banner and ask the camera to start.
func (o *Orchestrator) snapshotTick(ctx context.Context) {
	frame, err := o.backend.Snapshot(ctx, o.cfg.Snapshot)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		o.snapshotFailed(ctx, err)
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.frame = frame
	o.ready = true
	o.failures = 0
	if o.banner != nil && o.banner.Kind == KindResource {
		o.banner = nil
	}
	o.mu.Unlock()

	o.stall.FrameReceived()
	o.publish()
}

func (o *Orchestrator) snapshotFailed(ctx context.Context, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.ready = false
	o.failures++
	failures := o.failures
	o.banner = &Banner{Kind: KindResource, Message: "Failed to load camera stream", At: o.cfg.Now()}
	o.mu.Unlock()

	o.logger.Warn("capture: snapshot failed", "error", err, "consecutive", failures)
	o.publish()

	if _, err := o.backend.CameraStart(ctx); err != nil && ctx.Err() == nil {
		o.logger.Warn("capture: camera start failed", "error", err)
	}
	o.scheduleErrorClear()
}

// ensureCamera starts the camera when the backend reports it is not running.
func (o *Orchestrator) ensureCamera(ctx context.Context) {
	st, err := o.backend.CameraStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("capture: camera status check failed", "error", err)
		}
		return
	}
	if st.Running() {
		return
	}
	o.logger.Info("capture: camera not running, starting")
	if _, err := o.backend.CameraStart(ctx); err != nil && ctx.Err() == nil {
		o.logger.Warn("capture: camera start failed", "error", err)
	}
	o.scheduleErrorClear()
}

// scheduleErrorClear hides the resource banner after a recovery action
// unless a clear is already pending.
func (o *Orchestrator) scheduleErrorClear() {
	o.clearTimer.Arm(o.cfg.ErrorClearDelay, func() {
		o.mu.Lock()
		cleared := o.banner != nil && o.banner.Kind == KindResource
		if cleared {
			o.banner = nil
		}
		o.mu.Unlock()
		if cleared {
			o.publish()
		}
	})
}

// detectTick scores the latest frame for the current slot and captures on
// the first good reading.
func (o *Orchestrator) detectTick(ctx context.Context) {
	o.mu.Lock()
	if o.closed || !o.ready || o.frame == nil || o.phase != PhaseCapturing || o.session.Complete() {
		o.mu.Unlock()
		return
	}
	frame := o.frame
	slot := o.session.Current()
	o.mu.Unlock()

	if !o.checking.CompareAndSwap(false, true) {
		return
	}
	defer o.checking.Store(false)

	res := o.detect(ctx, frame, slot.ID)
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if o.closed || o.session.Current().ID != slot.ID {
		o.mu.Unlock()
		return
	}
	o.quality = res
	validated := o.session.IsValidated(slot.ID)
	o.mu.Unlock()
	o.publish()

	if res.Good() && !validated {
		o.confirm(ctx, frame, slot)
	}
}

// detect runs one lenient quality check. A timeout is a soft failure; an
// unavailable quality service lets the strict confirmation decide.
func (o *Orchestrator) detect(ctx context.Context, frame []byte, angle string) *gateway.QualityResult {
	dctx, cancel := context.WithTimeout(ctx, o.cfg.DetectTimeout)
	defer cancel()

	res, err := o.backend.DetectFaceQuality(dctx, frame, angle)
	switch {
	case err == nil && res != nil:
		return res
	case err == nil:
		return &gateway.QualityResult{Quality: gateway.QualityPoor, Message: "Failed to validate frame"}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return &gateway.QualityResult{Quality: gateway.QualityPoor, Message: "Detection timeout"}
	}

	var se *gateway.StatusError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = "Face detected (validation unavailable)"
		}
		return &gateway.QualityResult{Detected: true, Quality: gateway.QualityGood, Message: msg}
	}
	o.logger.Debug("capture: quality check unreachable", "error", err)
	return &gateway.QualityResult{Detected: true, Quality: gateway.QualityGood, Message: "Face detected"}
}

// confirm re-checks the exact frame that passed detection and commits it
// as the validated capture for slot only on a strict good result.
func (o *Orchestrator) confirm(ctx context.Context, frame []byte, slot Slot) {
	o.attempts.Add(1)

	vctx, cancel := context.WithTimeout(ctx, o.cfg.DetectTimeout)
	res, err := o.backend.DetectFaceQuality(vctx, frame, slot.ID)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil || !res.Good() {
		msg := "Face not clear. Please try again."
		if err == nil && res != nil && res.Message != "" {
			msg = res.Message
		}
		o.logger.Debug("capture: confirmation rejected", "slot", slot.ID, "message", msg, "error", err)
		return
	}

	preview, perr := Thumbnail(frame, o.cfg.PreviewSize)
	if perr != nil {
		o.logger.Debug("capture: no preview for frame", "slot", slot.ID, "error", perr)
	}

	o.mu.Lock()
	if o.closed || o.phase != PhaseCapturing || o.session.IsValidated(slot.ID) {
		o.mu.Unlock()
		return
	}
	if err := o.session.Commit(&Frame{
		Slot:       slot.ID,
		Data:       frame,
		Preview:    preview,
		CapturedAt: o.cfg.Now(),
		Validated:  true,
	}); err != nil {
		o.mu.Unlock()
		o.logger.Error("capture: commit failed", "slot", slot.ID, "error", err)
		return
	}
	o.boost = 0
	o.quality = nil
	o.session.Advance()
	validated := o.session.ValidatedCount()
	complete := o.session.Complete()
	if complete {
		o.phase = PhaseComplete
	}
	o.mu.Unlock()

	o.logger.Info("capture: slot validated", "slot", slot.ID, "validated", validated, "required", len(o.cfg.Slots))
	o.publish()
	if complete {
		o.scheduleSubmit()
	}
}

// CaptureNow captures the current slot from the latest frame if the last
// quality reading was good. It shares the quality-check guard with the
// detection loop.
func (o *Orchestrator) CaptureNow(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrSessionClosed
	}
	if !o.ready || o.frame == nil || o.phase != PhaseCapturing || !o.quality.Good() {
		o.mu.Unlock()
		return ErrNotReady
	}
	frame := o.frame
	slot := o.session.Current()
	o.mu.Unlock()

	if !o.checking.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.checking.Store(false)

	ctx, stop := mergeCancel(ctx, o.ctx)
	defer stop()
	o.confirm(ctx, frame, slot)
	return nil
}

// boostTick animates the encouragement share of the progress ring. It is
// cosmetic and resets whenever the current slot is validated or the
// camera is not ready.
func (o *Orchestrator) boostTick() {
	o.mu.Lock()
	step := 100 / float64(len(o.cfg.Slots))
	prev := o.boost
	if !o.ready || o.phase != PhaseCapturing || o.session.IsValidated(o.session.Current().ID) {
		o.boost = 0
	} else {
		o.boost = min(step*constants.BoostMaxFraction, o.boost+step*constants.BoostStepFraction)
	}
	changed := o.boost != prev
	o.mu.Unlock()

	if changed {
		o.publish()
	}
}

// SetIdentity changes the identity the session registers under. Frames
// already captured are kept; a complete session re-arms auto-submit.
func (o *Orchestrator) SetIdentity(identity string) {
	o.mu.Lock()
	o.session.SetIdentity(identity)
	phase := o.phase
	hasIdentity := o.session.Identity() != ""
	o.mu.Unlock()

	if !hasIdentity {
		o.submitTimer.Stop()
	} else if phase == PhaseComplete || phase == PhaseSubmitFailed {
		o.scheduleSubmit()
	}
	o.publish()
}

func (o *Orchestrator) scheduleSubmit() {
	o.mu.Lock()
	ok := !o.closed && o.session.Identity() != "" && (o.phase == PhaseComplete || o.phase == PhaseSubmitFailed)
	o.mu.Unlock()
	if !ok {
		return
	}
	o.submitTimer.Reset(o.cfg.SubmitDelay, func() {
		if err := o.Submit(o.ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			o.logger.Warn("capture: auto-submit failed", "error", err)
		}
	})
}

// Submit registers every validated frame under the session identity. On
// failure the frames are kept so Submit can be retried without capturing
// again.
func (o *Orchestrator) Submit(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.closed || o.phase == PhaseSubmitted:
		o.mu.Unlock()
		return ErrSessionClosed
	case o.phase == PhaseSubmitting:
		o.mu.Unlock()
		return ErrSubmitInProgress
	case !o.session.Complete():
		missing := o.session.Missing()
		o.mu.Unlock()
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	case o.session.Identity() == "":
		o.mu.Unlock()
		return ErrNoIdentity
	}

	identity := o.session.Identity()
	req := gateway.RegisterRequest{Name: identity}
	for _, f := range o.session.ValidatedFrames() {
		req.Images = append(req.Images, gateway.RegisterImage{Angle: f.Slot, Data: f.Data})
	}
	o.phase = PhaseSubmitting
	o.submitErr = ""
	o.mu.Unlock()

	o.submitTimer.Stop()
	o.publish()
	o.logger.Info("capture: submitting registration", "identity", identity, "images", len(req.Images))

	ctx, stop := mergeCancel(ctx, o.ctx)
	defer stop()
	res, err := o.backend.RegisterFace(ctx, req)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		msg := gateway.ErrorMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		o.phase = PhaseSubmitFailed
		o.submitErr = msg
		o.banner = &Banner{Kind: KindTerminal, Message: msg, At: o.cfg.Now()}
		o.mu.Unlock()
		o.logger.Error("capture: registration failed", "identity", identity, "error", err)
		o.publish()
		return fmt.Errorf("submit registration: %w", err)
	}

	result := Result{Identity: identity, ProfilePhoto: res.ProfilePhoto, Message: res.Message}
	o.phase = PhaseSubmitted
	o.result = &result
	o.banner = nil
	o.session.Release()
	o.frame = nil
	o.quality = nil
	o.mu.Unlock()

	o.logger.Info("capture: registration submitted", "identity", identity, "profile_photo", result.ProfilePhoto)
	o.stopLoops()
	o.publish()
	if o.onSubmitted != nil {
		o.onSubmitted(result)
	}
	return nil
}

// ResetSlot discards the frame of one slot so it is captured again.
func (o *Orchestrator) ResetSlot(slotID string) error {
	o.mu.Lock()
	if o.closed || o.phase == PhaseSubmitted {
		o.mu.Unlock()
		return ErrSessionClosed
	}
	if o.phase == PhaseSubmitting {
		o.mu.Unlock()
		return ErrSubmitInProgress
	}
	if err := o.session.Reset(slotID); err != nil {
		o.mu.Unlock()
		return err
	}
	o.phase = PhaseCapturing
	o.submitErr = ""
	if o.banner != nil && o.banner.Kind == KindTerminal {
		o.banner = nil
	}
	o.session.Advance()
	o.mu.Unlock()

	o.submitTimer.Stop()
	o.logger.Info("capture: slot reset", "slot", slotID)
	o.publish()
	return nil
}

// DismissError hides the current banner.
func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	o.banner = nil
	o.mu.Unlock()
	o.publish()
}

// Subscribe returns a channel of progress snapshots. The returned function
// unsubscribes.
func (o *Orchestrator) Subscribe() (<-chan Progress, func()) {
	ch := o.updates.AddListener()
	return ch, func() { o.updates.RemoveListener(ch) }
}

func (o *Orchestrator) publish() {
	o.updates.Send(o.Progress())
}

// QualityChecks returns how many confirmation checks auto-capture issued.
func (o *Orchestrator) QualityChecks() uint64 {
	return o.attempts.Load()
}

// mergeCancel returns a context derived from ctx that is also cancelled
// when parent is done.
func mergeCancel(ctx, parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
