// Package stream keeps one live subscription to the recognition event feed,
// reconnecting after transport failures with a fixed delay and a bounded
// number of attempts.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/punchclock/internal/broadcast"
	"github.com/kozaktomas/punchclock/internal/constants"
	"github.com/kozaktomas/punchclock/internal/events"
	"github.com/kozaktomas/punchclock/internal/schedule"
)

// ErrMaxAttempts is reported in Status.Err once the reconnect budget is spent.
var ErrMaxAttempts = errors.New("maximum reconnect attempts reached")

// State is the connection state of a Manager.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Disconnected, Connecting, Connected, Error} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stream state %q", b)
}

// Status is a snapshot of the connection.
type Status struct {
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	Err      string `json:"error,omitempty"`
}

// Opener opens the raw event-stream body. *gateway.Client implements it.
type Opener interface {
	OpenRecognitionStream(ctx context.Context) (io.ReadCloser, error)
}

// Config tunes reconnection and history.
type Config struct {
	ReconnectDelay time.Duration
	MaxAttempts    int
	History        int
	Logger         *slog.Logger
	// Now is the receive clock for events without a timestamp.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 9999
	}
	if c.History <= 0 {
		c.History = constants.RecentEventHistory
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Manager owns at most one logical subscription to the event feed.
type Manager struct {
	opener Opener
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  string
	desired  bool
	gen      uint64
	cancel   context.CancelFunc
	history  []events.Event
	received uint64
	dropped  uint64

	reconnect schedule.Timer
	wg        sync.WaitGroup

	events   broadcast.Broadcaster[events.Event]
	statuses broadcast.Broadcaster[Status]
}

// New creates a disconnected manager.
func New(opener Opener, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		opener: opener,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Connect opens the subscription and resets the attempt counter. Calling
// it while a subscription is open or being opened keeps that one.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.desired = true
	m.attempts = 0
	m.reconnect.Stop()
	if m.cancel != nil && (m.state == Connecting || m.state == Connected) {
		return
	}
	m.dialLocked()
}

// Disconnect tears the subscription down and cancels any pending
// reconnect. Safe to call multiple times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.desired = false
	m.gen++
	m.reconnect.Stop()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.lastErr = ""
	m.setStateLocked(Disconnected)
}

// Close disconnects, waits for the reader goroutine and closes every
// subscriber channel.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
	m.events.Close()
	m.statuses.Close()
}

func (m *Manager) dialLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(Connecting)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, gen)
	}()
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	body, err := m.opener.OpenRecognitionStream(ctx)
	if err != nil {
		m.fail(gen, err)
		return
	}
	defer body.Close()

	// Closing the body unblocks the reader on Disconnect.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	if !m.opened(gen) {
		return
	}

	err = readEvents(body, func(data []byte) { m.handle(gen, data) })
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	m.fail(gen, err)
}

func (m *Manager) opened(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.attempts = 0
	m.lastErr = ""
	m.setStateLocked(Connected)
	m.logger.Info("stream: connected")
	return true
}

func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.desired {
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.lastErr = err.Error()
	if m.attempts >= m.cfg.MaxAttempts {
		m.lastErr = ErrMaxAttempts.Error()
		m.setStateLocked(Error)
		m.logger.Error("stream: giving up", "attempts", m.attempts, "error", err)
		return
	}

	m.attempts++
	m.setStateLocked(Error)
	m.logger.Warn("stream: connection lost, reconnect scheduled",
		"error", err, "attempt", m.attempts, "max", m.cfg.MaxAttempts, "delay", m.cfg.ReconnectDelay)

	m.reconnect.Reset(m.cfg.ReconnectDelay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.desired || gen != m.gen {
		return
	}
	m.dialLocked()
}

func (m *Manager) handle(gen uint64, data []byte) {
	ev, err := events.Decode(data, m.cfg.Now())
	if err != nil {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		if errors.Is(err, events.ErrUnknownKind) {
			m.logger.Debug("stream: ignoring event", "error", err)
		} else {
			m.logger.Warn("stream: dropping malformed event", "error", err, "size", len(data))
		}
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.received++
	m.history = append(m.history, ev)
	if over := len(m.history) - m.cfg.History; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.mu.Unlock()

	m.events.Send(ev)
}

func (m *Manager) setStateLocked(s State) {
	changed := m.state != s
	m.state = s
	if changed {
		m.logger.Debug("stream: state changed", "state", s, "attempts", m.attempts)
	}
	m.statuses.Send(m.statusLocked())
}

func (m *Manager) statusLocked() Status {
	return Status{State: m.state, Attempts: m.attempts, Err: m.lastErr}
}

// Status returns the current connection state and attempt counter.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnects scheduled since the last
// successful open or explicit Connect.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Recent returns the trailing window of received events, oldest first.
func (m *Manager) Recent() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.history...)
}

// Counts returns how many events were delivered and dropped.
func (m *Manager) Counts() (received, dropped uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.dropped
}

// Events subscribes to decoded events. The returned function unsubscribes.
func (m *Manager) Events() (<-chan events.Event, func()) {
	ch := m.events.AddListener()
	return ch, func() { m.events.RemoveListener(ch) }
}

// Statuses subscribes to connection status changes.
func (m *Manager) Statuses() (<-chan Status, func()) {
	ch := m.statuses.AddListener()
	return ch, func() { m.statuses.RemoveListener(ch) }
}
