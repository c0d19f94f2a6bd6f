// Package watchdog supervises a frame source for staleness. When no frame
// has arrived within the stale window it bumps a version token, which the
// owner embeds in the source address to force a fresh reload.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/punchclock/internal/schedule"
)

// ReloadFunc is called with the new version token after every reload.
type ReloadFunc func(version int64, reason string)

// Config tunes a Watchdog.
type Config struct {
	Name       string
	Interval   time.Duration
	StaleAfter time.Duration
	// ReloadDelay is how long FrameFailed waits before reloading.
	ReloadDelay time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "stream"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Second
	}
	if c.ReloadDelay <= 0 {
		c.ReloadDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Watchdog tracks the last frame time of one source. It is armed by a frame
// or by activation and disarms itself after each reload, so a dead source
// is reloaded once per frame that arrived, not in a loop.
type Watchdog struct {
	cfg      Config
	logger   *slog.Logger
	onReload ReloadFunc

	mu        sync.Mutex
	active    bool
	armed     bool
	lastFrame time.Time
	version   int64
	reloads   int

	loop  *schedule.Loop
	retry schedule.Timer
}

// New creates an inactive watchdog. onReload may be nil.
func New(cfg Config, onReload ReloadFunc) *Watchdog {
	cfg.defaults()
	w := &Watchdog{
		cfg:      cfg,
		logger:   cfg.Logger,
		onReload: onReload,
		version:  cfg.Now().UnixMilli(),
	}
	w.loop = schedule.NewLoop(cfg.Name+"-watchdog", cfg.Interval, func(context.Context) { w.Check() }, cfg.Logger)
	return w
}

// Start runs the periodic check until ctx is done or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	w.loop.Start(ctx, false)
}

// Stop halts the periodic check and any pending delayed reload.
func (w *Watchdog) Stop() {
	w.loop.Stop()
	w.retry.Stop()
}

// SetActive enables or disables supervision. Activation arms the watchdog
// as if a frame had just arrived; deactivation cancels a pending reload.
func (w *Watchdog) SetActive(active bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == active {
		return
	}
	w.active = active
	if active {
		w.armed = true
		w.lastFrame = w.cfg.Now()
		return
	}
	w.armed = false
	w.retry.Stop()
}

// FrameReceived records a frame and re-arms the watchdog.
func (w *Watchdog) FrameReceived() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastFrame = w.cfg.Now()
	w.armed = true
}

// FrameFailed schedules a reload after the reload delay. Repeated failures
// before it fires collapse into one reload.
func (w *Watchdog) FrameFailed() {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if !active {
		return
	}
	w.retry.Reset(w.cfg.ReloadDelay, func() {
		w.mu.Lock()
		if !w.active {
			w.mu.Unlock()
			return
		}
		version := w.bumpLocked()
		w.mu.Unlock()
		w.notify(version, "frame error")
	})
}

// Check reloads the source if it is active, armed and stale. It reports
// whether a reload happened.
func (w *Watchdog) Check() bool {
	w.mu.Lock()
	if !w.active || !w.armed {
		w.mu.Unlock()
		return false
	}
	age := w.cfg.Now().Sub(w.lastFrame)
	if age <= w.cfg.StaleAfter {
		w.mu.Unlock()
		return false
	}
	version := w.bumpLocked()
	w.mu.Unlock()

	w.logger.Warn("watchdog: source stale, reloading", "source", w.cfg.Name, "age", age.Round(time.Millisecond))
	w.notify(version, "stale")
	return true
}

func (w *Watchdog) bumpLocked() int64 {
	w.version++
	w.reloads++
	w.armed = false
	w.retry.Stop()
	return w.version
}

func (w *Watchdog) notify(version int64, reason string) {
	if w.onReload != nil {
		w.onReload(version, reason)
	}
}

// Version is the current cache-busting token.
func (w *Watchdog) Version() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// Reloads returns how many reloads have been triggered.
func (w *Watchdog) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// LastFrame returns when the last frame arrived.
func (w *Watchdog) LastFrame() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFrame
}

// Active reports whether supervision is enabled.
func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
