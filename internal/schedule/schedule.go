// Package schedule provides the two timing primitives the realtime screens
// are built from: fixed-interval loops that skip (never queue) a tick while
// the previous one is still running, and cancellable one-shot timers where
// a newer arm supersedes the pending one.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one tick of a Loop. It must return promptly once ctx is done.
type Task func(ctx context.Context)

// Loop runs a Task at a fixed interval. Each tick runs on its own goroutine;
// a tick that fires while the previous one is still in flight is dropped.
type Loop struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	busy    atomic.Bool
	ticks   atomic.Uint64
	skipped atomic.Uint64
}

// NewLoop creates a stopped loop.
func NewLoop(name string, interval time.Duration, task Task, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{name: name, interval: interval, task: task, logger: logger}
}

// Start begins ticking until ctx is done or Stop is called. With immediate
// set the first tick runs right away instead of after one interval.
// Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context, immediate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go l.run(ctx, done, immediate)
	l.logger.Debug("schedule: loop started", "loop", l.name, "interval", l.interval)
}

func (l *Loop) run(ctx context.Context, done chan struct{}, immediate bool) {
	defer close(done)

	if immediate {
		l.fire(ctx)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.fire(ctx)
		}
	}
}

func (l *Loop) fire(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		return
	}
	go func() {
		defer l.busy.Store(false)
		if ctx.Err() != nil {
			return
		}
		l.ticks.Add(1)
		l.task(ctx)
	}()
}

// Stop cancels the loop. A tick that is still in flight sees its context
// cancelled; Stop does not wait for it, so a Task may stop its own loop.
// Safe to call multiple times.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Debug("schedule: loop stopped", "loop", l.name,
		"ticks", l.ticks.Load(), "skipped", l.skipped.Load())
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Ticks returns how many ticks have run.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Skipped returns how many ticks were dropped because one was in flight.
func (l *Loop) Skipped() uint64 {
	return l.skipped.Load()
}

// Timer is a one-shot delayed action. The zero value is ready to use.
type Timer struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

// Reset arms the timer to call fn after d. A pending call is cancelled.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armLocked(d, fn)
}

// Arm is Reset that leaves an already pending call in place.
// It reports whether a new call was armed.
func (t *Timer) Arm(d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		return false
	}
	t.armLocked(d, fn)
	return true
}

func (t *Timer) armLocked(d time.Duration, fn func()) {
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		// time.Timer.Stop cannot recall a callback that already started
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.t = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels a pending call. It reports whether one was pending.
// Safe to call multiple times.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t == nil {
		return false
	}
	t.t.Stop()
	t.t = nil
	t.gen++
	return true
}

// Pending reports whether a call is armed and has not fired yet.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil
}
