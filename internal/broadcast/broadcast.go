// Package broadcast fans values out to a dynamic set of buffered listeners.
package broadcast

import (
	"sync"

	"github.com/kozaktomas/punchclock/internal/constants"
)

// Broadcaster provides listener management and non-blocking fan-out.
// The zero value is ready to use.
type Broadcaster[T any] struct {
	listeners []chan T
	closed    bool
	mu        sync.RWMutex
}

// AddListener adds a listener. A listener added after Close receives a
// closed channel.
func (b *Broadcaster[T]) AddListener() chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes a listener and closes its channel.
func (b *Broadcaster[T]) RemoveListener(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Send delivers v to every listener. Slow listeners miss values instead of
// blocking the sender.
func (b *Broadcaster[T]) Send(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- v:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close closes every listener channel. Safe to call more than once.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
}
