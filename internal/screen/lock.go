// Package screen composes the realtime components into the two operator
// screens: live monitoring and guided registration. Each screen is
// constructed explicitly, owns its loops and timers, and releases them on
// Close. Only one screen drives the camera at a time.
package screen

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCameraBusy is returned when another screen owns the camera.
var ErrCameraBusy = errors.New("camera is in use by another screen")

// CameraLock grants exclusive camera ownership to one named screen.
// The zero value is unlocked.
type CameraLock struct {
	mu    sync.Mutex
	owner string
}

// Acquire takes the camera for owner. Re-acquiring by the current owner
// succeeds.
func (l *CameraLock) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" && l.owner != owner {
		return fmt.Errorf("%w: held by %s", ErrCameraBusy, l.owner)
	}
	l.owner = owner
	return nil
}

// Release gives the camera up if owner holds it.
func (l *CameraLock) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
}

// Owner returns the current owner, or "" when the camera is free.
func (l *CameraLock) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}
