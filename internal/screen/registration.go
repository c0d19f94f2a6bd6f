package screen

import (
	"sync"

	"github.com/kozaktomas/punchclock/internal/capture"
)

// RegistrationConfig wires a registration screen.
type RegistrationConfig struct {
	Capture capture.Config
	// Owner names the session in the camera lock.
	Owner string
	// OnSubmitted is called once after a successful registration.
	OnSubmitted func(capture.Result)
}

// Registration is the guided capture screen. It holds the camera lock from
// construction until the session is submitted or closed.
type Registration struct {
	*capture.Orchestrator

	lock  *CameraLock
	owner string
	once  sync.Once
}

// NewRegistration takes the camera lock and creates a stopped capture
// session. It fails with ErrCameraBusy while another screen owns the
// camera.
func NewRegistration(backend capture.Backend, lock *CameraLock, cfg RegistrationConfig) (*Registration, error) {
	owner := cfg.Owner
	if owner == "" {
		owner = "registration"
	}
	if err := lock.Acquire(owner); err != nil {
		return nil, err
	}

	r := &Registration{
		Orchestrator: capture.New(backend, cfg.Capture),
		lock:         lock,
		owner:        owner,
	}
	r.Orchestrator.OnSubmitted(func(res capture.Result) {
		r.release()
		if cfg.OnSubmitted != nil {
			cfg.OnSubmitted(res)
		}
	})
	return r, nil
}

// Owner returns the camera lock owner name of this session.
func (r *Registration) Owner() string {
	return r.owner
}

// Close cancels the session and releases the camera. Safe to call multiple
// times.
func (r *Registration) Close() {
	r.Orchestrator.Close()
	r.release()
}

func (r *Registration) release() {
	r.once.Do(func() { r.lock.Release(r.owner) })
}
