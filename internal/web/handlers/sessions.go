package handlers

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/punchclock/internal/capture"
	"github.com/kozaktomas/punchclock/internal/screen"
)

// CaptureSession is a registration screen opened through the API.
type CaptureSession struct {
	*screen.Registration

	ID        string
	CreatedAt time.Time
}

// CaptureView is the JSON form of a capture session.
type CaptureView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	capture.Progress
}

// View returns the current session state.
func (s *CaptureSession) View() CaptureView {
	return CaptureView{ID: s.ID, CreatedAt: s.CreatedAt, Progress: s.Progress()}
}

// SessionManager tracks capture sessions by id.
type SessionManager struct {
	sessions map[string]*CaptureSession
	mu       sync.RWMutex
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*CaptureSession),
	}
}

// Add registers a running registration under id.
func (m *SessionManager) Add(id string, reg *screen.Registration) *CaptureSession {
	session := &CaptureSession{
		Registration: reg,
		ID:           id,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	return session
}

// Get retrieves a session by id.
func (m *SessionManager) Get(id string) *CaptureSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Delete removes a session and returns it, or nil if unknown.
func (m *SessionManager) Delete(id string) *CaptureSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[id]
	delete(m.sessions, id)
	return session
}

// List returns all sessions, oldest first.
func (m *SessionManager) List() []*CaptureSession {
	m.mu.RLock()
	sessions := make([]*CaptureSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *CaptureSession) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sessions
}

// CloseAll cancels and removes every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*CaptureSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
