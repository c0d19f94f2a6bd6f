package handlers

import (
	"testing"

	"github.com/kozaktomas/punchclock/internal/capture"
	"github.com/kozaktomas/punchclock/internal/screen"
)

func newTestRegistration(t *testing.T, lock *screen.CameraLock, owner string) *screen.Registration {
	t.Helper()
	_, client := setupMockDevice(t, nil)
	reg, err := screen.NewRegistration(client, lock, screen.RegistrationConfig{Owner: owner})
	if err != nil {
		t.Fatalf("NewRegistration: %v", err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func TestSessionManager_AddGetDelete(t *testing.T) {
	m := NewSessionManager()
	var lock screen.CameraLock
	reg := newTestRegistration(t, &lock, "capture-a")

	session := m.Add("a", reg)
	if session.ID != "a" || session.CreatedAt.IsZero() {
		t.Errorf("unexpected session %+v", session)
	}
	if m.Get("a") != session {
		t.Error("expected Get to return the added session")
	}
	if m.Get("b") != nil {
		t.Error("expected nil for unknown session")
	}

	if m.Delete("a") != session {
		t.Error("expected Delete to return the removed session")
	}
	if m.Delete("a") != nil {
		t.Error("expected nil on second delete")
	}
	if lock.Owner() != "capture-a" {
		t.Error("Delete must not close the session")
	}
}

func TestSessionManager_ListOrder(t *testing.T) {
	m := NewSessionManager()
	var lockA, lockB screen.CameraLock
	first := m.Add("z", newTestRegistration(t, &lockA, "capture-z"))
	second := m.Add("a", newTestRegistration(t, &lockB, "capture-a"))
	second.CreatedAt = first.CreatedAt.Add(1)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != "z" || list[1].ID != "a" {
		t.Errorf("expected oldest first, got %s, %s", list[0].ID, list[1].ID)
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	m := NewSessionManager()
	var lock screen.CameraLock
	session := m.Add("a", newTestRegistration(t, &lock, "capture-a"))

	m.CloseAll()

	if len(m.List()) != 0 {
		t.Error("expected no sessions after CloseAll")
	}
	if lock.Owner() != "" {
		t.Errorf("expected camera released, owner is %q", lock.Owner())
	}
	if session.View().Phase != capture.PhaseCancelled {
		t.Errorf("expected cancelled session, got %s", session.View().Phase)
	}
}
