package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/punchclock/internal/capture"
	"github.com/kozaktomas/punchclock/internal/screen"
)

// CaptureHandler manages guided registration sessions.
type CaptureHandler struct {
	backend  capture.Backend
	lock     *screen.CameraLock
	cfg      capture.Config
	sessions *SessionManager
}

// NewCaptureHandler creates a capture handler. Sessions share lock with the
// live monitor.
func NewCaptureHandler(backend capture.Backend, lock *screen.CameraLock, cfg capture.Config, sessions *SessionManager) *CaptureHandler {
	return &CaptureHandler{
		backend:  backend,
		lock:     lock,
		cfg:      cfg,
		sessions: sessions,
	}
}

type identityRequest struct {
	Identity string `json:"identity"`
}

// List returns every capture session.
func (h *CaptureHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	views := make([]CaptureView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	respondJSON(w, http.StatusOK, views)
}

// Create opens a capture session and starts it. It fails with 409 while
// another screen owns the camera.
func (h *CaptureHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	id := uuid.NewString()
	reg, err := screen.NewRegistration(h.backend, h.lock, screen.RegistrationConfig{
		Capture: h.cfg,
		Owner:   "capture-" + id,
	})
	if errors.Is(err, screen.ErrCameraBusy) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reg.SetIdentity(req.Identity)
	reg.Start()
	session := h.sessions.Add(id, reg)
	slog.Info("web: capture session created", "id", id, "identity", sanitizeForLog(req.Identity))

	respondJSON(w, http.StatusCreated, session.View())
}

// Get returns the progress of one session.
func (h *CaptureHandler) Get(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}

// Events streams session progress until the session ends.
func (h *CaptureHandler) Events(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()
	streamSSE(w, r, "progress", session.Progress(), updates, func(p capture.Progress) bool {
		return p.Phase == capture.PhaseSubmitted || p.Phase == capture.PhaseCancelled
	})
}

// SetIdentity changes the identity the session registers under.
func (h *CaptureHandler) SetIdentity(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	var req identityRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	session.SetIdentity(req.Identity)
	respondJSON(w, http.StatusOK, session.View())
}

// Submit registers the captured frames now instead of waiting for
// auto-submit. It is also the retry after a failed submission.
func (h *CaptureHandler) Submit(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	if err := session.Submit(r.Context()); err != nil {
		h.respondCaptureError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}

// CaptureNow captures the current angle from the latest frame without
// waiting for the next detection tick. It fails with 409 unless the last
// quality reading was good.
func (h *CaptureHandler) CaptureNow(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	if err := session.CaptureNow(r.Context()); err != nil {
		h.respondCaptureError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}

// ResetSlot discards one captured angle so it is captured again.
func (h *CaptureHandler) ResetSlot(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	if err := session.ResetSlot(chi.URLParam(r, "slot")); err != nil {
		h.respondCaptureError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session.View())
}

// DismissError hides the session's error banner.
func (h *CaptureHandler) DismissError(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	session.DismissError()
	respondJSON(w, http.StatusOK, session.View())
}

// Cancel closes the session and releases the camera.
func (h *CaptureHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Delete(chi.URLParam(r, "id"))
	if session == nil {
		respondError(w, http.StatusNotFound, "capture session not found")
		return
	}
	session.Close()
	slog.Info("web: capture session cancelled", "id", session.ID)
	respondJSON(w, http.StatusOK, session.View())
}

func (h *CaptureHandler) lookup(w http.ResponseWriter, r *http.Request) *CaptureSession {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil
	}
	session := h.sessions.Get(id)
	if session == nil {
		respondError(w, http.StatusNotFound, "capture session not found")
		return nil
	}
	return session
}

func (h *CaptureHandler) respondCaptureError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrUnknownSlot):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, capture.ErrIncomplete), errors.Is(err, capture.ErrNoIdentity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrSubmitInProgress), errors.Is(err, capture.ErrSessionClosed),
		errors.Is(err, capture.ErrNotReady), errors.Is(err, capture.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}
