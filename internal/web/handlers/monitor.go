package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kozaktomas/punchclock/internal/screen"
)

// MonitorHandler exposes the live monitor screen.
type MonitorHandler struct {
	monitor *screen.Monitor
}

// NewMonitorHandler creates a handler for monitor.
func NewMonitorHandler(monitor *screen.Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

// Get returns the monitor snapshot: camera, connection, overlay and stats.
func (h *MonitorHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.monitor.State())
}

// Events streams monitor snapshots as server-sent events.
func (h *MonitorHandler) Events(w http.ResponseWriter, r *http.Request) {
	updates, unsubscribe := h.monitor.Subscribe()
	defer unsubscribe()
	streamSSE(w, r, "state", h.monitor.State(), updates, nil)
}

// Frame returns the latest camera frame.
func (h *MonitorHandler) Frame(w http.ResponseWriter, r *http.Request) {
	frame, at := h.monitor.LatestFrame()
	if len(frame) == 0 {
		respondError(w, http.StatusServiceUnavailable, "no camera frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Time", strconv.FormatInt(at.UnixMilli(), 10))
	w.WriteHeader(http.StatusOK)
	w.Write(frame)
}

// StartCamera starts the camera after a backend health check.
func (h *MonitorHandler) StartCamera(w http.ResponseWriter, r *http.Request) {
	h.cameraAction(w, h.monitor.StartCamera(r.Context()), "start")
}

// StopCamera stops the camera.
func (h *MonitorHandler) StopCamera(w http.ResponseWriter, r *http.Request) {
	h.cameraAction(w, h.monitor.StopCamera(r.Context()), "stop")
}

// RestartCamera stops the camera and starts it again after a short delay.
func (h *MonitorHandler) RestartCamera(w http.ResponseWriter, r *http.Request) {
	h.cameraAction(w, h.monitor.RestartCamera(r.Context()), "restart")
}

// DismissError hides the overlay error banner.
func (h *MonitorHandler) DismissError(w http.ResponseWriter, r *http.Request) {
	h.monitor.Overlay().DismissError()
	respondJSON(w, http.StatusOK, h.monitor.State())
}

func (h *MonitorHandler) cameraAction(w http.ResponseWriter, err error, action string) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, h.monitor.State())
	case errors.Is(err, screen.ErrCameraBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, screen.ErrMonitorClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Warn("web: camera action failed", "action", action, "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
	}
}
