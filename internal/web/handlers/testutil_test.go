package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/punchclock/internal/gateway"
)

// mockDevice counts calls made against the mock recognition backend.
type mockDevice struct {
	healthy   atomic.Bool
	starts    atomic.Int32
	stops     atomic.Int32
	snapshots atomic.Int32
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

// setupMockDevice creates a mock recognition backend. Snapshots always fail
// so capture sessions stay in their first slot. Entries in overrides replace
// the default handler for the same pattern.
func setupMockDevice(t *testing.T, overrides map[string]http.HandlerFunc) (*mockDevice, *gateway.Client) {
	t.Helper()
	d := &mockDevice{}
	d.healthy.Store(true)

	routes := map[string]http.HandlerFunc{
		"/api/health": func(w http.ResponseWriter, r *http.Request) {
			if d.healthy.Load() {
				writeJSON(w, `{"status":"healthy"}`)
				return
			}
			writeJSON(w, `{"status":"degraded"}`)
		},
		"/api/camera/start": func(w http.ResponseWriter, r *http.Request) {
			d.starts.Add(1)
			writeJSON(w, `{"success":true,"message":"Camera started"}`)
		},
		"/api/camera/stop": func(w http.ResponseWriter, r *http.Request) {
			d.stops.Add(1)
			writeJSON(w, `{"success":true,"message":"Camera stopped"}`)
		},
		"/api/camera/status": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"active":true}`)
		},
		"/api/camera/snapshot": func(w http.ResponseWriter, r *http.Request) {
			d.snapshots.Add(1)
			http.Error(w, `{"error":"no frame"}`, http.StatusServiceUnavailable)
		},
		"/api/employees": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"employees":[{"id":7,"name":"Ada"}],"count":1}`)
		},
		"/api/attendance": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"attendance":[],"count":0}`)
		},
		"/api/system/attendance-settings": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"duplicatePunchIntervalSec":30}`)
		},
		"/api/recognition/stream": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"connection\"}\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		},
		"/api/camera/stream": func(w http.ResponseWriter, r *http.Request) {
			mw := multipart.NewWriter(w)
			_ = mw.SetBoundary("frame")
			w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
			h := make(textproto.MIMEHeader)
			h.Set("Content-Type", "image/jpeg")
			part, _ := mw.CreatePart(h)
			part.Write([]byte("jpeg"))
			_, _ = mw.CreatePart(h)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		},
	}
	for pattern, handler := range overrides {
		routes[pattern] = handler
	}

	mux := http.NewServeMux()
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := gateway.New(server.URL+"/api", time.Second)
	if err != nil {
		t.Fatalf("failed to create gateway client: %v", err)
	}
	return d, client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
