package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyFrame is returned when the backend answers a snapshot request
// with an empty body.
var ErrEmptyFrame = errors.New("empty frame")

// Health is the backend health report.
type Health struct {
	Status             string `json:"status"`
	Timestamp          string `json:"timestamp"`
	LoadedFaces        int    `json:"loaded_faces"`
	Platform           string `json:"platform"`
	EventSourceClients int    `json:"event_source_clients"`
	CameraActive       bool   `json:"camera_active"`
}

// Healthy reports whether the backend considers itself operational.
func (h *Health) Healthy() bool {
	return h != nil && (h.Status == "healthy" || h.Status == "ok")
}

// Health checks the backend. A non-2xx response is returned as an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	h, err := doGetJSON[Health](ctx, c, "health")
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return h, nil
}

// CameraAction is the response to camera start and stop requests. Success
// is false when the camera was already in the requested state.
type CameraAction struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CameraStart asks the backend to start the camera and recognition
// pipeline. Starting a running camera is not an error.
func (c *Client) CameraStart(ctx context.Context) (*CameraAction, error) {
	res, err := doPostJSON[CameraAction](ctx, c, "camera/start", nil)
	if err != nil {
		return nil, fmt.Errorf("start camera: %w", err)
	}
	return res, nil
}

// CameraStop asks the backend to stop the camera. Stopping a stopped
// camera is not an error.
func (c *Client) CameraStop(ctx context.Context) (*CameraAction, error) {
	res, err := doPostJSON[CameraAction](ctx, c, "camera/stop", nil)
	if err != nil {
		return nil, fmt.Errorf("stop camera: %w", err)
	}
	return res, nil
}

// CameraStatus is the backend camera manager state.
type CameraStatus struct {
	Active      bool   `json:"active"`
	Working     bool   `json:"working"`
	Initialized bool   `json:"initialized"`
	Platform    string `json:"platform"`
	CameraType  string `json:"camera_type"`
	Resolution  string `json:"resolution"`
	Error       string `json:"error"`
}

// Running treats any of the backend's readiness flags as a running camera.
func (s *CameraStatus) Running() bool {
	return s != nil && (s.Active || s.Working || s.Initialized)
}

// CameraStatus fetches the camera manager state.
func (c *Client) CameraStatus(ctx context.Context) (*CameraStatus, error) {
	st, err := doGetJSON[CameraStatus](ctx, c, "camera/status")
	if err != nil {
		return nil, fmt.Errorf("camera status: %w", err)
	}
	return st, nil
}

// StreamURL is the MJPEG stream address with a cache-busting version token.
// Changing the version forces consumers to reopen the stream.
func (c *Client) StreamURL(version int64) string {
	return c.resolveURL(fmt.Sprintf("camera/stream?ts=%d", version))
}

// SnapshotOptions select the size and JPEG quality of a snapshot.
// Zero values leave the choice to the backend.
type SnapshotOptions struct {
	Width   int
	Height  int
	Quality int
}

func (o SnapshotOptions) query(ts int64) string {
	q := fmt.Sprintf("camera/snapshot?ts=%d", ts)
	if o.Width > 0 && o.Height > 0 {
		q += fmt.Sprintf("&w=%d&h=%d", o.Width, o.Height)
	}
	if o.Quality > 0 {
		q += fmt.Sprintf("&q=%d", o.Quality)
	}
	return q
}

// Snapshot fetches a single JPEG still from the camera.
func (c *Client) Snapshot(ctx context.Context, opts SnapshotOptions) ([]byte, error) {
	body, _, err := doRequestBytes(ctx, c, opts.query(time.Now().UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("snapshot: %w", ErrEmptyFrame)
	}
	return body, nil
}
