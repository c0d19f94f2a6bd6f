package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"
)

func setupMockServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","loaded_faces":3,"camera_active":true,"event_source_clients":1}`))
	})

	mux.HandleFunc("/api/camera/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"initialized":true,"working":false,"camera_type":"usb"}`))
	})

	mux.HandleFunc("/api/camera/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Camera started"}`))
	})

	mux.HandleFunc("/api/camera/stop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"message":"Camera is not active"}`))
	})

	mux.HandleFunc("/api/camera/snapshot", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("ts") == "" || q.Get("w") != "480" || q.Get("h") != "270" || q.Get("q") != "70" {
			http.Error(w, `{"error":"bad query"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	})

	mux.HandleFunc("/api/employees", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"employees":[{"id":7,"name":"Ada","department":"R&D","photo":"/api/profiles/7.jpg","active":true},{"id":"emp-2","name":"Bo"}],"count":2}`))
	})

	mux.HandleFunc("/api/attendance", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "200" {
			http.Error(w, "missing limit", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"attendance":[{"id":12,"employee_id":"7","employee_name":"Ada","timestamp":"2026-03-02T08:00:00","event_type":"check-in"}],"count":1}`))
	})

	mux.HandleFunc("/api/system/attendance-settings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duplicatePunchIntervalSec":45}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := New(server.URL+"/api", 2*time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server, client
}

func TestNew_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:5002", "ftp://device/api", "http://"} {
		if _, err := New(raw, time.Second); err == nil {
			t.Errorf("New(%q) expected error", raw)
		}
	}
}

func TestClient_Root(t *testing.T) {
	c, err := New("http://device:5002/api/", time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Root() != "http://device:5002" {
		t.Errorf("Root() = %q", c.Root())
	}
	if got := c.resolveURL("attendance?limit=5"); got != "http://device:5002/api/attendance?limit=5" {
		t.Errorf("resolveURL() = %q", got)
	}
}

func TestHealth(t *testing.T) {
	_, client := setupMockServer(t)

	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !h.Healthy() {
		t.Errorf("expected healthy, got status %q", h.Status)
	}
	if h.LoadedFaces != 3 || !h.CameraActive {
		t.Errorf("unexpected health: %+v", h)
	}
}

func TestCameraLifecycle(t *testing.T) {
	_, client := setupMockServer(t)
	ctx := context.Background()

	st, err := client.CameraStatus(ctx)
	if err != nil {
		t.Fatalf("CameraStatus failed: %v", err)
	}
	if !st.Running() {
		t.Error("initialized camera should count as running")
	}

	start, err := client.CameraStart(ctx)
	if err != nil {
		t.Fatalf("CameraStart failed: %v", err)
	}
	if !start.Success {
		t.Error("expected start success")
	}

	stop, err := client.CameraStop(ctx)
	if err != nil {
		t.Fatalf("CameraStop failed: %v", err)
	}
	if stop.Success || stop.Message != "Camera is not active" {
		t.Errorf("unexpected stop result: %+v", stop)
	}
}

func TestCameraStatus_Running(t *testing.T) {
	tests := []struct {
		status CameraStatus
		want   bool
	}{
		{CameraStatus{}, false},
		{CameraStatus{Active: true}, true},
		{CameraStatus{Working: true}, true},
		{CameraStatus{Initialized: true}, true},
	}
	for _, tt := range tests {
		if got := tt.status.Running(); got != tt.want {
			t.Errorf("Running(%+v) = %v, want %v", tt.status, got, tt.want)
		}
	}
	var nilStatus *CameraStatus
	if nilStatus.Running() {
		t.Error("nil status should not be running")
	}
}

func TestSnapshot(t *testing.T) {
	_, client := setupMockServer(t)

	frame, err := client.Snapshot(context.Background(), SnapshotOptions{Width: 480, Height: 270, Quality: 70})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if string(frame) != "jpeg-bytes" {
		t.Errorf("unexpected frame %q", frame)
	}
}

func TestSnapshot_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Camera frame not available"}`))
	}))
	defer server.Close()

	client, err := New(server.URL+"/api", time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = client.Snapshot(context.Background(), SnapshotOptions{})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if IsNotFoundError(err) {
		t.Error("503 should not be reported as not found")
	}
	if msg := ErrorMessage(err); msg != "Camera frame not available" {
		t.Errorf("ErrorMessage() = %q", msg)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second)
	if _, err := client.Snapshot(context.Background(), SnapshotOptions{}); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, _ := New(server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.CameraStatus(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not applied, took %v", time.Since(start))
	}
}

func TestDetectFaceQuality(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/detect-face-quality" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"detected":true,"quality":"good","message":"%s %s %s","faceSize":0.31}`,
			r.FormValue("angle"), header.Filename, data)
	}))
	defer server.Close()

	client, _ := New(server.URL+"/api", time.Second)
	res, err := client.DetectFaceQuality(context.Background(), []byte("img"), "capture_3")
	if err != nil {
		t.Fatalf("DetectFaceQuality failed: %v", err)
	}
	if !res.Good() {
		t.Errorf("expected good result, got %+v", res)
	}
	if res.Message != "capture_3 frame.jpg img" {
		t.Errorf("unexpected echo %q", res.Message)
	}
	if res.FaceSize == nil || *res.FaceSize != 0.31 {
		t.Errorf("unexpected face size %v", res.FaceSize)
	}
}

func TestDetectFaceQuality_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detected":false,"quality":"poor","message":"Model not loaded"}`))
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second)
	_, err := client.DetectFaceQuality(context.Background(), []byte("img"), "capture_1")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusInternalServerError || se.Message != "Model not loaded" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestRegisterFace(t *testing.T) {
	var (
		gotName   string
		gotAngles []string
		gotFiles  []string
		gotTypes  []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotName = r.FormValue("name")
		_ = json.Unmarshal([]byte(r.FormValue("angles")), &gotAngles)
		for _, fh := range r.MultipartForm.File["images"] {
			gotFiles = append(gotFiles, fh.Filename)
			gotTypes = append(gotTypes, fh.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Face registered for ada with 2 angles","angles_saved":2,"profile_photo":"/api/profiles/ada.jpg"}`))
	}))
	defer server.Close()

	client, _ := New(server.URL+"/api", time.Second)
	res, err := client.RegisterFace(context.Background(), RegisterRequest{
		Name: "ada",
		Images: []RegisterImage{
			{Angle: "capture_1", Data: []byte("a")},
			{Angle: "capture_2", Data: []byte("b")},
		},
	})
	if err != nil {
		t.Fatalf("RegisterFace failed: %v", err)
	}
	if res.ProfilePhoto != "/api/profiles/ada.jpg" || res.AnglesSaved != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if gotName != "ada" {
		t.Errorf("name = %q", gotName)
	}
	if strings.Join(gotAngles, ",") != "capture_1,capture_2" {
		t.Errorf("angles = %v", gotAngles)
	}
	if strings.Join(gotFiles, ",") != "ada_capture_1.jpg,ada_capture_2.jpg" {
		t.Errorf("files = %v", gotFiles)
	}
	for _, ct := range gotTypes {
		if ct != "image/jpeg" {
			t.Errorf("image part content type = %q", ct)
		}
	}
}

func TestRegisterFace_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"No valid faces detected in any of the uploaded images"}`))
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second)
	ctx := context.Background()

	if _, err := client.RegisterFace(ctx, RegisterRequest{Images: []RegisterImage{{Angle: "a", Data: []byte("x")}}}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := client.RegisterFace(ctx, RegisterRequest{Name: "ada"}); err == nil {
		t.Error("expected error for missing images")
	}

	_, err := client.RegisterFace(ctx, RegisterRequest{Name: "ada", Images: []RegisterImage{{Angle: "a", Data: []byte("x")}}})
	if msg := ErrorMessage(err); msg != "No valid faces detected in any of the uploaded images" {
		t.Errorf("ErrorMessage() = %q (err %v)", msg, err)
	}
}

func TestDirectory(t *testing.T) {
	_, client := setupMockServer(t)
	ctx := context.Background()

	employees, err := client.Employees(ctx)
	if err != nil {
		t.Fatalf("Employees failed: %v", err)
	}
	if len(employees) != 2 {
		t.Fatalf("expected 2 employees, got %d", len(employees))
	}
	if employees[0].ID != "7" || employees[1].ID != "emp-2" {
		t.Errorf("unexpected ids %q %q", employees[0].ID, employees[1].ID)
	}

	logs, err := client.Attendance(ctx, 200)
	if err != nil {
		t.Fatalf("Attendance failed: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != "12" || logs[0].EmployeeID != "7" {
		t.Errorf("unexpected logs %+v", logs)
	}

	settings, err := client.AttendanceSettings(ctx)
	if err != nil {
		t.Fatalf("AttendanceSettings failed: %v", err)
	}
	if settings.DuplicateInterval() != 45*time.Second {
		t.Errorf("DuplicateInterval() = %v", settings.DuplicateInterval())
	}
}

func TestOpenRecognitionStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"type\":\"heartbeat\"}\n\n"))
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second)
	body, err := client.OpenRecognitionStream(context.Background())
	if err != nil {
		t.Fatalf("OpenRecognitionStream failed: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), "heartbeat") {
		t.Errorf("unexpected stream data %q", data)
	}
}

func TestOpenRecognitionStream_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client, _ := New(server.URL, time.Second)
	_, err := client.OpenRecognitionStream(context.Background())
	if !IsNotFoundError(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStreamFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ts") != "3" {
			http.Error(w, "missing version", http.StatusBadRequest)
			return
		}
		mw := multipart.NewWriter(w)
		_ = mw.SetBoundary("frame")
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, frame := range []string{"one", "two", "three"} {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Type", "image/jpeg")
			part, _ := mw.CreatePart(h)
			part.Write([]byte(frame))
		}
		mw.Close()
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second)

	var frames []string
	err := client.StreamFrames(context.Background(), 3, func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
	if strings.Join(frames, ",") != "one,two,three" {
		t.Errorf("frames = %v", frames)
	}

	stop := errors.New("stop")
	count := 0
	err = client.StreamFrames(context.Background(), 3, func([]byte) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) || count != 1 {
		t.Errorf("callback error should stop the stream, got %v after %d frames", err, count)
	}
}

func TestCaptureResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duplicatePunchIntervalSec":30}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	client, err := NewWithCapture(server.URL, time.Second, dir)
	if err != nil {
		t.Fatalf("NewWithCapture failed: %v", err)
	}
	if _, err := client.AttendanceSettings(context.Background()); err != nil {
		t.Fatalf("AttendanceSettings failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "system_attendance-settings_") {
		t.Errorf("unexpected capture files %v", entries)
	}
}

func TestStreamFrames_DropsOversizedFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		_ = mw.SetBoundary("frame")
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, frame := range []string{"small", "much too large", "ok"} {
			part, _ := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			part.Write([]byte(frame))
		}
		mw.Close()
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second)
	client.maxFrameSize = 5

	var frames []string
	err := client.StreamFrames(context.Background(), 1, func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
	if strings.Join(frames, ",") != "small,ok" {
		t.Errorf("frames = %v", frames)
	}
}

func TestOpenRecognitionStream_HeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := New(server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.OpenRecognitionStream(context.Background())
	if !errors.Is(err, ErrHeaderTimeout) {
		t.Fatalf("expected ErrHeaderTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("header timeout not applied, took %v", time.Since(start))
	}

	err = client.StreamFrames(context.Background(), 1, func([]byte) error { return nil })
	if !errors.Is(err, ErrHeaderTimeout) {
		t.Errorf("expected ErrHeaderTimeout for the camera stream, got %v", err)
	}
}

func TestOpenRecognitionStream_OutlivesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("data: {\"type\":\"heartbeat\"}\n\n"))
	}))
	defer server.Close()

	client, _ := New(server.URL, 50*time.Millisecond)
	body, err := client.OpenRecognitionStream(context.Background())
	if err != nil {
		t.Fatalf("OpenRecognitionStream failed: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading past the header timeout failed: %v", err)
	}
	if !strings.Contains(string(data), "heartbeat") {
		t.Errorf("unexpected stream data %q", data)
	}
}
