package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaults_Embedded(t *testing.T) {
	cfg := Defaults()

	if cfg.API.URL != "http://localhost:5002/api" {
		t.Errorf("expected default API URL, got '%s'", cfg.API.URL)
	}

	if cfg.Stream.ReconnectDelay != 3*time.Second {
		t.Errorf("expected reconnect delay 3s, got %v", cfg.Stream.ReconnectDelay)
	}

	if cfg.Stream.History != 50 {
		t.Errorf("expected history 50, got %d", cfg.Stream.History)
	}

	if cfg.Capture.Slots != 8 {
		t.Errorf("expected 8 capture slots, got %d", cfg.Capture.Slots)
	}

	if cfg.Capture.SnapshotInterval != 400*time.Millisecond {
		t.Errorf("expected snapshot interval 400ms, got %v", cfg.Capture.SnapshotInterval)
	}

	if cfg.Capture.ErrorClearDelay != 1200*time.Millisecond {
		t.Errorf("expected error clear delay 1.2s, got %v", cfg.Capture.ErrorClearDelay)
	}

	if cfg.Overlay.EventTTL != 1500*time.Millisecond {
		t.Errorf("expected event ttl 1.5s, got %v", cfg.Overlay.EventTTL)
	}

	if cfg.Overlay.DuplicateInterval != 30*time.Second {
		t.Errorf("expected duplicate interval 30s, got %v", cfg.Overlay.DuplicateInterval)
	}
}

func TestLoad_EmptyEnvVars(t *testing.T) {
	os.Unsetenv("PUNCHCLOCK_API_URL")
	os.Unsetenv("CAPTURE_SLOTS")
	os.Unsetenv("STREAM_RECONNECT_DELAY")

	cfg := Load()

	if cfg.API.URL != "http://localhost:5002/api" {
		t.Errorf("expected default API URL, got '%s'", cfg.API.URL)
	}

	if cfg.Capture.Slots != 8 {
		t.Errorf("expected 8 slots, got %d", cfg.Capture.Slots)
	}

	if cfg.Stream.ReconnectDelay != 3*time.Second {
		t.Errorf("expected 3s reconnect delay, got %v", cfg.Stream.ReconnectDelay)
	}
}

func TestLoad_APIURL(t *testing.T) {
	t.Setenv("PUNCHCLOCK_API_URL", "http://device.local:5002/api")

	cfg := Load()

	if cfg.API.URL != "http://device.local:5002/api" {
		t.Errorf("expected overridden URL, got '%s'", cfg.API.URL)
	}
}

func TestLoad_CustomSlots(t *testing.T) {
	t.Setenv("CAPTURE_SLOTS", "12")

	cfg := Load()

	if cfg.Capture.Slots != 12 {
		t.Errorf("expected 12 slots, got %d", cfg.Capture.Slots)
	}
}

func TestLoad_InvalidSlots(t *testing.T) {
	t.Setenv("CAPTURE_SLOTS", "many")

	cfg := Load()

	if cfg.Capture.Slots != 8 {
		t.Errorf("expected default 8 slots for invalid input, got %d", cfg.Capture.Slots)
	}
}

func TestLoad_NegativeSlots(t *testing.T) {
	t.Setenv("CAPTURE_SLOTS", "-3")

	cfg := Load()

	if cfg.Capture.Slots != 8 {
		t.Errorf("expected default 8 slots for negative input, got %d", cfg.Capture.Slots)
	}
}

func TestLoad_DurationString(t *testing.T) {
	t.Setenv("STREAM_RECONNECT_DELAY", "750ms")

	cfg := Load()

	if cfg.Stream.ReconnectDelay != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", cfg.Stream.ReconnectDelay)
	}
}

func TestLoad_DurationBareMillis(t *testing.T) {
	t.Setenv("OVERLAY_SWEEP_INTERVAL", "250")

	cfg := Load()

	if cfg.Overlay.SweepInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Overlay.SweepInterval)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("WATCHDOG_STALE_AFTER", "soon")

	cfg := Load()

	if cfg.Watchdog.StaleAfter != 15*time.Second {
		t.Errorf("expected default 15s for invalid input, got %v", cfg.Watchdog.StaleAfter)
	}
}

func TestLoad_ZeroDuration(t *testing.T) {
	t.Setenv("CAPTURE_SUBMIT_DELAY", "0")

	cfg := Load()

	if cfg.Capture.SubmitDelay != time.Second {
		t.Errorf("expected default 1s for zero input, got %v", cfg.Capture.SubmitDelay)
	}
}

func TestLoad_WebConfig(t *testing.T) {
	t.Setenv("WEB_HOST", "127.0.0.1")
	t.Setenv("WEB_PORT", "9090")

	cfg := Load()

	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("expected host '127.0.0.1', got '%s'", cfg.Web.Host)
	}

	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", " https://kiosk.local , ,https://admin.local")

	cfg := Load()

	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Web.AllowedOrigins[0] != "https://kiosk.local" || cfg.Web.AllowedOrigins[1] != "https://admin.local" {
		t.Errorf("unexpected origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestAPIRoot(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"http://device:5002/api", "http://device:5002"},
		{"http://device:5002/api/", "http://device:5002"},
		{"http://device:5002", "http://device:5002"},
		{"/api", ""},
	}

	for _, tt := range tests {
		cfg := APIConfig{URL: tt.url}
		if got := cfg.Root(); got != tt.expected {
			t.Errorf("Root(%q) = %q, expected %q", tt.url, got, tt.expected)
		}
	}
}
