package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	API      APIConfig      `yaml:"api"`
	Stream   StreamConfig   `yaml:"stream"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Capture  CaptureConfig  `yaml:"capture"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Web      WebConfig      `yaml:"web"`
}

type APIConfig struct {
	URL            string        `yaml:"url"`
	CaptureDir     string        `yaml:"capture_dir"` // dumps gateway JSON responses for test fixtures
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DetectTimeout  time.Duration `yaml:"detect_timeout"`
}

// Root returns the backend origin without the trailing /api segment.
// Profile photo paths returned by the backend are relative to it.
func (c *APIConfig) Root() string {
	return strings.TrimSuffix(strings.TrimRight(c.URL, "/"), "/api")
}

type StreamConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	History        int           `yaml:"history"`
}

type WatchdogConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	ReloadDelay time.Duration `yaml:"reload_delay"`
}

type CaptureConfig struct {
	Slots              int           `yaml:"slots"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
	DetectInterval     time.Duration `yaml:"detect_interval"`
	BoostInterval      time.Duration `yaml:"boost_interval"`
	SubmitDelay        time.Duration `yaml:"submit_delay"`
	StatusInterval     time.Duration `yaml:"status_interval"`
	StallCheckInterval time.Duration `yaml:"stall_check_interval"`
	StallAfter         time.Duration `yaml:"stall_after"`
	ErrorClearDelay    time.Duration `yaml:"error_clear_delay"`
	SnapshotWidth      int           `yaml:"snapshot_width"`
	SnapshotHeight     int           `yaml:"snapshot_height"`
	SnapshotQuality    int           `yaml:"snapshot_quality"`
}

type OverlayConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	FaceTTL           time.Duration `yaml:"face_ttl"`
	EventTTL          time.Duration `yaml:"event_ttl"`
	RecognizedTTL     time.Duration `yaml:"recognized_ttl"`
	ErrorTTL          time.Duration `yaml:"error_ttl"`
	DuplicateTick     time.Duration `yaml:"duplicate_tick"`
	DirectoryRefresh  time.Duration `yaml:"directory_refresh"`
	DuplicateInterval time.Duration `yaml:"duplicate_interval"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("400ms", "3s").
// Bare integers are taken as milliseconds. Non-positive or invalid values
// fall back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n > 0 {
			return time.Duration(n) * time.Millisecond
		}
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// envString returns the env var value, or the default when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the embedded configuration without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		API: APIConfig{
			URL:            envString("PUNCHCLOCK_API_URL", d.API.URL),
			CaptureDir:     os.Getenv("PUNCHCLOCK_CAPTURE_DIR"),
			RequestTimeout: envDuration("PUNCHCLOCK_REQUEST_TIMEOUT", d.API.RequestTimeout),
			DetectTimeout:  envDuration("PUNCHCLOCK_DETECT_TIMEOUT", d.API.DetectTimeout),
		},
		Stream: StreamConfig{
			ReconnectDelay: envDuration("STREAM_RECONNECT_DELAY", d.Stream.ReconnectDelay),
			MaxAttempts:    envInt("STREAM_MAX_ATTEMPTS", d.Stream.MaxAttempts),
			History:        envInt("STREAM_HISTORY", d.Stream.History),
		},
		Watchdog: WatchdogConfig{
			Interval:    envDuration("WATCHDOG_INTERVAL", d.Watchdog.Interval),
			StaleAfter:  envDuration("WATCHDOG_STALE_AFTER", d.Watchdog.StaleAfter),
			ReloadDelay: envDuration("WATCHDOG_RELOAD_DELAY", d.Watchdog.ReloadDelay),
		},
		Capture: CaptureConfig{
			Slots:              envInt("CAPTURE_SLOTS", d.Capture.Slots),
			SnapshotInterval:   envDuration("CAPTURE_SNAPSHOT_INTERVAL", d.Capture.SnapshotInterval),
			DetectInterval:     envDuration("CAPTURE_DETECT_INTERVAL", d.Capture.DetectInterval),
			BoostInterval:      envDuration("CAPTURE_BOOST_INTERVAL", d.Capture.BoostInterval),
			SubmitDelay:        envDuration("CAPTURE_SUBMIT_DELAY", d.Capture.SubmitDelay),
			StatusInterval:     envDuration("CAPTURE_STATUS_INTERVAL", d.Capture.StatusInterval),
			StallCheckInterval: envDuration("CAPTURE_STALL_CHECK_INTERVAL", d.Capture.StallCheckInterval),
			StallAfter:         envDuration("CAPTURE_STALL_AFTER", d.Capture.StallAfter),
			ErrorClearDelay:    envDuration("CAPTURE_ERROR_CLEAR_DELAY", d.Capture.ErrorClearDelay),
			SnapshotWidth:      envInt("CAPTURE_SNAPSHOT_WIDTH", d.Capture.SnapshotWidth),
			SnapshotHeight:     envInt("CAPTURE_SNAPSHOT_HEIGHT", d.Capture.SnapshotHeight),
			SnapshotQuality:    envInt("CAPTURE_SNAPSHOT_QUALITY", d.Capture.SnapshotQuality),
		},
		Overlay: OverlayConfig{
			SweepInterval:     envDuration("OVERLAY_SWEEP_INTERVAL", d.Overlay.SweepInterval),
			FaceTTL:           envDuration("OVERLAY_FACE_TTL", d.Overlay.FaceTTL),
			EventTTL:          envDuration("OVERLAY_EVENT_TTL", d.Overlay.EventTTL),
			RecognizedTTL:     envDuration("OVERLAY_RECOGNIZED_TTL", d.Overlay.RecognizedTTL),
			ErrorTTL:          envDuration("OVERLAY_ERROR_TTL", d.Overlay.ErrorTTL),
			DuplicateTick:     envDuration("OVERLAY_DUPLICATE_TICK", d.Overlay.DuplicateTick),
			DirectoryRefresh:  envDuration("OVERLAY_DIRECTORY_REFRESH", d.Overlay.DirectoryRefresh),
			DuplicateInterval: envDuration("DUPLICATE_PUNCH_INTERVAL", d.Overlay.DuplicateInterval),
			RestartDelay:      envDuration("CAMERA_RESTART_DELAY", d.Overlay.RestartDelay),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", d.Web.Host),
			Port: envInt("WEB_PORT", d.Web.Port),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
	}
}
