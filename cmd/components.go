package cmd

import (
	"fmt"
	"log/slog"

	"github.com/kozaktomas/punchclock/internal/capture"
	"github.com/kozaktomas/punchclock/internal/config"
	"github.com/kozaktomas/punchclock/internal/gateway"
	"github.com/kozaktomas/punchclock/internal/overlay"
	"github.com/kozaktomas/punchclock/internal/screen"
	"github.com/kozaktomas/punchclock/internal/stream"
	"github.com/kozaktomas/punchclock/internal/watchdog"
)

// newGatewayClient connects to the configured backend. The --capture flag
// takes precedence over PUNCHCLOCK_CAPTURE_DIR.
func newGatewayClient(cfg *config.Config) (*gateway.Client, error) {
	dir := cfg.API.CaptureDir
	if captureDir != "" {
		dir = captureDir
	}
	client, err := gateway.NewWithCapture(cfg.API.URL, cfg.API.RequestTimeout, dir)
	if err != nil {
		return nil, fmt.Errorf("connecting to backend: %w", err)
	}
	return client, nil
}

func monitorConfig(cfg *config.Config, autoStart bool) screen.MonitorConfig {
	logger := slog.Default()
	return screen.MonitorConfig{
		Stream: stream.Config{
			ReconnectDelay: cfg.Stream.ReconnectDelay,
			MaxAttempts:    cfg.Stream.MaxAttempts,
			History:        cfg.Stream.History,
			Logger:         logger,
		},
		Watchdog: watchdog.Config{
			Name:        "camera",
			Interval:    cfg.Watchdog.Interval,
			StaleAfter:  cfg.Watchdog.StaleAfter,
			ReloadDelay: cfg.Watchdog.ReloadDelay,
			Logger:      logger,
		},
		Overlay: overlay.Config{
			SweepInterval:     cfg.Overlay.SweepInterval,
			FaceTTL:           cfg.Overlay.FaceTTL,
			EventTTL:          cfg.Overlay.EventTTL,
			RecognizedTTL:     cfg.Overlay.RecognizedTTL,
			ErrorTTL:          cfg.Overlay.ErrorTTL,
			DuplicateTick:     cfg.Overlay.DuplicateTick,
			DirectoryRefresh:  cfg.Overlay.DirectoryRefresh,
			DuplicateInterval: cfg.Overlay.DuplicateInterval,
			APIRoot:           cfg.API.Root(),
			Logger:            logger,
		},
		RestartDelay: cfg.Overlay.RestartDelay,
		AutoStart:    autoStart,
		Logger:       logger,
	}
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		Slots:              capture.DefaultSlots(cfg.Capture.Slots),
		SnapshotInterval:   cfg.Capture.SnapshotInterval,
		DetectInterval:     cfg.Capture.DetectInterval,
		DetectTimeout:      cfg.API.DetectTimeout,
		BoostInterval:      cfg.Capture.BoostInterval,
		SubmitDelay:        cfg.Capture.SubmitDelay,
		StatusInterval:     cfg.Capture.StatusInterval,
		StallCheckInterval: cfg.Capture.StallCheckInterval,
		StallAfter:         cfg.Capture.StallAfter,
		ErrorClearDelay:    cfg.Capture.ErrorClearDelay,
		Snapshot: gateway.SnapshotOptions{
			Width:   cfg.Capture.SnapshotWidth,
			Height:  cfg.Capture.SnapshotHeight,
			Quality: cfg.Capture.SnapshotQuality,
		},
		Logger: slog.Default(),
	}
}
