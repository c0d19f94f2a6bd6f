package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/punchclock/internal/capture"
	"github.com/kozaktomas/punchclock/internal/config"
	"github.com/kozaktomas/punchclock/internal/screen"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new face",
	Long: `Guide a person through the multi-angle face capture and register the
captured frames under the given name.

The person should move their head slowly in a full circle in front of the
camera. Every angle is captured once the backend rates the frame as good,
and the registration is submitted automatically when all angles are done.

Example:
  punchclock register "Ada Lovelace"
  punchclock register --slots 4 --timeout 2m "Ada Lovelace"

A failed submission is retried with the captured frames, waiting twice as
long before each attempt, until --retries is spent.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().Int("slots", 0, "Number of angles to capture (default from CAPTURE_SLOTS)")
	registerCmd.Flags().Duration("timeout", 5*time.Minute, "Give up when the capture takes longer")
	registerCmd.Flags().Int("retries", 3, "Resubmit a failed registration this many times")
	registerCmd.Flags().Duration("retry-delay", 2*time.Second, "Wait before the first resubmission")
}

// backoff hands out doubling delays until the retry budget is spent.
type backoff struct {
	delay time.Duration
	left  int
}

func newBackoff(retries int, initial time.Duration) *backoff {
	return &backoff{delay: initial, left: retries}
}

// Next returns the delay before the next attempt, or false when no retries
// are left.
func (b *backoff) Next() (time.Duration, bool) {
	if b.left <= 0 {
		return 0, false
	}
	b.left--
	d := b.delay
	b.delay *= 2
	return d, true
}

func runRegister(cmd *cobra.Command, args []string) error {
	identity := capture.NormalizeIdentity(args[0])
	if identity == "" {
		return errors.New("name must not be empty")
	}
	slots := mustGetInt(cmd, "slots")
	timeout := mustGetDuration(cmd, "timeout")
	retries := newBackoff(mustGetInt(cmd, "retries"), mustGetDuration(cmd, "retry-delay"))

	cfg := config.Load()
	if slots > 0 {
		cfg.Capture.Slots = slots
	}

	client, err := newGatewayClient(cfg)
	if err != nil {
		return err
	}

	submitted := make(chan capture.Result, 1)
	var lock screen.CameraLock
	reg, err := screen.NewRegistration(client, &lock, screen.RegistrationConfig{
		Capture: captureConfig(cfg),
		OnSubmitted: func(res capture.Result) {
			submitted <- res
		},
	})
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe := reg.Subscribe()
	defer unsubscribe()
	reg.SetIdentity(identity)
	reg.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	fmt.Printf("Registering %s, move your head slowly in a full circle\n", identity)
	bar := progressbar.NewOptions(cfg.Capture.Slots,
		progressbar.OptionSetDescription("Capturing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("angles"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	deadline := time.After(timeout)
	var retry <-chan time.Time
	var hint, banner string
	var phase capture.Phase
	for {
		select {
		case <-sigChan:
			fmt.Println("\nCapture cancelled")
			return nil
		case <-deadline:
			return fmt.Errorf("capture did not finish within %s", timeout)
		case <-retry:
			retry = nil
			go func() {
				// A failure comes back as a submit_failed update.
				if err := reg.Submit(ctx); err != nil && !errors.Is(err, capture.ErrSessionClosed) {
					slog.Debug("register: resubmission failed", "error", err)
				}
			}()
		case res := <-submitted:
			_ = bar.Finish()
			fmt.Printf("\nRegistered %s\n", res.Identity)
			if res.Message != "" {
				fmt.Printf("  %s\n", res.Message)
			}
			if res.ProfilePhoto != "" {
				fmt.Printf("  Profile photo: %s\n", res.ProfilePhoto)
			}
			return nil
		case p, ok := <-updates:
			if !ok {
				return errors.New("capture session closed")
			}
			_ = bar.Set(p.Validated)
			if p.Hint != hint && p.Phase == capture.PhaseCapturing {
				hint = p.Hint
				bar.Describe(hint)
			}
			msg := ""
			if p.Banner != nil {
				msg = p.Banner.Message
			}
			if msg != banner {
				banner = msg
				if msg != "" {
					fmt.Printf("\n%s\n", msg)
				}
			}
			entered := p.Phase != phase
			phase = p.Phase
			if p.Phase == capture.PhaseSubmitFailed && entered {
				delay, ok := retries.Next()
				if !ok {
					return fmt.Errorf("registration failed: %s", p.SubmitError)
				}
				fmt.Printf("Retrying in %s\n", delay)
				retry = time.After(delay)
			}
		}
	}
}
