package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/punchclock/internal/config"
	"github.com/kozaktomas/punchclock/internal/screen"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch live recognitions",
	Long: `Open the live monitor: start the camera, connect to the recognition
event stream and print recognitions, duplicate punches and errors as they
happen.

Example:
  punchclock monitor
  punchclock monitor --no-start --stop-on-exit`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Bool("no-start", false, "Do not start the camera automatically")
	monitorCmd.Flags().Bool("stop-on-exit", false, "Stop the camera when exiting")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	noStart := mustGetBool(cmd, "no-start")
	stopOnExit := mustGetBool(cmd, "stop-on-exit")
	cfg := config.Load()

	client, err := newGatewayClient(cfg)
	if err != nil {
		return err
	}

	var lock screen.CameraLock
	monitor := screen.NewMonitor(client, &lock, monitorConfig(cfg, !noStart))
	updates, unsubscribe := monitor.Subscribe()
	defer unsubscribe()
	monitor.Open()
	defer monitor.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	fmt.Printf("Monitoring %s\n", cfg.API.URL)
	fmt.Println("Press Ctrl+C to stop")

	var printer monitorPrinter
	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			if stopOnExit {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := monitor.StopCamera(ctx); err != nil {
					fmt.Printf("Warning: failed to stop camera: %v\n", err)
				}
			}
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			printer.print(st)
		}
	}
}

// monitorPrinter prints only what changed between two monitor states.
type monitorPrinter struct {
	last screen.MonitorState
}

func (p *monitorPrinter) print(st screen.MonitorState) {
	prev := p.last
	p.last = st
	now := time.Now().Format("15:04:05")

	if st.Camera != prev.Camera {
		fmt.Printf("%s camera %s\n", now, st.Camera)
	}
	if st.Connection.State != prev.Connection.State {
		if st.Connection.Err != "" {
			fmt.Printf("%s stream %s: %s (attempt %d)\n", now, st.Connection.State, st.Connection.Err, st.Connection.Attempts)
		} else {
			fmt.Printf("%s stream %s\n", now, st.Connection.State)
		}
	}
	if rec := st.Overlay.Recognized; rec != nil && (prev.Overlay.Recognized == nil || *rec != *prev.Overlay.Recognized) {
		line := fmt.Sprintf("%s recognized %s", now, rec.Title())
		if rec.EventType != "" {
			line += " " + rec.EventType
		}
		if rec.Confidence > 0 {
			line += fmt.Sprintf(" (confidence %.2f)", rec.Confidence)
		}
		fmt.Println(line)
	}
	if dup := st.Overlay.Duplicate; dup != nil && (prev.Overlay.Duplicate == nil || dup.Card != prev.Overlay.Duplicate.Card) {
		fmt.Printf("%s duplicate punch %s, next punch in %ds\n", now, dup.Title(), dup.RemainingSeconds())
	}
	if st.Overlay.Error != "" && st.Overlay.Error != prev.Overlay.Error {
		fmt.Printf("%s error: %s\n", now, st.Overlay.Error)
	}
	if st.Reloads != prev.Reloads {
		fmt.Printf("%s camera feed reloaded (%d)\n", now, st.Reloads)
	}
}
