package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/punchclock/internal/config"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the recognition backend",
	Long: `Query the backend health endpoint and the camera status.

Exits with a non-zero status when the backend is not healthy.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg := config.Load()

	client, err := newGatewayClient(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend at %s is unreachable: %w", cfg.API.URL, err)
	}
	camera, camErr := client.CameraStatus(ctx)

	if jsonOutput {
		out := map[string]any{"health": health, "camera": camera}
		if camErr != nil {
			out["camera_error"] = camErr.Error()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
	} else {
		fmt.Printf("Backend:  %s\n", cfg.API.URL)
		fmt.Printf("Status:   %s\n", health.Status)
		fmt.Printf("Platform: %s\n", health.Platform)
		fmt.Printf("Faces:    %d loaded\n", health.LoadedFaces)
		fmt.Printf("Clients:  %d event stream\n", health.EventSourceClients)
		switch {
		case camErr != nil:
			fmt.Printf("Camera:   unknown (%v)\n", camErr)
		case camera.Running():
			fmt.Printf("Camera:   running %s %s\n", camera.CameraType, camera.Resolution)
		default:
			fmt.Printf("Camera:   stopped\n")
		}
	}

	if !health.Healthy() {
		return fmt.Errorf("backend reports status %q", health.Status)
	}
	return nil
}
