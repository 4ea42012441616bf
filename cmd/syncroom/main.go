// Package main provides the CLI entry point for the syncroom collaboration server.
//
// Syncroom relays document edits, node operations, selections, cursor moves,
// and presence between editor clients working on the same design document.
//
// # Basic Usage
//
// Start the server:
//
//	syncroom serve --config syncroom.yaml
//
// Check a running instance:
//
//	syncroom status --addr localhost:8080
//
// # Environment Variables
//
// Values in the YAML configuration file are environment-expanded before
// parsing, so a deployment can write:
//
//	server:
//	  host: $SYNCROOM_HOST
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Structured logging with JSON output until the config-driven logger
	// takes over in serve.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "syncroom",
		Short: "Syncroom - real-time design document collaboration server",
		Long: `Syncroom relays document edits, node operations, selections, cursor moves,
and presence between editor clients working on the same design document.

Editors connect over WebSocket at /ws. Operators get /healthz, /stats,
/sessions/{documentId}/users, and Prometheus metrics at /metrics.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}
