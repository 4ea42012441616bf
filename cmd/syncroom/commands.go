package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the collaboration
// server. This is the primary command for running syncroom in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the syncroom collaboration server",
		Long: `Start the syncroom collaboration server.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Bind the HTTP listener and accept WebSocket connections at /ws
3. Relay edits, selections, cursors, and presence within document sessions
4. Monitor connection liveness and reap idle sessions
5. Expose /healthz, /stats, /sessions/{documentId}/users, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with built-in defaults (localhost:8080)
  syncroom serve

  # Start with a config file
  syncroom serve --config /etc/syncroom/production.yaml

  # Start with debug logging
  syncroom serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Status Command
// =============================================================================

// buildStatusCmd creates the "status" command that queries a running server.
func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running server's statistics",
		Long: `Query a running syncroom server and print its live statistics:
active connections, active sessions, uptime, and memory usage.

The address defaults to the one in the configuration file.`,
		Example: `  # Query the locally configured instance
  syncroom status

  # Query a specific instance
  syncroom status --addr collab.internal:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), configPath, addr, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "",
		"Server address as host:port (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	return cmd
}
