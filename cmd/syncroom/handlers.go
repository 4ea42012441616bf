package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/syncroom/internal/config"
	"github.com/haasonsaas/syncroom/internal/hub"
	"github.com/haasonsaas/syncroom/internal/observability"
	"github.com/haasonsaas/syncroom/internal/server"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic: configuration loading, wiring
// the hub behind the HTTP plane, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	logger.Info("starting syncroom",
		"version", version,
		"commit", commit,
		"config", configPath,
		"addr", cfg.Server.Addr(),
		"debug", debug,
	)

	metrics := hub.NewMetrics()
	h := hub.New(cfg.Server, logger, metrics)
	srv := server.New(cfg.Server, logger, h)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	// Cancel on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Run(ctx, srv)
	}()

	logger.Info("syncroom started", "ws", "ws://"+srv.Addr()+"/ws")

	// Wait for a shutdown signal or a server failure.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("syncroom stopped gracefully")
	return nil
}

// =============================================================================
// Status Command Handler
// =============================================================================

// runStatus fetches /stats from a running server and prints it.
func runStatus(ctx context.Context, out io.Writer, configPath, addr string, jsonOutput bool) error {
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.Server.Addr()
	}
	baseURL := "http://" + strings.TrimRight(addr, "/")

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/stats", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request /stats failed: %s", resp.Status)
	}

	var stats hub.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode /stats: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(out, "Server:             http://%s\n", addr)
	fmt.Fprintf(out, "Active connections: %d\n", stats.ActiveConnections)
	fmt.Fprintf(out, "Active sessions:    %d\n", stats.ActiveSessions)
	fmt.Fprintf(out, "Uptime:             %s\n", (time.Duration(stats.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Fprintf(out, "Memory:             %.1f MB\n", float64(stats.MemoryUsageBytes)/(1024*1024))
	return nil
}
