// Package server exposes the syncroom HTTP plane: the /ws endpoint that
// feeds upgraded connections to the hub, plus health, stats, session, and
// metrics routes for operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/syncroom/internal/config"
	"github.com/haasonsaas/syncroom/internal/hub"
	"github.com/haasonsaas/syncroom/internal/transport"
)

// acceptBacklog bounds upgraded connections waiting for the hub's accept
// loop. Overflow is shed with a capacity close, same as an admission reject.
const acceptBacklog = 32

// Server owns the HTTP listener and bridges websockets to the hub. It
// implements transport.Acceptor: the hub pulls admitted connections from it.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	hub      *hub.Hub
	upgrader websocket.Upgrader

	pending chan transport.Conn
	done    chan struct{}

	mu         sync.Mutex
	closed     bool
	httpServer *http.Server
	listener   net.Listener
}

// New builds the HTTP plane for a hub.
func New(cfg config.ServerConfig, logger *slog.Logger, h *hub.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		hub:    h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    8192,
			WriteBufferSize:   8192,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		pending: make(chan transport.Conn, acceptBacklog),
		done:    make(chan struct{}),
	}
}

// Start binds the configured address and begins serving in the background.
// With port 0 the kernel picks a free port; Addr reports the bound one.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/sessions/", s.handleSessionUsers)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", listener.Addr().String())
	return nil
}

// Accept implements transport.Acceptor.
func (s *Server) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case conn := <-s.pending:
		return conn, nil
	case <-s.done:
		return nil, transport.ErrAcceptorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the HTTP server, unblocks pending Accept calls, and closes any
// connections still waiting in the backlog. Connections already handed to the
// hub are the hub's to drain. A second call is a no-op.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server := s.httpServer
	s.mu.Unlock()

	close(s.done)
drain:
	for {
		select {
		case conn := <-s.pending:
			_ = conn.Close(transport.CloseNormal, "server shutting down")
		default:
			break drain
		}
	}

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr reports the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr()
}

// handleWS upgrades the websocket and queues the connection for the hub.
// The connection cap is the hub's concern, applied at admission.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	conn := transport.NewWebSocketConn(ws)

	select {
	case s.pending <- conn:
	case <-s.done:
		_ = conn.Close(transport.CloseNormal, "server shutting down")
	default:
		s.logger.Warn("accept backlog full, shedding connection", "remoteAddr", conn.RemoteAddr())
		_ = conn.Close(transport.CloseCapacity, "server at capacity")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats reports the live hub counters for dashboards and the status
// subcommand.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.jsonResponse(w, s.hub.Stats())
}

// handleSessionUsers reports the live presence list of one document session
// at /sessions/{documentId}/users.
func (s *Server) handleSessionUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "users" {
		s.jsonError(w, "Not found", http.StatusNotFound)
		return
	}
	documentID := parts[0]
	users := s.hub.SessionUsers(documentID)
	s.jsonResponse(w, map[string]any{
		"documentId": documentID,
		"users":      users,
		"count":      len(users),
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
