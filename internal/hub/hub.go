// Package hub implements the real-time collaboration core: connection
// admission and lifecycle, per-document session membership, message routing
// and fan-out, heartbeat liveness, and idle-session eviction.
//
// The hub is transport-agnostic. It drives everything off an injected
// transport.Acceptor and depends only on the transport interfaces, so the
// WebSocket layer never leaks into session or routing logic.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/syncroom/internal/config"
	"github.com/haasonsaas/syncroom/internal/transport"
	"github.com/haasonsaas/syncroom/pkg/protocol"
)

// shutdownDrain bounds how long Run waits for connections to unwind after
// its context ends.
const shutdownDrain = 10 * time.Second

// ErrShuttingDown rejects Run on a hub that has already been shut down.
var ErrShuttingDown = errors.New("hub: shutting down")

// Stats is the hub's admin snapshot.
type Stats struct {
	ActiveConnections int    `json:"activeConnections"`
	ActiveSessions    int    `json:"activeSessions"`
	UptimeMs          int64  `json:"uptimeMs"`
	MemoryUsageBytes  uint64 `json:"memoryUsageBytes"`
}

// Hub is the composition root. It owns the registries and periodic monitors;
// there are no package-level singletons, every dependency hangs off the
// struct.
type Hub struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	metrics  *Metrics
	conns    *connRegistry
	sessions *sessionRegistry

	startedAt time.Time
	nowFunc   func() time.Time

	mu       sync.Mutex
	acceptor transport.Acceptor
	cancel   context.CancelFunc
	loops    chan struct{} // closed when Run's loops have exited
	running  bool
	shutdown bool

	wg sync.WaitGroup // per-connection serve goroutines
}

// New builds a hub from configuration. The transport acceptor is injected
// at Run so callers can construct the hub before the server that feeds it.
func New(cfg config.ServerConfig, logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger.With("component", "hub"),
		metrics:   metrics,
		conns:     newConnRegistry(cfg.MaxConnections),
		sessions:  newSessionRegistry(),
		startedAt: time.Now(),
		nowFunc:   time.Now,
	}
}

// Run accepts connections from the acceptor and drives the heartbeat monitor
// and session reaper until ctx is cancelled or the acceptor fails, then
// performs the ordered shutdown. Context cancellation is the normal stop
// signal and is not reported as an error.
func (h *Hub) Run(ctx context.Context, acceptor transport.Acceptor) error {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return ErrShuttingDown
	}
	if h.running {
		h.mu.Unlock()
		return errors.New("hub: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.running = true
	h.acceptor = acceptor
	h.cancel = cancel
	h.loops = make(chan struct{})
	loops := h.loops
	h.mu.Unlock()

	h.logger.Info("hub running",
		"maxConnections", h.cfg.MaxConnections,
		"heartbeatInterval", h.cfg.HeartbeatInterval.String(),
		"sessionTimeout", h.cfg.SessionTimeout.String())

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return h.acceptLoop(gctx, acceptor) })
	g.Go(func() error { return h.heartbeatLoop(gctx) })
	g.Go(func() error { return h.reaperLoop(gctx) })
	err := g.Wait()
	close(loops)

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancelDrain()
	if sErr := h.Shutdown(drainCtx); sErr != nil {
		h.logger.Warn("shutdown incomplete", "error", sErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown stops the monitors and the accept loop, closes every live
// connection with a normal-closure frame, then closes the acceptor. It
// returns once the connection goroutines drain and the acceptor confirms
// closed, or with ctx's error when the drain window expires. A second call
// is a no-op returning nil.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return nil
	}
	h.shutdown = true
	cancel := h.cancel
	loops := h.loops
	acceptor := h.acceptor
	h.mu.Unlock()

	h.logger.Info("hub shutting down")

	// Stop the heartbeat monitor, the session reaper, and the accept loop.
	if cancel != nil {
		cancel()
	}
	if loops != nil {
		select {
		case <-loops:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Close every live connection; each serve goroutine runs the ordinary
	// disconnect cleanup as its transport unwinds.
	for _, conn := range h.conns.snapshot() {
		_ = conn.Close(transport.CloseNormal, "server shutting down")
	}

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	if acceptor != nil {
		if err := acceptor.Close(ctx); err != nil {
			return fmt.Errorf("close acceptor: %w", err)
		}
	}
	h.logger.Info("hub stopped")
	return nil
}

// acceptLoop admits transports until ctx ends or the acceptor fails.
func (h *Hub) acceptLoop(ctx context.Context, acceptor transport.Acceptor) error {
	for {
		t, err := acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		h.admit(t)
	}
}

// admit applies the connection cap and starts the serve goroutine. Rejection
// closes the transport with a capacity status and records nothing.
func (h *Hub) admit(t transport.Conn) {
	conn, err := h.conns.admit(t)
	if err != nil {
		h.logger.Warn("rejecting connection at capacity",
			"remoteAddr", t.RemoteAddr(), "maxConnections", h.cfg.MaxConnections)
		h.metrics.ConnectionRejected()
		_ = t.Close(transport.CloseCapacity, "server at capacity")
		return
	}
	h.metrics.ConnectionOpened()
	h.logger.Info("connection established",
		"connectionId", conn.ID, "remoteAddr", conn.RemoteAddr())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.serveConn(conn)
	}()
}

// serveConn reads one connection's inbound stream and routes each message in
// arrival order. Messages from a single connection are handled strictly
// sequentially.
func (h *Hub) serveConn(conn *Connection) {
	defer h.cleanupConnection(conn)
	for {
		data, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, transport.ErrConnClosed) {
				h.logger.Debug("connection read ended",
					"connectionId", conn.ID, "error", err)
			}
			return
		}
		h.route(conn, data)
	}
}

// cleanupConnection runs the ordered disconnect path: detach the connection,
// leave its session, and notify the remaining members. Idempotent; close,
// read failure, and forced termination all funnel through here exactly once.
func (h *Hub) cleanupConnection(conn *Connection) {
	if _, ok := h.conns.remove(conn.ID); !ok {
		return
	}
	h.metrics.ConnectionClosed()

	documentID := conn.Document()
	if documentID != "" {
		h.leaveSession(conn, documentID)
	}
	h.logger.Info("connection closed", "connectionId", conn.ID, "userId", conn.User())
}

// leaveSession removes the connection's user from a session and broadcasts
// user_leave to the members that remain. Deleting the emptied session is the
// registry's job, done inside the same leave operation.
func (h *Hub) leaveSession(conn *Connection, documentID string) {
	userID := conn.User()
	removed, remaining, ok := h.sessions.leave(documentID, userID)
	if !ok {
		return
	}
	h.logger.Info("user left session", "documentId", documentID, "userId", userID)

	if len(remaining) == 0 {
		h.metrics.SessionClosed()
		h.logger.Info("session closed", "documentId", documentID)
		return
	}
	evt, err := protocol.NewMessage(protocol.TypeUserLeave, protocol.ServerUserID, conn.ID,
		protocol.PresenceEvent{DocumentID: documentID, User: removed})
	if err != nil {
		h.logger.Error("encoding user_leave failed", "error", err)
		return
	}
	h.broadcastMessage(remaining, evt, userID)
}

// Stats reports the admin snapshot.
func (h *Hub) Stats() Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Stats{
		ActiveConnections: h.conns.count(),
		ActiveSessions:    h.sessions.count(),
		UptimeMs:          h.nowFunc().Sub(h.startedAt).Milliseconds(),
		MemoryUsageBytes:  ms.Alloc,
	}
}

// SessionUsers lists the live presences of a document session. Unknown
// documents yield an empty list, not an error.
func (h *Hub) SessionUsers(documentID string) []protocol.Presence {
	return h.sessions.users(documentID)
}
