package hub

import (
	"context"
	"time"
)

// reaperLoop evicts idle sessions, scanning at a quarter of the session
// timeout until ctx ends.
func (h *Hub) reaperLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.SessionTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.reapSessions()
		}
	}
}

// reapSessions drops sessions idle past the session timeout regardless of
// remaining members; stale presences imply stale connections. This is the
// coarse backstop to the immediate delete-when-empty on leave.
func (h *Hub) reapSessions() {
	evicted := h.sessions.reapIdle(h.cfg.SessionTimeout)
	if len(evicted) == 0 {
		return
	}
	h.metrics.SessionsReaped(len(evicted))
	for _, documentID := range evicted {
		h.logger.Info("session reaped after inactivity", "documentId", documentID)
	}
}
