package hub

import (
	"context"
	"time"

	"github.com/haasonsaas/syncroom/pkg/protocol"
)

// heartbeatLoop probes connection liveness every heartbeat interval until
// ctx ends.
func (h *Hub) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweepConnections()
		}
	}
}

// sweepConnections terminates connections silent past twice the heartbeat
// interval and pings the rest. Any inbound message resets the window, so a
// client answering with pongs (or anything else) is never terminated.
func (h *Hub) sweepConnections() {
	now := h.nowFunc()
	window := 2 * h.cfg.HeartbeatInterval
	for _, conn := range h.conns.snapshot() {
		silence := now.Sub(conn.LastHeartbeatAt())
		if silence > window {
			h.logger.Warn("terminating unresponsive connection",
				"connectionId", conn.ID, "silence", silence.String())
			h.metrics.ConnectionTerminated()
			// The client is unreachable, so nothing is sent; the read loop
			// observes the teardown and runs the ordinary disconnect cleanup.
			_ = conn.Terminate()
			continue
		}
		if !conn.Ready() {
			continue
		}
		ping, err := protocol.NewMessage(protocol.TypePing, protocol.ServerUserID, conn.ID,
			protocol.PingPayload{Message: "ping"})
		if err != nil {
			continue
		}
		h.send(conn, ping)
	}
}
