package hub

import (
	"errors"

	"github.com/haasonsaas/syncroom/internal/transport"
	"github.com/haasonsaas/syncroom/pkg/protocol"
)

// broadcast fans data out to every member of a session except excludeUserID.
// Members whose connection is gone are skipped without error (expected under
// concurrent disconnects), and a backpressured recipient is dropped rather
// than stalling the rest. Returns the number of deliveries enqueued.
func (h *Hub) broadcast(members []protocol.Presence, data []byte, excludeUserID string) int {
	delivered := 0
	for _, member := range members {
		if member.UserID == excludeUserID {
			continue
		}
		conn, ok := h.conns.get(member.ConnectionID)
		if !ok {
			continue
		}
		if !conn.Ready() {
			continue
		}
		if err := conn.Send(data); err != nil {
			if errors.Is(err, transport.ErrSendBufferFull) {
				h.logger.Debug("dropping broadcast to backpressured connection",
					"connectionId", conn.ID, "userId", member.UserID)
			}
			continue
		}
		delivered++
	}
	h.metrics.BroadcastSent()
	return delivered
}

// broadcastMessage encodes a server-originated message and fans it out.
func (h *Hub) broadcastMessage(members []protocol.Presence, msg *protocol.Message, excludeUserID string) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("encoding broadcast failed", "type", msg.Type, "error", err)
		return
	}
	h.broadcast(members, data, excludeUserID)
}

// send delivers a server-originated message to a single connection. Send
// failures are logged and absorbed; replies are best-effort.
func (h *Hub) send(conn *Connection, msg *protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("encoding reply failed", "type", msg.Type, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		h.logger.Debug("dropping reply", "connectionId", conn.ID, "type", msg.Type, "error", err)
	}
}

// sendError sends a protocol error reply to one connection.
func (h *Hub) sendError(conn *Connection, text string) {
	msg, err := protocol.NewMessage(protocol.TypeError, protocol.ServerUserID, conn.ID,
		protocol.ErrorPayload{Error: text})
	if err != nil {
		h.logger.Error("encoding error reply failed", "error", err)
		return
	}
	h.send(conn, msg)
}
