package hub

import (
	"github.com/haasonsaas/syncroom/pkg/protocol"
)

// Error reply texts are part of the wire contract with editor clients.
const (
	errInvalidFormat = "Invalid message format"
	errNotInSession  = "Not in document session"
	errInternal      = "Internal server error"
)

// route validates and dispatches one inbound message. Handler failures and
// panics are contained at this boundary: they yield an error reply to the
// sender only and never disturb other connections.
func (h *Hub) route(conn *Connection, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		h.logger.Debug("rejecting malformed message", "connectionId", conn.ID, "error", err)
		h.sendError(conn, errInvalidFormat)
		return
	}

	// Every well-formed inbound message counts as liveness.
	conn.Touch(h.nowFunc())
	h.metrics.MessageReceived(string(msg.Type))

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("message handler panicked",
				"type", msg.Type, "connectionId", conn.ID, "panic", r)
			h.sendError(conn, errInternal)
		}
	}()

	var handlerErr error
	switch msg.Type {
	case protocol.TypeDocumentLoad:
		handlerErr = h.handleDocumentLoad(conn, msg)
	case protocol.TypeDocumentUpdate:
		handlerErr = h.handleDocumentUpdate(conn, msg, raw)
	case protocol.TypeSelectionChange:
		handlerErr = h.handleSelectionChange(conn, msg, raw)
	case protocol.TypeCursorMove:
		handlerErr = h.handleCursorMove(conn, msg, raw)
	case protocol.TypeNodeCreate, protocol.TypeNodeUpdate, protocol.TypeNodeDelete:
		handlerErr = h.handleNodeOperation(conn, msg, raw)
	case protocol.TypeUserJoin:
		handlerErr = h.handleUserInfo(conn, msg, raw)
	case protocol.TypePing:
		handlerErr = h.handlePing(conn, msg)
	case protocol.TypePong, protocol.TypeUserLeave, protocol.TypeError:
		// Outbound-only kinds; the liveness touch above is their whole effect.
		h.logger.Debug("ignoring outbound-only message", "type", msg.Type, "connectionId", conn.ID)
	default:
		// Unknown types are tolerated for forward compatibility.
		h.logger.Warn("ignoring unknown message type", "type", msg.Type, "connectionId", conn.ID)
	}
	if handlerErr != nil {
		h.logger.Error("message handler failed",
			"type", msg.Type, "connectionId", conn.ID, "error", handlerErr)
		h.sendError(conn, errInternal)
	}
}

// sessionMembers resolves the membership of the connection's current session.
// Reports false when the connection never joined one or the session has since
// been evicted.
func (h *Hub) sessionMembers(conn *Connection) ([]protocol.Presence, bool) {
	documentID := conn.Document()
	if documentID == "" {
		return nil, false
	}
	members := h.sessions.users(documentID)
	if len(members) == 0 {
		return nil, false
	}
	return members, true
}

// handleDocumentLoad joins the sender to the document's session, announces
// the join to the other members, and answers the sender with a membership
// snapshot that includes the joiner.
func (h *Hub) handleDocumentLoad(conn *Connection, msg *protocol.Message) error {
	var p protocol.DocumentLoadPayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.sendError(conn, errInvalidFormat)
		return nil
	}

	// A connection tracks one document at a time; loading another leaves
	// the previous session first.
	if prev := conn.Document(); prev != "" && prev != p.DocumentID {
		h.leaveSession(conn, prev)
	}

	conn.BindUser(msg.UserID)
	conn.BindDocument(p.DocumentID)

	joined, members, created := h.sessions.join(p.DocumentID, msg.UserID, conn.ID)
	if created {
		h.metrics.SessionCreated()
		h.logger.Info("session created", "documentId", p.DocumentID)
	}
	h.logger.Info("user joined session",
		"documentId", p.DocumentID, "userId", msg.UserID, "connectionId", conn.ID)

	joinEvt, err := protocol.NewMessage(protocol.TypeUserJoin, protocol.ServerUserID, conn.ID,
		protocol.PresenceEvent{DocumentID: p.DocumentID, User: joined})
	if err != nil {
		return err
	}
	h.broadcastMessage(members, joinEvt, msg.UserID)

	snapshot, err := protocol.NewMessage(protocol.TypeDocumentLoad, protocol.ServerUserID, conn.ID,
		protocol.SessionSnapshot{DocumentID: p.DocumentID, Users: members})
	if err != nil {
		return err
	}
	h.send(conn, snapshot)
	return nil
}

// handleDocumentUpdate relays opaque patches to the rest of the session and
// echoes a confirmation to the sender. The hub never inspects, applies, or
// merges patches.
func (h *Hub) handleDocumentUpdate(conn *Connection, msg *protocol.Message, raw []byte) error {
	var p protocol.DocumentUpdatePayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.sendError(conn, errInvalidFormat)
		return nil
	}
	members, ok := h.sessionMembers(conn)
	if !ok {
		h.sendError(conn, errNotInSession)
		return nil
	}
	h.sessions.touch(conn.Document())
	h.broadcast(members, raw, msg.UserID)

	confirm, err := protocol.NewMessage(protocol.TypeDocumentUpdate, protocol.ServerUserID, conn.ID,
		protocol.UpdateConfirmation{Success: true, DocumentID: p.DocumentID, OperationID: p.OperationID})
	if err != nil {
		return err
	}
	h.send(conn, confirm)
	return nil
}

// handleSelectionChange relays a selection update. Without a session the
// message is dropped silently: a stale selection is harmless, unlike a lost
// content update.
func (h *Hub) handleSelectionChange(conn *Connection, msg *protocol.Message, raw []byte) error {
	var p protocol.SelectionChangePayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.sendError(conn, errInvalidFormat)
		return nil
	}
	members, ok := h.sessionMembers(conn)
	if !ok {
		return nil
	}
	h.sessions.updatePresence(conn.Document(), msg.UserID, nil)
	h.broadcast(members, raw, msg.UserID)
	return nil
}

// handleCursorMove records the sender's cursor position on their presence
// and relays the move. Silently dropped without a session.
func (h *Hub) handleCursorMove(conn *Connection, msg *protocol.Message, raw []byte) error {
	var p protocol.CursorMovePayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.sendError(conn, errInvalidFormat)
		return nil
	}
	members, ok := h.sessionMembers(conn)
	if !ok {
		return nil
	}
	h.sessions.updatePresence(conn.Document(), msg.UserID, func(pr *protocol.Presence) {
		pr.Cursor = p.Position
	})
	h.broadcast(members, raw, msg.UserID)
	return nil
}

// handleNodeOperation relays node create/update/delete operations. These are
// content mutations, so a sender outside a session gets an explicit error
// rather than a silent drop.
func (h *Hub) handleNodeOperation(conn *Connection, msg *protocol.Message, raw []byte) error {
	var p protocol.NodeOperationPayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.sendError(conn, errInvalidFormat)
		return nil
	}
	members, ok := h.sessionMembers(conn)
	if !ok {
		h.sendError(conn, errNotInSession)
		return nil
	}
	h.sessions.touch(conn.Document())
	h.broadcast(members, raw, msg.UserID)
	return nil
}

// handleUserInfo merges display overrides into the sender's presence and
// relays the update. Silently dropped without a session.
func (h *Hub) handleUserInfo(conn *Connection, msg *protocol.Message, raw []byte) error {
	var p protocol.UserJoinPayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.sendError(conn, errInvalidFormat)
		return nil
	}
	members, ok := h.sessionMembers(conn)
	if !ok {
		return nil
	}
	h.sessions.updatePresence(conn.Document(), msg.UserID, func(pr *protocol.Presence) {
		if p.User == nil {
			return
		}
		if p.User.Name != "" {
			pr.Name = p.User.Name
		}
		if p.User.Color != "" {
			pr.Color = p.User.Color
		}
	})
	h.broadcast(members, raw, msg.UserID)
	return nil
}

// handlePing answers the sender only; pings never fan out.
func (h *Hub) handlePing(conn *Connection, msg *protocol.Message) error {
	pong, err := protocol.NewMessage(protocol.TypePong, protocol.ServerUserID, conn.ID,
		protocol.PingPayload{Message: "pong"})
	if err != nil {
		return err
	}
	h.send(conn, pong)
	return nil
}
