// Package protocol defines the wire format the collaboration hub speaks:
// the message envelope, the per-type payload shapes, and the presence model
// shared between server and editor clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ServerUserID marks messages originated by the hub itself (pongs, errors,
// snapshots, presence events) rather than relayed from a client.
const ServerUserID = "server"

// ErrInvalidMessage reports a wire message that failed envelope validation.
var ErrInvalidMessage = errors.New("protocol: invalid message")

// MessageType identifies the kind of a collaboration message.
type MessageType string

// The closed set of message types. Values outside this set still decode so
// the router can apply its forward-compatibility policy (log and ignore).
const (
	TypeDocumentLoad    MessageType = "document_load"
	TypeDocumentUpdate  MessageType = "document_update"
	TypeSelectionChange MessageType = "selection_change"
	TypeCursorMove      MessageType = "cursor_move"
	TypeNodeCreate      MessageType = "node_create"
	TypeNodeUpdate      MessageType = "node_update"
	TypeNodeDelete      MessageType = "node_delete"
	TypeUserJoin        MessageType = "user_join"
	TypeUserLeave       MessageType = "user_leave"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
)

// Known reports whether t belongs to the closed type set.
func (t MessageType) Known() bool {
	switch t {
	case TypeDocumentLoad, TypeDocumentUpdate, TypeSelectionChange, TypeCursorMove,
		TypeNodeCreate, TypeNodeUpdate, TypeNodeDelete, TypeUserJoin, TypeUserLeave,
		TypePing, TypePong, TypeError:
		return true
	}
	return false
}

// Message is the wire envelope. All five fields are mandatory and validated
// before any handler runs; an invalid message never mutates hub state.
//
// SessionID carries the originating connection's id, not a document id. The
// name is a historical collision preserved for wire compatibility with
// existing editor clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"` // milliseconds since epoch
	UserID    string          `json:"userId"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses raw bytes into a validated Message. Decoding is side-effect
// free: malformed input yields ErrInvalidMessage and nothing else.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewMessage builds a server-originated message stamped with the current
// time. The payload is marshaled eagerly so handler code fails fast on
// unencodable values instead of at send time.
func NewMessage(t MessageType, userID, connectionID string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
	}
	return &Message{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		UserID:    userID,
		SessionID: connectionID,
		Payload:   raw,
	}, nil
}

// Encode renders the message back to wire bytes.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode message: %w", err)
	}
	return data, nil
}

func (m *Message) validate() error {
	switch {
	case m.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	case m.Timestamp <= 0:
		return fmt.Errorf("%w: missing or invalid timestamp", ErrInvalidMessage)
	case m.UserID == "":
		return fmt.Errorf("%w: missing userId", ErrInvalidMessage)
	case m.SessionID == "":
		return fmt.Errorf("%w: missing sessionId", ErrInvalidMessage)
	}
	if !isJSONObject(m.Payload) {
		return fmt.Errorf("%w: payload must be an object", ErrInvalidMessage)
	}
	return nil
}

// isJSONObject reports whether raw starts with '{' after leading whitespace.
func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b == '{'
		}
	}
	return false
}
