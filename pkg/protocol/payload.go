package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload reports a payload that decoded but misses required keys.
var ErrInvalidPayload = errors.New("protocol: invalid payload")

// A Validator checks that a decoded payload satisfies its minimum shape.
type Validator interface {
	Validate() error
}

// UnmarshalPayload decodes m's payload into v and validates it, so handlers
// receive well-formed variants or nothing.
func (m *Message) UnmarshalPayload(v Validator) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v.Validate()
}

// CursorPosition is a cursor location on the document canvas.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DocumentLoadPayload joins (or lazily creates) a document session.
type DocumentLoadPayload struct {
	DocumentID string `json:"documentId"`
}

func (p *DocumentLoadPayload) Validate() error {
	if p.DocumentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	}
	return nil
}

// DocumentUpdatePayload carries opaque document patches. The hub relays
// patches without inspecting, applying, or merging them.
type DocumentUpdatePayload struct {
	DocumentID  string            `json:"documentId"`
	Patches     []json.RawMessage `json:"patches"`
	OperationID string            `json:"operationId,omitempty"`
}

func (p *DocumentUpdatePayload) Validate() error {
	if p.DocumentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	}
	if p.Patches == nil {
		return fmt.Errorf("%w: patches is required", ErrInvalidPayload)
	}
	return nil
}

// UpdateConfirmation is the echo a sender receives after a document_update
// is relayed. No conflict detection exists; there is deliberately no
// conflicts field here.
type UpdateConfirmation struct {
	Success     bool   `json:"success"`
	DocumentID  string `json:"documentId"`
	OperationID string `json:"operationId,omitempty"`
}

// SelectionChangePayload carries an opaque selection state.
type SelectionChangePayload struct {
	DocumentID string          `json:"documentId"`
	Selection  json.RawMessage `json:"selection"`
	Mode       string          `json:"mode,omitempty"`
}

func (p *SelectionChangePayload) Validate() error {
	if p.DocumentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	}
	if p.Selection == nil {
		return fmt.Errorf("%w: selection is required", ErrInvalidPayload)
	}
	return nil
}

// CursorMovePayload reports a cursor position, optionally with the viewport.
type CursorMovePayload struct {
	DocumentID string          `json:"documentId"`
	Position   *CursorPosition `json:"position"`
	Viewport   json.RawMessage `json:"viewport,omitempty"`
}

func (p *CursorMovePayload) Validate() error {
	if p.DocumentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	}
	if p.Position == nil {
		return fmt.Errorf("%w: position is required", ErrInvalidPayload)
	}
	return nil
}

// NodeOperationPayload is shared by node_create, node_update and node_delete.
type NodeOperationPayload struct {
	DocumentID  string          `json:"documentId"`
	NodeID      string          `json:"nodeId"`
	OperationID string          `json:"operationId"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (p *NodeOperationPayload) Validate() error {
	switch {
	case p.DocumentID == "":
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	case p.NodeID == "":
		return fmt.Errorf("%w: nodeId is required", ErrInvalidPayload)
	case p.OperationID == "":
		return fmt.Errorf("%w: operationId is required", ErrInvalidPayload)
	}
	return nil
}

// UserInfo carries optional display overrides in a user_join info update.
type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// UserJoinPayload updates a member's display name or color.
type UserJoinPayload struct {
	DocumentID string    `json:"documentId"`
	User       *UserInfo `json:"user,omitempty"`
}

func (p *UserJoinPayload) Validate() error {
	if p.DocumentID == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	}
	return nil
}

// PingPayload is a protocol-level liveness probe. Content is informational;
// liveness replies must never fail on payload shape.
type PingPayload struct {
	Message string `json:"message"`
}

func (p *PingPayload) Validate() error { return nil }

// ErrorPayload is the outbound-only error shape.
type ErrorPayload struct {
	Error string `json:"error"`
}

// SessionSnapshot answers a document_load with the session's current members,
// including the joiner.
type SessionSnapshot struct {
	DocumentID string     `json:"documentId"`
	Users      []Presence `json:"users"`
}

// PresenceEvent announces one member joining or leaving a session.
type PresenceEvent struct {
	DocumentID string   `json:"documentId"`
	User       Presence `json:"user"`
}
