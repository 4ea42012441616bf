package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/syncroom/internal/transport"
)

// ErrServerFull rejects admission once the connection cap is reached.
var ErrServerFull = errors.New("hub: server at capacity")

// Connection is the hub's record of one live client transport. The server
// assigns the ID; clients echo it back in the envelope's sessionId field.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn transport.Conn

	mu              sync.Mutex
	userID          string
	documentID      string
	lastHeartbeatAt time.Time
}

// Touch refreshes the liveness clock. Called for every inbound message.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	c.lastHeartbeatAt = now
	c.mu.Unlock()
}

// LastHeartbeatAt returns when the connection last produced an inbound message.
func (c *Connection) LastHeartbeatAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeatAt
}

// BindUser records which user this connection speaks for.
func (c *Connection) BindUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// User returns the bound user id, or "" before the first identifying message.
func (c *Connection) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// BindDocument records the session the connection joined. A connection
// belongs to at most one document session at a time.
func (c *Connection) BindDocument(documentID string) {
	c.mu.Lock()
	c.documentID = documentID
	c.mu.Unlock()
}

// Document returns the joined document id, or "" when not in a session.
func (c *Connection) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

// Send enqueues data on the transport without blocking.
func (c *Connection) Send(data []byte) error { return c.conn.Send(data) }

// Ready reports whether the transport accepts writes.
func (c *Connection) Ready() bool { return c.conn.Ready() }

// Close performs a graceful transport close with the given status.
func (c *Connection) Close(code int, reason string) error { return c.conn.Close(code, reason) }

// Terminate tears the transport down without a close handshake.
func (c *Connection) Terminate() error { return c.conn.Terminate() }

// RemoteAddr reports the peer address.
func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr() }

// connRegistry tracks live connections and enforces the admission cap.
type connRegistry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	max     int
	nowFunc func() time.Time
}

func newConnRegistry(max int) *connRegistry {
	return &connRegistry{
		conns:   map[string]*Connection{},
		max:     max,
		nowFunc: time.Now,
	}
}

// admit registers a transport as a live connection. At capacity it returns
// ErrServerFull and records nothing; the cap is checked at admission only,
// never re-checked per message.
func (r *connRegistry) admit(t transport.Conn) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.max {
		return nil, ErrServerFull
	}
	now := r.nowFunc()
	c := &Connection{
		ID:              uuid.NewString(),
		ConnectedAt:     now,
		conn:            t,
		lastHeartbeatAt: now,
	}
	r.conns[c.ID] = c
	return c, nil
}

// remove detaches a connection and returns its record. Idempotent: a second
// removal returns (nil, false) and does nothing.
func (r *connRegistry) remove(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	return c, true
}

func (r *connRegistry) get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *connRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// snapshot returns the live connections for iteration outside the lock.
func (r *connRegistry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
