package hub

import (
	"sync"
	"time"

	"github.com/haasonsaas/syncroom/pkg/protocol"
)

// session is one document's live collaboration state. A session exists only
// while it has members, outside the brief window before the reaper evicts an
// idle one.
type session struct {
	documentID     string
	users          map[string]*protocol.Presence // keyed by userId
	createdAt      time.Time
	lastActivityAt time.Time
}

// members returns value copies of the session's presences. Callers must hold
// the registry mutex.
func (s *session) members() []protocol.Presence {
	out := make([]protocol.Presence, 0, len(s.users))
	for _, p := range s.users {
		out = append(out, *p)
	}
	return out
}

// sessionRegistry holds every active document session. One mutex serializes
// all session mutation and is held through membership snapshots, so fan-out
// order matches mutation order. Sessions are the unit of broadcast isolation;
// a message never crosses session boundaries.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session
	nowFunc  func() time.Time
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions: map[string]*session{},
		nowFunc:  time.Now,
	}
}

// join adds userID to the document's session, creating the session lazily.
// A rejoin by the same userID replaces the previous presence rather than
// duplicating it. Returns the joiner's presence, a snapshot of all members
// including the joiner, and whether this call created the session.
func (r *sessionRegistry) join(documentID, userID, connectionID string) (protocol.Presence, []protocol.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	s, ok := r.sessions[documentID]
	created := false
	if !ok {
		s = &session{
			documentID: documentID,
			users:      map[string]*protocol.Presence{},
			createdAt:  now,
		}
		r.sessions[documentID] = s
		created = true
	}

	p := &protocol.Presence{
		UserID:       userID,
		Name:         userID,
		Color:        protocol.ColorFor(userID),
		LastSeen:     now.UnixMilli(),
		ConnectionID: connectionID,
	}
	s.users[userID] = p
	s.lastActivityAt = now
	return *p, s.members(), created
}

// leave removes userID from the document's session and deletes the session
// in the same operation when its user set empties. Returns the removed
// presence, the remaining members, and whether a removal happened.
func (r *sessionRegistry) leave(documentID, userID string) (protocol.Presence, []protocol.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[documentID]
	if !ok {
		return protocol.Presence{}, nil, false
	}
	p, ok := s.users[userID]
	if !ok {
		return protocol.Presence{}, nil, false
	}
	delete(s.users, userID)
	if len(s.users) == 0 {
		delete(r.sessions, documentID)
		return *p, nil, true
	}
	s.lastActivityAt = r.nowFunc()
	return *p, s.members(), true
}

// touch marks content activity on a session.
func (r *sessionRegistry) touch(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[documentID]
	if !ok {
		return false
	}
	s.lastActivityAt = r.nowFunc()
	return true
}

// updatePresence applies fn to a member's presence and refreshes both the
// member's lastSeen and the session activity clock. Reports whether the
// member was found; a nil fn just refreshes the clocks.
func (r *sessionRegistry) updatePresence(documentID, userID string, fn func(*protocol.Presence)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[documentID]
	if !ok {
		return false
	}
	p, ok := s.users[userID]
	if !ok {
		return false
	}
	if fn != nil {
		fn(p)
	}
	now := r.nowFunc()
	p.LastSeen = now.UnixMilli()
	s.lastActivityAt = now
	return true
}

// users returns the members of a session, or an empty slice when the
// document has no active session. Never an error; absence is a normal state.
func (r *sessionRegistry) users(documentID string) []protocol.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[documentID]
	if !ok {
		return []protocol.Presence{}
	}
	return s.members()
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// reapIdle evicts every session idle longer than timeout, regardless of
// remaining members, and returns the evicted document ids.
func (r *sessionRegistry) reapIdle(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	var evicted []string
	for id, s := range r.sessions {
		if now.Sub(s.lastActivityAt) > timeout {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
