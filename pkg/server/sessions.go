package server

import (
	"sort"
	"sync"

	"fileshare/pkg/protocol"
	"fileshare/pkg/types"
)

// SessionTable maps claimed usernames to their live sessions. It references
// sessions for lookup but never owns them; each session handler removes its
// own entry.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[types.Username]*Session
	closing  bool
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[types.Username]*Session),
	}
}

// Claim registers s under its username if nobody holds it yet. The check
// and the insert happen under one lock.
func (t *SessionTable) Claim(s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return protocol.ErrServerClosed
	}
	if _, taken := t.sessions[s.username]; taken {
		return protocol.ErrUsernameTaken
	}
	t.sessions[s.username] = s
	return nil
}

// Release removes s, but only if the entry still points at s.
func (t *SessionTable) Release(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.sessions[s.username]; ok && current == s {
		delete(t.sessions, s.username)
		return true
	}
	return false
}

// Lookup returns the live session holding username.
func (t *SessionTable) Lookup(username types.Username) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[username]
	return s, ok
}

// Snapshot returns the current sessions ordered by username.
func (t *SessionTable) Snapshot() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// CloseAll refuses further claims and returns every session still held.
func (t *SessionTable) CloseAll() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closing = true
	return t.snapshotLocked()
}

func (t *SessionTable) snapshotLocked() []*Session {
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].username < out[j].username })
	return out
}

// Usernames lists the claimed usernames in order.
func (t *SessionTable) Usernames() []types.Username {
	sessions := t.Snapshot()
	out := make([]types.Username, len(sessions))
	for i, s := range sessions {
		out[i] = s.username
	}
	return out
}

func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
