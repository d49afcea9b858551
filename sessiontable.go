package dtlsproxy

import (
	"fmt"
	"sort"
	"sync"
)

// SessionTable is the map from peer identity to per-peer session
// state. The C source uses an intrusive singly-linked list with linear
// search; per §9 of the spec this implementation substitutes a hash
// map, preserving the invariants: unique keys, O(session-count)
// worst-case lookup, and every session visited exactly once on
// shutdown iteration.
//
// All mutation happens from the proxy's accept/read goroutines, so the
// table is guarded by a mutex rather than relying on a single OS
// thread the way the original reactor design does.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*Session
	indices  map[int]struct{} // in-use indices, for smallest-unused assignment
}

// NewSessionTable returns an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[string]*Session),
		indices:  make(map[int]struct{}),
	}
}

// NewSession allocates a session for peer, assigning the smallest
// unused non-negative index. Fails if the identity is already present,
// mirroring new_session's "already present" failure mode.
func (t *SessionTable) NewSession(peer PeerIdentity) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[peer.Key()]; exists {
		return nil, fmt.Errorf("session already exists for peer %s", peer)
	}

	idx := t.smallestUnusedIndexLocked()
	s := &Session{
		peerIdentity: peer,
		index:        idx,
	}
	t.sessions[peer.Key()] = s
	t.indices[idx] = struct{}{}
	return s, nil
}

func (t *SessionTable) smallestUnusedIndexLocked() int {
	for i := 0; ; i++ {
		if _, used := t.indices[i]; !used {
			return i
		}
	}
}

// Find looks up the live session for peer, if any.
func (t *SessionTable) Find(peer PeerIdentity) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[peer.Key()]
	return s, ok
}

// Free removes session from the table and releases its index for
// reuse. The caller must have already stopped the session.
func (t *SessionTable) Free(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, s.peerIdentity.Key())
	delete(t.indices, s.index)
}

// Len reports the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Each iterates a snapshot of the live sessions, in index order, the
// way proxy_exit's `while(sc) { ...; sc = sc->next; }` walk visits
// every session exactly once. Safe to call concurrently with Free.
func (t *SessionTable) Each(fn func(*Session)) {
	t.mu.Lock()
	snapshot := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		snapshot = append(snapshot, s)
	}
	t.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].index < snapshot[j].index })
	for _, s := range snapshot {
		fn(s)
	}
}
