package parkour

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SessionStore holds the sessions of all active players.
//
// Concurrency:
// The map lock is held only for lookups and insertions. Each session has its
// own lock, so mutations of one session are serialized while sessions of
// different players proceed independently. Reads never take a session lock:
// every commit publishes a snapshot that Get and All load atomically.
type SessionStore struct {
	entries map[uuid.UUID]*storeEntry
	mu      sync.RWMutex
}

type storeEntry struct {
	mu      sync.Mutex
	session Session
	removed bool

	// published is the last committed snapshot, nil once removed.
	published atomic.Pointer[Session]
}

// errBusy is returned by tryUpdate when the session is being updated.
var errBusy = errors.New("parkour: session busy")

func newStoreEntry(s Session) *storeEntry {
	e := &storeEntry{session: s}
	e.publish()
	return e
}

// publish makes the current session visible to readers. The entry lock must
// be held.
func (e *storeEntry) publish() {
	snap := e.session
	e.published.Store(&snap)
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[uuid.UUID]*storeEntry)}
}

// Create stores s as the active session of s.PlayerID. It fails with
// ErrAlreadyActive if the player already has a session.
func (st *SessionStore) Create(s Session) (Session, error) {
	if s.FrontierX < s.CurrentDistance {
		return Session{}, invalidf("distance %d is beyond frontier %d", s.CurrentDistance, s.FrontierX)
	}
	s.State = StateActive

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.entries[s.PlayerID]; ok {
		return Session{}, fmt.Errorf("%w: player %s", ErrAlreadyActive, s.PlayerID)
	}
	st.entries[s.PlayerID] = newStoreEntry(s)
	return s, nil
}

// Get returns the last committed snapshot of the player's session. It does
// not wait for an Update in progress.
func (st *SessionStore) Get(id uuid.UUID) (Session, error) {
	e, ok := st.entry(id)
	if !ok {
		return Session{}, notFound(id)
	}
	s := e.published.Load()
	if s == nil {
		return Session{}, notFound(id)
	}
	return *s, nil
}

// Update applies fn to a copy of the player's session and commits the copy if
// fn returns nil. fn runs while holding the player's lock, so calls for the
// same player never overlap.
func (st *SessionStore) Update(id uuid.UUID, fn func(s *Session) error) (Session, error) {
	e, ok := st.entry(id)
	if !ok {
		return Session{}, notFound(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(id, fn)
}

// tryUpdate is Update for callers that must not wait: it fails with errBusy
// when another update of the player is in progress.
func (st *SessionStore) tryUpdate(id uuid.UUID, fn func(s *Session) error) (Session, error) {
	e, ok := st.entry(id)
	if !ok {
		return Session{}, notFound(id)
	}

	if !e.mu.TryLock() {
		return Session{}, errBusy
	}
	defer e.mu.Unlock()
	return e.apply(id, fn)
}

// apply runs fn on a copy of the session and commits it. The entry lock must
// be held.
func (e *storeEntry) apply(id uuid.UUID, fn func(s *Session) error) (Session, error) {
	if e.removed {
		return Session{}, notFound(id)
	}

	s := e.session
	if err := fn(&s); err != nil {
		return e.session, err
	}
	s.PlayerID = e.session.PlayerID
	s.State = e.session.State
	if err := s.check(e.session); err != nil {
		return e.session, err
	}
	e.session = s
	e.publish()
	return s, nil
}

// Remove deletes the player's session and returns its final snapshot. An
// Update in progress for the player completes first.
func (st *SessionStore) Remove(id uuid.UUID) (Session, error) {
	st.mu.Lock()
	e, ok := st.entries[id]
	if ok {
		delete(st.entries, id)
	}
	st.mu.Unlock()

	if !ok {
		return Session{}, notFound(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	e.published.Store(nil)
	s := e.session
	s.State = StateTerminated
	return s, nil
}

// Len returns the number of active sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// IDs returns the players with an active session.
func (st *SessionStore) IDs() []uuid.UUID {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	return ids
}

// All returns snapshots of every active session.
func (st *SessionStore) All() []Session {
	ids := st.IDs()
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, err := st.Get(id); err == nil {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// entry retrieves the entry of a player.
func (st *SessionStore) entry(id uuid.UUID) (*storeEntry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.entries[id]
	return e, ok
}

func notFound(id uuid.UUID) error {
	return fmt.Errorf("%w: player %s", ErrNotFound, id)
}
