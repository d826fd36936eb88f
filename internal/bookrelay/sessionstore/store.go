// Package sessionstore keeps booking sessions in memory. Mutations of one session
// are serialized by a per-session lock; different sessions never contend.
package sessionstore

import (
	"sync"
	"time"

	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/common/uuid"
)

type entry struct {
	mu      sync.Mutex
	s       Session
	removed bool
}

// Store is an in-memory session table.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the store clock.
func (st *Store) Now() time.Time {
	return st.now()
}

// Create stores a new session in the created state and returns it.
func (st *Store) Create(req relaycommon.BookingRequest, ttl time.Duration) Session {
	now := st.now()
	e := &entry{s: Session{
		Request:   req.Clone(),
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}}

	st.mu.Lock()
	defer st.mu.Unlock()
	for {
		id := uuid.NewString()
		if _, exists := st.entries[id]; !exists {
			e.s.ID = id
			st.entries[id] = e
			return e.s.clone()
		}
	}
}

// Get returns a copy of the session or ErrSessionNotFound.
func (st *Store) Get(id string) (Session, error) {
	e := st.lookup(id)
	if e == nil {
		return Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrSessionNotFound
	}
	return e.s.clone(), nil
}

// Update applies mutate to the session under its lock. If mutate returns an error
// the session is left unchanged and the error is returned. Otherwise the updated
// session is returned.
func (st *Store) Update(id string, mutate func(*Session) error) (Session, error) {
	e := st.lookup(id)
	if e == nil {
		return Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrSessionNotFound
	}
	draft := e.s.clone()
	if err := mutate(&draft); err != nil {
		return e.s.clone(), err
	}
	draft.ID = e.s.ID
	draft.UpdatedAt = st.now()
	e.s = draft
	return e.s.clone(), nil
}

// Delete removes the session. Deleting an unknown session is a no-op.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	e, ok := st.entries[id]
	delete(st.entries, id)
	st.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

// SweepExpired moves every non-terminal session whose lifetime has elapsed at now
// to the expired state, removes it and returns the removed ids.
func (st *Store) SweepExpired(now time.Time) []string {
	st.mu.RLock()
	candidates := make([]*entry, 0, len(st.entries))
	for _, e := range st.entries {
		candidates = append(candidates, e)
	}
	st.mu.RUnlock()

	var swept []*entry
	var ids []string
	for _, e := range candidates {
		e.mu.Lock()
		if !e.removed && !e.s.State.IsTerminal() && e.s.Expired(now) {
			e.s.State = StateExpired
			e.s.UpdatedAt = now
			e.removed = true
			swept = append(swept, e)
			ids = append(ids, e.s.ID)
		}
		e.mu.Unlock()
	}
	if len(swept) == 0 {
		return nil
	}

	st.mu.Lock()
	for i, e := range swept {
		if cur, ok := st.entries[ids[i]]; ok && cur == e {
			delete(st.entries, ids[i])
		}
	}
	st.mu.Unlock()
	return ids
}

// Drain removes every session and returns their last snapshots.
func (st *Store) Drain() []Session {
	st.mu.Lock()
	all := st.entries
	st.entries = make(map[string]*entry)
	st.mu.Unlock()

	out := make([]Session, 0, len(all))
	for _, e := range all {
		e.mu.Lock()
		if !e.removed {
			e.removed = true
			out = append(out, e.s.clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

func (st *Store) lookup(id string) *entry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.entries[id]
}
