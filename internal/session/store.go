package session

import (
	"log/slog"
	"sync"
)

// DefaultCapacity is the maximum number of sessions held concurrently
// before the oldest (by insertion order) is evicted (spec §4.5).
const DefaultCapacity = 100

// Store is a capacity-limited, insertion-order-eviction session registry.
// A single exclusive lock guards both the map and the order slice: the
// gateway touches the store once per connection (GetOrCreate at
// handshake), not per frame, so a plain Mutex (rather than RWMutex) keeps
// GetOrCreate's read-or-insert atomic without a second code path.
type Store struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*Session
	order    []string // insertion order, oldest first
}

// NewStore creates a Store with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, if present.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetOrCreate returns the existing session for id, or atomically creates
// one with cfg if none exists. If creating it would exceed capacity, the
// oldest session (by insertion order) is evicted first.
func (s *Store) GetOrCreate(id string, cfg Config) (sess *Session, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		return existing, false
	}

	if len(s.sessions) >= s.capacity {
		s.evictOldestLocked()
	}

	sess = New(id, cfg)
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	return sess, true
}

// Delete removes a session explicitly (normal close).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
}

// Len reports the current number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	slog.Info("session: evicting oldest to honor capacity", "session_id", oldest, "capacity", s.capacity)
	s.deleteLocked(oldest)
}

func (s *Store) deleteLocked(id string) {
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
