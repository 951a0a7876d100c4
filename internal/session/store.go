// Package session holds the in-flight conversation state of every user.
package session

import (
	"sync"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
)

// Store keeps one session per user. Callers that read-modify-write a session
// must hold the user's lock from Lock for the whole sequence.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		locks:    make(map[string]*userLock),
	}
}

// Lock acquires the per-user lock and returns its release function. Locks
// of different users never contend.
func (s *Store) Lock(userID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.locksMu.Unlock()
	}
}

// Get returns the user's session, if any.
func (s *Store) Get(userID string) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Put stores sess under its user id, replacing any previous session.
func (s *Store) Put(sess *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
}

// Advance moves sess to step. Writers hold the user's lock; the store lock
// keeps CountByState and Idle consistent with them.
func (s *Store) Advance(sess *domain.Session, step domain.Step, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Advance(step, now)
}

// Delete removes the user's session and reports whether one existed.
func (s *Store) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CountByState groups live sessions by state.
func (s *Store) CountByState() map[domain.State]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.State]int)
	for _, sess := range s.sessions {
		out[sess.State()]++
	}
	return out
}

// Idle returns the users whose session has not changed for longer than ttl.
func (s *Store) Idle(now time.Time, ttl time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for userID, sess := range s.sessions {
		if sess.IdleFor(now) > ttl {
			out = append(out, userID)
		}
	}
	return out
}
