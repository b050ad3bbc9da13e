package chat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbchat/dbchat/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clock    func() time.Time
	newID    func() string
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

func NewStoreWithClock(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		sessions: map[string]*Session{},
		clock:    clock,
		newID:    func() string { return uuid.NewString() },
	}
}

func (s *Store) Create() *Session {
	session := newSession(s.newID(), s.clock)
	s.mu.Lock()
	s.sessions[session.ID] = session
	count := len(s.sessions)
	s.mu.Unlock()
	observability.SetActiveSessions(count)
	return session
}

// GetOrCreate returns the session stored under id, creating it when missing.
// Front ends with their own conversation ids use it instead of Create.
func (s *Store) GetOrCreate(id string) (*Session, bool) {
	s.mu.Lock()
	if session, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return session, false
	}
	session := newSession(id, s.clock)
	s.sessions[id] = session
	count := len(s.sessions)
	s.mu.Unlock()
	observability.SetActiveSessions(count)
	return session, true
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes the session and closes its connection.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	observability.SetActiveSessions(count)
	return session.Close()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns sessions ordered by creation time.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ReapIdle closes and removes sessions whose last activity is older than
// idle. It returns the removed ids.
func (s *Store) ReapIdle(idle time.Duration) []string {
	cutoff := s.clock().UTC().Add(-idle)
	s.mu.Lock()
	expired := make([]*Session, 0)
	for id, session := range s.sessions {
		if session.LastActive().Before(cutoff) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, session := range expired {
		_ = session.Close()
		ids = append(ids, session.ID)
	}
	observability.SetActiveSessions(count)
	observability.IncrementReapedSessions(len(ids))
	sort.Strings(ids)
	return ids
}

// Close closes every session's connection and empties the store.
func (s *Store) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = map[string]*Session{}
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	observability.SetActiveSessions(0)
	return errors.Join(errs...)
}
