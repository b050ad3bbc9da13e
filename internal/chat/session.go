package chat

import (
	"sync"
	"time"
)

// Session is one conversation. Turns are serialized with LockTurn, and
// replacing or closing the connection waits for the running turn. The
// remaining methods are safe for concurrent readers.
type Session struct {
	ID        string
	CreatedAt time.Time

	turnMu sync.Mutex

	mu         sync.RWMutex
	transcript []Message
	turns      []Turn
	conn       *Connection
	lastActive time.Time
	clock      func() time.Time
}

func newSession(id string, clock func() time.Time) *Session {
	now := clock().UTC()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		transcript: []Message{{Role: RoleAssistant, Text: Greeting, CreatedAt: now}},
		lastActive: now,
		clock:      clock,
	}
}

func (s *Session) LockTurn() { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }

func (s *Session) now() time.Time {
	return s.clock().UTC()
}

// Append adds one message to the transcript and returns it with its timestamp.
func (s *Session) Append(role Role, text string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{Role: role, Text: text, CreatedAt: s.now()}
	s.transcript = append(s.transcript, msg)
	s.lastActive = msg.CreatedAt
	return msg
}

// RecordTurn stores a finished turn and assigns its 1-based index.
func (s *Session) RecordTurn(turn Turn) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn.Index = len(s.turns) + 1
	s.turns = append(s.turns, turn)
	s.lastActive = s.now()
	return turn
}

func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// History returns the transcript without the opening greeting.
func (s *Session) History() []Message {
	transcript := s.Transcript()
	if len(transcript) > 0 && transcript[0].Role == RoleAssistant && transcript[0].Text == Greeting {
		return transcript[1:]
	}
	return transcript
}

func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Connection() *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// SetConnection installs conn and closes the one it replaces. It must not be
// called while holding the turn lock.
func (s *Session) SetConnection(conn *Connection) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.swapConnection(conn)
}

// EnsureConnection returns the current connection, calling open to create one
// when there is none. Concurrent callers share a single open.
func (s *Session) EnsureConnection(open func() (*Connection, error)) (*Connection, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if conn := s.Connection(); conn != nil {
		return conn, nil
	}
	conn, err := open()
	if err != nil {
		return nil, err
	}
	return conn, s.swapConnection(conn)
}

func (s *Session) swapConnection(conn *Connection) error {
	s.mu.Lock()
	previous := s.conn
	s.conn = conn
	s.lastActive = s.now()
	s.mu.Unlock()
	return previous.Close()
}

// Reset starts a fresh transcript and keeps the connection.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.transcript = []Message{{Role: RoleAssistant, Text: Greeting, CreatedAt: now}}
	s.turns = nil
	s.lastActive = now
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.now()
}

func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Close drops the connection, if any, once the running turn is done.
func (s *Session) Close() error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	return conn.Close()
}
