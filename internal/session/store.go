package session

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many concurrent sessions")
)

// Session is the server side record of one connected streaming client.
type Session struct {
	Id              string
	StartTime       time.Time
	LastActivity    time.Time
	FramesSent      int64
	FramesProcessed int64
	AlertsGenerated int64
	UserAgent       string
	ClientAddr      string
}

// Store keeps the active sessions. Every method is atomic with respect to the
// others.
type Store interface {
	Create(s Session) error
	Update(id string, fn func(s *Session)) error
	Remove(id string) (Session, error)
	Get(id string) (Session, bool)
	Snapshot() []Session
	Len() int
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Id]; ok {
		return ErrSessionExists
	}
	m.sessions[s.Id] = &s
	return nil
}

func (m *MemoryStore) Update(id string, fn func(s *Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	fn(s)
	return nil
}

func (m *MemoryStore) Remove(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	delete(m.sessions, id)
	return *s, nil
}

func (m *MemoryStore) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (m *MemoryStore) Snapshot() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
