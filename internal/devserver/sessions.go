package devserver

import (
	"sync"
	"time"
)

// authSession holds the server-side state for an issued key.
type authSession struct {
	Username  string
	Host      string
	ExpiresAt time.Time
}

// sessionStore is a thread-safe in-memory session table. Expired entries
// are dropped when they are read.
type sessionStore struct {
	mu   sync.RWMutex
	data map[string]authSession
	now  func() time.Time
}

func newSessionStore(now func() time.Time) *sessionStore {
	return &sessionStore{
		data: make(map[string]authSession),
		now:  now,
	}
}

func (s *sessionStore) Get(token string) (authSession, bool) {
	s.mu.RLock()
	session, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return authSession{}, false
	}
	if !s.now().Before(session.ExpiresAt) {
		s.Delete(token)
		return authSession{}, false
	}
	return session, true
}

func (s *sessionStore) Put(token string, session authSession) {
	s.mu.Lock()
	s.data[token] = session
	s.mu.Unlock()
}

func (s *sessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}
