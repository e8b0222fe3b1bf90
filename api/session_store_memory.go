package api

import (
	"sync"
	"time"
)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart, which for pending login attempts
// just means the client restarts sign-in.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]LoginSession
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]LoginSession)}
}

func (s *MemorySessionStore) Get(token string) (LoginSession, bool) {
	s.mu.RLock()
	session, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return LoginSession{}, false
	}
	if time.Now().After(session.ExpiresAt) {
		s.Delete(token)
		return LoginSession{}, false
	}
	return session, true
}

func (s *MemorySessionStore) Put(token string, session LoginSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[token] = session
}

func (s *MemorySessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, token)
}
