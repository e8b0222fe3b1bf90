// Package memory provides an in-memory identity store suitable for
// tests and single-process use.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/gatewarden/identity"
)

// Store is a thread-safe in-memory identity.Store.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]identity.Account
}

var _ identity.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{accounts: make(map[string]identity.Account)}
}

func (s *Store) Get(_ context.Context, username string) (identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[username]
	if !ok {
		return identity.Account{}, identity.ErrNotFound
	}
	return account, nil
}

func (s *Store) Put(_ context.Context, account identity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.Username] = account
	return nil
}

func (s *Store) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, username)
	return nil
}
