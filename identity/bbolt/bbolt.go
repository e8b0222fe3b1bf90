// Package bbolt provides a persistent identity store backed by a BBolt
// database. Account records are stored JSON-encoded in a single bucket
// keyed by username.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/gatewarden/identity"
)

var accountsBucket = []byte("accounts")

// Store is a BBolt-backed identity.Store.
type Store struct {
	db *bbolt.DB
}

var _ identity.Store = (*Store)(nil)

// NewStore wraps an open BBolt database, creating the accounts bucket
// if needed.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating accounts bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromFile opens the BBolt database at path and returns a store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, username string) (identity.Account, error) {
	var account identity.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(accountsBucket).Get([]byte(username))
		if raw == nil {
			return identity.ErrNotFound
		}
		return json.Unmarshal(raw, &account)
	})
	if err != nil {
		return identity.Account{}, err
	}
	return account, nil
}

func (s *Store) Put(_ context.Context, account identity.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).Put([]byte(account.Username), raw)
	})
}

func (s *Store) Delete(_ context.Context, username string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).Delete([]byte(username))
	})
}
