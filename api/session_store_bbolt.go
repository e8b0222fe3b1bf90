package api

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("login_sessions")

// BoltSessionStore persists pending login sessions in a BBolt bucket so
// an in-flight challenge survives a server restart. Expired sessions
// are removed lazily on Get.
type BoltSessionStore struct {
	db *bbolt.DB
}

var _ SessionStore = (*BoltSessionStore)(nil)

// NewBoltSessionStore wraps an open BBolt database.
func NewBoltSessionStore(db *bbolt.DB) (*BoltSessionStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &BoltSessionStore{db: db}, nil
}

func (s *BoltSessionStore) Get(token string) (LoginSession, bool) {
	var session LoginSession
	found := false
	s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(token))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return LoginSession{}, false
	}
	if time.Now().After(session.ExpiresAt) {
		s.Delete(token)
		return LoginSession{}, false
	}
	return session, true
}

func (s *BoltSessionStore) Put(token string, session LoginSession) {
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(token), raw)
	})
}

func (s *BoltSessionStore) Delete(token string) {
	s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(token))
	})
}
