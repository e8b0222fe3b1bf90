// Package credcache caches short-lived credentials per logical resource
// key. Issuing a credential usually means a round trip to an external
// authority with its own rate and connection limits, so the cache reuses
// a still-valid credential on every call and serializes regeneration so
// that at most one issuance is in flight per key.
package credcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrCredentialUnavailable indicates issuance failed and no usable
	// cached credential remains. Callers should treat this as retryable.
	ErrCredentialUnavailable = errors.New("credential unavailable")
)

const (
	// DefaultTTL matches the lifetime of auth tokens issued by the
	// upstream authorities this cache fronts.
	DefaultTTL = 15 * time.Minute
	// DefaultSafetyMargin is subtracted from the expiry when deciding
	// whether an entry is still safe to hand out, so a credential is
	// never returned moments before it stops working.
	DefaultSafetyMargin = time.Minute
)

// Issued is the result of one call to the credential authority.
type Issued struct {
	Secret string
	TTL    time.Duration
	// Conn optionally carries a connection opened with the new
	// credential. The cache owns it and closes it when the entry is
	// superseded.
	Conn io.Closer
}

// IssueFunc contacts the credential-issuing authority. It must honor
// ctx cancellation; a stuck authority must not wedge the cache.
type IssueFunc func(ctx context.Context) (Issued, error)

// Credential is one live cache entry. The secret is held in a memguard
// enclave and only decrypted on demand.
type Credential struct {
	Key       string
	IssuedAt  time.Time
	ExpiresAt time.Time

	secret *memguard.Enclave
	conn   io.Closer
}

// Secret opens the enclave and returns a copy of the secret value.
func (c *Credential) Secret() (string, error) {
	buf, err := c.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening credential enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Conn returns the connection owned by this entry, or nil.
func (c *Credential) Conn() io.Closer {
	return c.conn
}

// Cache holds at most one live credential per resource key.
type Cache struct {
	margin time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*Credential
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithSafetyMargin overrides the expiry safety margin.
func WithSafetyMargin(margin time.Duration) Option {
	return func(c *Cache) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// WithClock overrides the cache's clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty credential cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		margin:  DefaultSafetyMargin,
		now:     time.Now,
		entries: make(map[string]*Credential),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns the live credential for key, regenerating it through
// issue when the cached one is missing or within the safety margin of
// expiry.
//
// Reads of a still-valid entry never block on regeneration. When
// regeneration is needed, concurrent callers for the same key share a
// single issue call; unrelated keys regenerate in parallel. If issuance
// fails but the old entry has not truly expired yet, the old entry is
// returned; with nothing valid left, ErrCredentialUnavailable is
// returned wrapping the cause.
func (c *Cache) Acquire(ctx context.Context, key string, issue IssueFunc) (*Credential, error) {
	if entry := c.lookup(key); entry != nil && c.fresh(entry) {
		return entry, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have regenerated while we waited on
		// the flight slot.
		if entry := c.lookup(key); entry != nil && c.fresh(entry) {
			return entry, nil
		}
		return c.regenerate(ctx, key, issue)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// Invalidate drops the entry for key, closing any owned connection.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	entry := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if entry != nil && entry.conn != nil {
		entry.conn.Close()
	}
}

// Close releases every entry. The cache must not be used afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*Credential)
	c.mu.Unlock()

	var firstErr error
	for _, entry := range entries {
		if entry.conn != nil {
			if err := entry.conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Cache) lookup(key string) *Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// fresh reports whether the entry is still outside the safety margin.
func (c *Cache) fresh(entry *Credential) bool {
	return c.now().Before(entry.ExpiresAt.Add(-c.margin))
}

// usable reports whether the entry has not truly expired. Used only on
// the regeneration-failure path.
func (c *Cache) usable(entry *Credential) bool {
	return c.now().Before(entry.ExpiresAt)
}

func (c *Cache) regenerate(ctx context.Context, key string, issue IssueFunc) (*Credential, error) {
	issued, err := issue(ctx)
	if err != nil {
		// Keep the stale entry installed: a soon-to-expire credential
		// beats no credential while the authority is unreachable.
		if old := c.lookup(key); old != nil && c.usable(old) {
			return old, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	ttl := issued.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.now()
	entry := &Credential{
		Key:       key,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		secret:    memguard.NewEnclave([]byte(issued.Secret)),
		conn:      issued.Conn,
	}

	c.mu.Lock()
	old := c.entries[key]
	c.entries[key] = entry
	c.mu.Unlock()

	// Retire the superseded connection only after the replacement is
	// installed, so there is never a window with zero valid credential.
	if old != nil && old.conn != nil {
		old.conn.Close()
	}
	return entry, nil
}
