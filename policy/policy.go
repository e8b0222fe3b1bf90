// Package policy evaluates time-based account-usage rules before
// authentication is allowed to proceed. The evaluator is pure: given the
// account's policy attributes and a clock reading it either accepts or
// rejects with a named reason, and never mutates shared state.
package policy

import (
	"errors"
	"time"
)

var (
	// ErrAccountNotFound indicates the identity backend has no record for the subject.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPasswordExpired indicates the password is older than the expiration window.
	ErrPasswordExpired = errors.New("password expired")
	// ErrUsageNotStarted indicates the account's usage window has not opened yet.
	ErrUsageNotStarted = errors.New("usage period not started")
	// ErrUsageEnded indicates the account's usage window has closed.
	ErrUsageEnded = errors.New("usage period ended")
)

// DefaultExpirationDays is the password expiration window used when the
// secrets document does not configure one.
const DefaultExpirationDays = 90

// Attributes carries the per-account metadata the gate inspects. A nil
// date means the corresponding constraint is not configured for the
// account; an account with no dates at all is always eligible.
type Attributes struct {
	NotFound      bool
	PasswordSetAt *time.Time
	UsageStartAt  *time.Time
	UsageEndAt    *time.Time
}

// Gate evaluates Attributes against a clock reading.
//
// All comparisons are made at day granularity in the gate's location.
// Matching the observed behavior, time-of-day is discarded before any
// comparison: a password set 90 days ago at 23:59 is still valid for the
// whole of its expiry day.
type Gate struct {
	expirationDays int
	loc            *time.Location
}

// Option configures a Gate.
type Option func(*Gate)

// WithExpirationDays overrides the password expiration window.
func WithExpirationDays(days int) Option {
	return func(g *Gate) {
		if days > 0 {
			g.expirationDays = days
		}
	}
}

// WithLocation sets the time zone in which calendar dates are compared.
// Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// NewGate creates a policy gate with the default 90-day expiration
// window and UTC date comparison.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		expirationDays: DefaultExpirationDays,
		loc:            time.UTC,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate applies the gate's rules in order and returns nil on accept
// or one of the named errors on the first violated rule.
func (g *Gate) Evaluate(attrs Attributes, now time.Time) error {
	if attrs.NotFound {
		return ErrAccountNotFound
	}
	if attrs.PasswordSetAt == nil && attrs.UsageStartAt == nil && attrs.UsageEndAt == nil {
		// Unconstrained accounts predate the policy rollout and are
		// always eligible.
		return nil
	}

	today := g.dateOf(now)

	if attrs.PasswordSetAt != nil {
		expiry := g.dateOf(*attrs.PasswordSetAt).AddDate(0, 0, g.expirationDays)
		if today.After(expiry) {
			return ErrPasswordExpired
		}
	}
	if attrs.UsageStartAt != nil && today.Before(g.dateOf(*attrs.UsageStartAt)) {
		return ErrUsageNotStarted
	}
	if attrs.UsageEndAt != nil && today.After(g.dateOf(*attrs.UsageEndAt)) {
		return ErrUsageEnded
	}
	return nil
}

// dateOf truncates t to midnight of its calendar day in the gate's location.
func (g *Gate) dateOf(t time.Time) time.Time {
	y, m, d := t.In(g.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc)
}
