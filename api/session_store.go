package api

import (
	"time"

	"github.com/jmcleod/gatewarden/challenge"
)

// LoginSession is the server-side state of one in-flight login attempt,
// keyed by the opaque session token round-tripped by the client. It is
// created after the primary password check and destroyed on any
// terminal outcome.
type LoginSession struct {
	Username  string           `json:"username"`
	SubjectID string           `json:"subject_id"`
	Factor    challenge.Factor `json:"factor"`

	// History is the ordered challenge history for this attempt,
	// appended to before the next transition is evaluated.
	History []challenge.Step `json:"history"`

	// PendingAnswer is the expected answer for the outstanding
	// out-of-band challenge, empty once answered or for factors
	// verified against a shared secret.
	PendingAnswer     string `json:"pending_answer,omitempty"`
	MaskedDestination string `json:"masked_destination,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Answered reports whether the session has recorded at least one
// challenge answer.
func (s LoginSession) Answered() bool {
	return len(s.History) > 0
}

// SessionStore abstracts login-session CRUD so that pending sessions
// can be stored in-memory (default) or in persistent backing storage.
type SessionStore interface {
	// Get retrieves a session by token. Returns false if the session
	// does not exist or has expired.
	Get(token string) (LoginSession, bool)
	// Put creates or updates a session for the given token.
	Put(token string, session LoginSession)
	// Delete removes a session by token.
	Delete(token string)
}
