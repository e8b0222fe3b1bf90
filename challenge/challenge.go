// Package challenge implements the custom second-factor challenge flow:
// deciding which challenge a login attempt must answer next, generating
// one-time codes, and verifying submitted answers. The engine keeps no
// state of its own between round trips; the caller supplies the session
// history on every call.
package challenge

import (
	"errors"
	"time"
)

// Factor identifies one kind of authentication challenge.
type Factor string

const (
	FactorPassword      Factor = "password"
	FactorEmailCode     Factor = "email_code"
	FactorSMSCode       Factor = "sms_code"
	FactorAuthenticator Factor = "authenticator"
	FactorNewPassword   Factor = "new_password"
)

// OutOfBand reports whether the factor requires a server-generated code
// delivered over an external channel.
func (f Factor) OutOfBand() bool {
	return f == FactorEmailCode || f == FactorSMSCode
}

// Valid reports whether f is a known factor.
func (f Factor) Valid() bool {
	switch f {
	case FactorPassword, FactorEmailCode, FactorSMSCode, FactorAuthenticator, FactorNewPassword:
		return true
	}
	return false
}

// Result is the outcome of one challenge exchange.
type Result string

const (
	ResultPending   Result = "pending"
	ResultSatisfied Result = "satisfied"
	ResultFailed    Result = "failed"
)

// Step is one (factor, result) pair in a session's challenge history.
type Step struct {
	Factor Factor `json:"factor"`
	Result Result `json:"result"`
}

// Decision is the state machine's verdict for the next round trip.
type Decision int

const (
	// DecideChallenge instructs the caller to present a challenge of the
	// session's configured factor.
	DecideChallenge Decision = iota
	// DecideIssueTokens is the terminal accept state.
	DecideIssueTokens
	// DecideReject is the terminal reject state.
	DecideReject
)

func (d Decision) String() string {
	switch d {
	case DecideChallenge:
		return "challenge"
	case DecideIssueTokens:
		return "issue_tokens"
	case DecideReject:
		return "reject"
	}
	return "unknown"
}

// Subject is the slice of account data the engine needs to build a
// challenge: a stable identifier plus the delivery destination and, for
// authenticator factors, the shared TOTP secret.
type Subject struct {
	ID          string
	Destination string
	TOTPSecret  string
}

// PublicParams is the challenge data safe to disclose to the client.
type PublicParams struct {
	Factor            Factor `json:"factor"`
	MaskedDestination string `json:"masked_destination,omitempty"`
}

// Attempt is one created challenge. Answer is the server-side expected
// value; it must never be returned to the client alongside the challenge.
type Attempt struct {
	Factor    Factor       `json:"factor"`
	Public    PublicParams `json:"public"`
	Answer    string       `json:"answer"`
	CreatedAt time.Time    `json:"created_at"`
}

var (
	// ErrUnknownFactor indicates a factor the engine cannot build a challenge for.
	ErrUnknownFactor = errors.New("unknown challenge factor")
	// ErrDeliveryFailed indicates the out-of-band notification could not be
	// sent. Only returned when the engine is configured for strict delivery.
	ErrDeliveryFailed = errors.New("challenge delivery failed")
	// ErrChallengeFailed is the terminal verdict for a failed challenge answer.
	ErrChallengeFailed = errors.New("challenge failed")
)
