// Package identity defines the boundary to the account backend: lookup
// of per-account attributes, password verification, and the store
// implementations backing them. The challenge flow never talks to a
// user database directly; it goes through Store.
package identity

import (
	"context"
	"errors"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/internal/util"
	"github.com/jmcleod/gatewarden/policy"
)

// ErrNotFound indicates no account exists for the requested username.
var ErrNotFound = errors.New("account not found")

const saltBytes = 16

// Account is one stored account record. The password is kept only as an
// argon2id verifier with its salt and cost parameters.
type Account struct {
	Username     string              `json:"username"`
	SubjectID    string              `json:"subject_id"`
	PasswordSalt []byte              `json:"password_salt"`
	PasswordHash []byte              `json:"password_hash"`
	KDFParams    util.Argon2idParams `json:"kdf_params"`

	// Factor is the account's configured second factor, with the
	// delivery destination for out-of-band codes and the shared secret
	// for authenticator codes.
	Factor      challenge.Factor `json:"factor"`
	Destination string           `json:"destination,omitempty"`
	TOTPSecret  string           `json:"totp_secret,omitempty"`

	// Optional usage-policy dates. Nil means unconstrained.
	PasswordSetAt *time.Time `json:"password_set_at,omitempty"`
	UsageStartAt  *time.Time `json:"usage_start_at,omitempty"`
	UsageEndAt    *time.Time `json:"usage_end_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store is the account backend boundary.
type Store interface {
	// Get returns the account for username, or ErrNotFound.
	Get(ctx context.Context, username string) (Account, error)
	// Put creates or replaces an account record.
	Put(ctx context.Context, account Account) error
	// Delete removes an account. Deleting a missing account is not an error.
	Delete(ctx context.Context, username string) error
}

// NewAccount builds an account with a fresh salt and verifier for the
// given password. The password is NFKC-normalized first so that
// visually identical inputs from different keyboards verify equally.
func NewAccount(username, subjectID, password string, factor challenge.Factor) (Account, error) {
	salt, err := util.RandomBytes(saltBytes)
	if err != nil {
		return Account{}, err
	}
	params := util.DefaultArgon2idParams()
	hash, err := util.DeriveVerifier(normalize(password), salt, params)
	if err != nil {
		return Account{}, err
	}
	return Account{
		Username:     username,
		SubjectID:    subjectID,
		PasswordSalt: salt,
		PasswordHash: hash,
		KDFParams:    params,
		Factor:       factor,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// VerifyPassword checks password against the account's stored verifier.
func VerifyPassword(account Account, password string) (bool, error) {
	return util.CompareVerifier(normalize(password), account.PasswordSalt, account.KDFParams, account.PasswordHash)
}

// PolicyAttributes maps the account's optional dates onto the policy
// gate's input. found=false produces the not-found attribute set so the
// gate can reject before inspecting anything else.
func PolicyAttributes(account Account, found bool) policy.Attributes {
	if !found {
		return policy.Attributes{NotFound: true}
	}
	return policy.Attributes{
		PasswordSetAt: account.PasswordSetAt,
		UsageStartAt:  account.UsageStartAt,
		UsageEndAt:    account.UsageEndAt,
	}
}

// Subject extracts the challenge-engine view of the account.
func Subject(account Account) challenge.Subject {
	return challenge.Subject{
		ID:          account.SubjectID,
		Destination: account.Destination,
		TOTPSecret:  account.TOTPSecret,
	}
}

func normalize(s string) string {
	return norm.NFKC.String(s)
}
