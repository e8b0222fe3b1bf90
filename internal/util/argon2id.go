package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams holds the tunable cost parameters for password
// verifier derivation. They are stored alongside each verifier so that
// parameters can be raised without invalidating existing accounts.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// DeriveVerifier derives a password verifier from a passphrase and salt.
func DeriveVerifier(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("argon2id salt must not be empty")
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}

// CompareVerifier re-derives the verifier for passphrase and compares it
// against expected in constant time.
func CompareVerifier(passphrase string, salt []byte, params Argon2idParams, expected []byte) (bool, error) {
	derived, err := DeriveVerifier(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(derived, expected) == 1, nil
}
