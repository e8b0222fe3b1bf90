package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// RandomIntn returns a uniformly random int in [0, max) from crypto/rand.
func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

// RandomDigits returns a numeric one-time code with exactly n digits.
// The first digit is never zero, so the code length is stable when
// rendered as a decimal string.
func RandomDigits(n int) (string, error) {
	if n < 1 {
		return "", fmt.Errorf("code length must be positive, got %d", n)
	}
	low := int64(1)
	for i := 1; i < n; i++ {
		low *= 10
	}
	span := low*10 - low
	offset, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("generating one-time code: %w", err)
	}
	return fmt.Sprintf("%d", low+offset.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomToken returns a URL-safe opaque token with n bytes of entropy.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
