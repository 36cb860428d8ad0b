// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// CheckCooldown is the single cooldown rule shared by every code-issuing
// path. It fails while now - lastSent < window.
func CheckCooldown(lastSent *time.Time, now time.Time, window time.Duration) error {
	if lastSent == nil {
		return nil
	}
	if elapsed := now.Sub(*lastSent); elapsed < window {
		return &ThrottledError{Remaining: window - elapsed}
	}
	return nil
}

// GenerateCode returns a uniformly random numeric code of the given
// length, zero padded.
func GenerateCode(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("unsupported code length %d", length)
	}

	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

func codesEqual(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
