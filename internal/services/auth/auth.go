// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth hashes and checks account passwords.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes passwords with bcrypt.
type Hasher struct {
	cost      int
	dummyHash []byte
}

// NewHasher returns a Hasher with the given bcrypt cost. A zero cost
// selects bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}

	// compared against when the account does not exist so both paths cost the same
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, err
	}
	return &Hasher{cost: cost, dummyHash: dummy}, nil
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether password matches hash.
func (h *Hasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy burns the time of one comparison without a stored hash.
func (h *Hasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}
