// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues and validates the bearer tokens handed out after
// a successful code verification.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"

	"codeberg.org/oliverandrich/feedtools/internal/config"
)

// ErrInvalidToken is returned for malformed, forged or expired tokens.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the payload of a session token. The subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
}

// AccountID returns the account the token was issued for.
func (c *Claims) AccountID() string {
	return c.Subject
}

// Manager signs and parses HS256 session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewManager creates a Manager from cfg. Without a configured secret a
// random key is generated, which invalidates tokens on every restart.
func NewManager(cfg config.SessionConfig) (*Manager, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
		if secret == nil {
			return nil, errors.New("failed to generate session secret")
		}
		slog.Warn("session_secret_generated", "hint", "set --session-secret to keep sessions across restarts")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	return &Manager{secret: secret, ttl: ttl, issuer: cfg.Issuer, now: time.Now}, nil
}

// Issue returns a signed token for accountID.
func (m *Manager) Issue(accountID string) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Parse validates tokenString and returns its claims.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
