// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/feedtools/internal/database"
	"codeberg.org/oliverandrich/feedtools/internal/models"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, repository.New(db)
}

// NewTestAccount stores a verified account with the given email.
func NewTestAccount(t *testing.T, repo repository.Store, email string) *models.Account {
	t.Helper()
	acc := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     "tester",
		PasswordHash: "not-a-real-hash",
		IsVerified:   true,
		GameLimit:    5,
	}
	require.NoError(t, repo.CreateAccount(context.Background(), acc))
	return acc
}

// NewPendingAccount stores an unverified account whose code and reaping
// deadline expire at expiresAt.
func NewPendingAccount(t *testing.T, repo repository.Store, email, code string, expiresAt time.Time) *models.Account {
	t.Helper()
	acc := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     "pending",
		PasswordHash: "not-a-real-hash",
		GameLimit:    5,
	}
	acc.SetPendingCode(code, expiresAt.Add(-10*time.Minute), expiresAt)
	require.NoError(t, repo.CreateAccount(context.Background(), acc))
	return acc
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewEchoContextWithHeaders creates an Echo context with custom headers.
func NewEchoContextWithHeaders(e *echo.Echo, method, path string, body io.Reader, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}
