// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package middleware holds the echo middleware of the API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/feedtools/internal/auth"
	"codeberg.org/oliverandrich/feedtools/internal/models"
	"codeberg.org/oliverandrich/feedtools/internal/services/session"
)

// TokenParser validates session tokens.
type TokenParser interface {
	Parse(token string) (*session.Claims, error)
}

// AccountLoader loads the account a token belongs to.
type AccountLoader interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
}

// RequireAuth rejects requests without a valid bearer token and stores
// the token's account in the request context.
func RequireAuth(tokens TokenParser, accounts AccountLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "error_unauthorized")
			}

			claims, err := tokens.Parse(token)
			if err != nil {
				slog.DebugContext(c.Request().Context(), "session_token_rejected", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "error_unauthorized")
			}

			// a deleted account invalidates its outstanding tokens
			acc, err := accounts.GetAccountByID(c.Request().Context(), claims.AccountID())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "error_unauthorized")
			}

			c.SetRequest(c.Request().WithContext(auth.WithAccount(c.Request().Context(), acc)))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(echo.HeaderAuthorization)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
