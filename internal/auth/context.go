// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides authentication context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/feedtools/internal/ctxkeys"
	"codeberg.org/oliverandrich/feedtools/internal/models"
)

// WithAccount stores the authenticated account in the context.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxkeys.Account{}, acc)
}

// GetAccount returns the authenticated account from the context, or nil if not authenticated.
func GetAccount(ctx context.Context) *models.Account {
	if acc, ok := ctx.Value(ctxkeys.Account{}).(*models.Account); ok {
		return acc
	}
	return nil
}

// IsAuthenticated returns true if the context has an authenticated account.
func IsAuthenticated(ctx context.Context) bool {
	return GetAccount(ctx) != nil
}

// WithRequestID stores the request id in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxkeys.RequestID{}, id)
}

// RequestID returns the request id from the context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkeys.RequestID{}).(string)
	return id
}
