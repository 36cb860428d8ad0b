// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/feedtools/internal/handlers"
	"codeberg.org/oliverandrich/feedtools/internal/middleware"
)

func setupRoutes(e *echo.Echo, h *handlers.Handlers, tokens middleware.TokenParser, accounts middleware.AccountLoader) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1/auth")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/verify", h.Verify)
	api.POST("/resend", h.Resend)

	requireAuth := middleware.RequireAuth(tokens, accounts)
	api.GET("/me", h.Me, requireAuth)
	api.PUT("/updatedetails", h.UpdateDetails, requireAuth)
}
