// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers contains the JSON handlers of the account API.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/feedtools/internal/services/otp"
	"codeberg.org/oliverandrich/feedtools/internal/services/profile"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	otp      *otp.Service
	profiles *profile.Service
}

// New creates a new Handlers instance.
func New(otpSvc *otp.Service, profiles *profile.Service) *Handlers {
	return &Handlers{otp: otpSvc, profiles: profiles}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type successResponse struct {
	Success bool   `json:"success"`
	Email   string `json:"email,omitempty"`
	Token   string `json:"token,omitempty"`
	Data    any    `json:"data,omitempty"`
	Warning string `json:"warning,omitempty"`
}
