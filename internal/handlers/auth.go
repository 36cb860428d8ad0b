// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/feedtools/internal/services/otp"
)

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyRequest is the request body for code verification.
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResendRequest is the request body for a new code.
type ResendRequest struct {
	Email string `json:"email"`
}

// Register starts a signup and mails a verification code.
func (h *Handlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}

	res, err := h.otp.Register(c.Request().Context(), otp.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, successResponse{Success: true, Email: res.Email})
}

// Login checks the password and mails a login code.
func (h *Handlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}

	res, err := h.otp.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Email: res.Email})
}

// Verify consumes a code and returns a session token.
func (h *Handlers) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}

	res, err := h.otp.Verify(c.Request().Context(), req.Email, req.Code, otp.ClientInfo{
		UserAgent: c.Request().UserAgent(),
		Address:   c.RealIP(),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Token: res.Token})
}

// Resend mails a fresh code.
func (h *Handlers) Resend(c echo.Context) error {
	var req ResendRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}

	if err := h.otp.Resend(c.Request().Context(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}
