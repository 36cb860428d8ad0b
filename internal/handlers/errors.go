// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/feedtools/internal/i18n"
	"codeberg.org/oliverandrich/feedtools/internal/services/auth"
	"codeberg.org/oliverandrich/feedtools/internal/services/otp"
	"codeberg.org/oliverandrich/feedtools/internal/services/profile"
)

type errorResponse struct {
	Success          bool     `json:"success"`
	Error            string   `json:"error"`
	SecondsRemaining int      `json:"secondsRemaining,omitempty"`
	Details          []string `json:"details,omitempty"`
}

// ErrorHandler renders errors that escaped the handlers, such as those of
// the middleware, as the JSON error body. HTTPError messages are message
// ids; unknown ids are sent as they are.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	messageID := "error_internal"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			messageID = msg
		} else {
			messageID = http.StatusText(status)
		}
	} else {
		slog.ErrorContext(c.Request().Context(), "unhandled_error", "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorResponse{Error: i18n.T(c.Request().Context(), messageID)})
}

// fail maps a service error to its status and localized message.
// Credential failures share one message whatever the cause.
func (h *Handlers) fail(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var throttled *otp.ThrottledError
	if errors.As(err, &throttled) {
		seconds := throttled.SecondsRemaining()
		return c.JSON(http.StatusTooManyRequests, errorResponse{
			Error:            i18n.TData(ctx, "error_throttled", map[string]any{"Seconds": seconds}),
			SecondsRemaining: seconds,
		})
	}

	switch {
	case errors.Is(err, otp.ErrInvalidInput):
		resp := errorResponse{Error: i18n.T(ctx, "error_invalid_input")}
		var policy *auth.PasswordValidationError
		if errors.As(err, &policy) {
			resp.Details = policy.Messages()
		}
		return c.JSON(http.StatusBadRequest, resp)
	case errors.Is(err, otp.ErrAlreadyExists):
		return respondError(c, http.StatusBadRequest, "error_already_exists")
	case errors.Is(err, otp.ErrInvalidCredentials):
		return respondError(c, http.StatusUnauthorized, "error_invalid_credentials")
	case errors.Is(err, otp.ErrInvalidOrExpiredCode):
		return respondError(c, http.StatusBadRequest, "error_invalid_code")
	case errors.Is(err, otp.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		return respondError(c, http.StatusNotFound, "error_not_found")
	case errors.Is(err, otp.ErrDispatchFailed):
		return respondError(c, http.StatusBadGateway, "error_dispatch_failed")
	}

	slog.ErrorContext(ctx, "request_failed", "path", c.Path(), "error", err)
	return respondError(c, http.StatusInternalServerError, "error_internal")
}

func respondError(c echo.Context, status int, messageID string) error {
	return c.JSON(status, errorResponse{Error: i18n.T(c.Request().Context(), messageID)})
}

func invalidRequest(c echo.Context) error {
	return respondError(c, http.StatusBadRequest, "error_invalid_input")
}
