// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"codeberg.org/oliverandrich/feedtools/internal/auth"
	"codeberg.org/oliverandrich/feedtools/internal/i18n"
	"codeberg.org/oliverandrich/feedtools/internal/services/profile"
)

// UpdateDetailsRequest is the request body for profile edits. steamUrl is
// accepted as an alias of profileUrl.
type UpdateDetailsRequest struct {
	Username   *string `json:"username"`
	Avatar     *string `json:"avatar"`
	Banner     *string `json:"banner"`
	ProfileURL *string `json:"profileUrl"`
	SteamURL   *string `json:"steamUrl"`
}

// Me returns the authenticated account.
func (h *Handlers) Me(c echo.Context) error {
	acc := auth.GetAccount(c.Request().Context())
	if acc == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "error_unauthorized")
	}

	fresh, err := h.profiles.Get(c.Request().Context(), acc.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Data: fresh})
}

// UpdateDetails edits the profile and refreshes the Steam statistics.
func (h *Handlers) UpdateDetails(c echo.Context) error {
	acc := auth.GetAccount(c.Request().Context())
	if acc == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "error_unauthorized")
	}

	var req UpdateDetailsRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c)
	}

	profileURL := req.ProfileURL
	if profileURL == nil {
		profileURL = req.SteamURL
	}

	updated, err := h.profiles.UpdateDetails(c.Request().Context(), acc.ID, profile.UpdateParams{
		Username:   req.Username,
		Avatar:     req.Avatar,
		Banner:     req.Banner,
		ProfileURL: profileURL,
	})
	if errors.Is(err, profile.ErrEnrichmentFailed) {
		return c.JSON(http.StatusOK, successResponse{
			Success: true,
			Data:    updated,
			Warning: i18n.T(c.Request().Context(), "warning_enrichment_failed"),
		})
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Data: updated})
}
