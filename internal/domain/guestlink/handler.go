package guestlink

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/auth"
)

type Handler struct {
	svc      *Service
	resolver session.IdentityResolver
}

func NewHandler(svc *Service, resolver session.IdentityResolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

// RegisterRoutes registers the staff-facing link management endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("provider", "owner", "staff"))
	g.POST("/sessions/:id/guest-links", h.IssueLink)
	g.DELETE("/guest-links/:token", h.RevokeLink)
}

// RegisterPublicRoutes registers the unauthenticated guest validation
// endpoint. Guests have no platform identity, so this lives outside the JWT
// middleware.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.POST("/guest/validate", h.ValidateLink)
}

type issueLinkRequest struct {
	ExpirationHours int    `json:"expiration_hours"`
	GuestName       string `json:"guest_name,omitempty"`
	MaxUses         int    `json:"max_uses,omitempty"`
}

func (h *Handler) IssueLink(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req issueLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	eff := h.resolver.Resolve(c)
	link, err := h.svc.Issue(c.Request().Context(), IssueParams{
		SessionID:       sessionID,
		CallerUID:       eff.UID,
		ExpirationHours: req.ExpirationHours,
		GuestName:       req.GuestName,
		MaxUses:         req.MaxUses,
	})
	if err != nil {
		return linkError(err)
	}
	return c.JSON(http.StatusCreated, link)
}

type validateRequest struct {
	Token string `json:"token"`
}

func (h *Handler) ValidateLink(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	result, err := h.svc.Validate(c.Request().Context(), req.Token, c.RealIP())
	if err != nil {
		return linkError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) RevokeLink(c echo.Context) error {
	eff := h.resolver.Resolve(c)
	if err := h.svc.Revoke(c.Request().Context(), c.Param("token"), eff.UID); err != nil {
		return linkError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// linkError keeps the four validation failures distinguishable for the
// guest-facing UI.
func linkError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, jsonErr("not_found"))
	case errors.Is(err, ErrExpired):
		return echo.NewHTTPError(http.StatusGone, jsonErr("expired"))
	case errors.Is(err, ErrRevoked):
		return echo.NewHTTPError(http.StatusGone, jsonErr("revoked"))
	case errors.Is(err, ErrExhausted):
		return echo.NewHTTPError(http.StatusGone, jsonErr("already_used"))
	case errors.Is(err, ErrSessionNotReady):
		return echo.NewHTTPError(http.StatusConflict, jsonErr("session_not_ready"))
	case errors.Is(err, ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, jsonErr("not_authorized"))
	case errors.Is(err, ErrInvalidExpiration):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func jsonErr(code string) map[string]string {
	return map[string]string{"error": code}
}
