package waitingroom

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("provider", "owner", "staff", "patient"))
	g.POST("/sessions/:id/events", h.EmitEvent)
	g.GET("/sessions/:id/events", h.ListEvents)
}

type emitRequest struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
	TargetUID   string `json:"target_uid,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (h *Handler) EmitEvent(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req emitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	eff := h.resolver.Resolve(c)
	ev := &Event{
		SessionID: sessionID,
		Type:      EventType(req.Type),
		ActorUID:  eff.UID,
	}
	switch ev.Type {
	case EventPatientWaiting:
		if req.DisplayName != "" {
			ev.Waiting = &WaitingPayload{DisplayName: req.DisplayName}
		}
	case EventPatientAdmitted:
		ev.Admitted = &AdmittedPayload{TargetUID: req.TargetUID}
	case EventJoined:
		if req.DisplayName != "" {
			ev.Joined = &JoinedPayload{DisplayName: req.DisplayName}
		}
	case EventLeft:
		if req.Reason != "" {
			ev.Left = &LeftPayload{Reason: req.Reason}
		}
	}

	if err := h.svc.Emit(c.Request().Context(), ev); err != nil {
		return emitError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) ListEvents(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	eff := h.resolver.Resolve(c)
	events, err := h.svc.List(c.Request().Context(), sessionID, eff.UID)
	if err != nil {
		return emitError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"view":   Fold(events, eff.UID),
	})
}

func emitError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, session.ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrSessionEnded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
