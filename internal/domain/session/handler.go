package session

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/rtc"
	"github.com/telecare/telecare/pkg/pagination"
)

// IdentityResolver resolves the effective acting identity once per request.
type IdentityResolver interface {
	Resolve(ctx echo.Context) identity.EffectiveIdentity
}

// resolverFunc adapts identity.Service to the per-request resolution shape.
type resolverFunc func(c echo.Context) identity.EffectiveIdentity

func (f resolverFunc) Resolve(c echo.Context) identity.EffectiveIdentity { return f(c) }

// NewIdentityResolver wraps the identity service so handlers resolve
// impersonation exactly once and thread the effective uid explicitly.
func NewIdentityResolver(svc *identity.Service) IdentityResolver {
	return resolverFunc(func(c echo.Context) identity.EffectiveIdentity {
		return svc.Resolve(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	})
}

type Handler struct {
	svc      *Service
	resolver IdentityResolver
}

func NewHandler(svc *Service, resolver IdentityResolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	participantGroup := api.Group("", auth.RequireRole("provider", "owner", "staff", "patient"))
	participantGroup.POST("/sessions", h.CreateSession)
	participantGroup.GET("/sessions", h.ListSessions)
	participantGroup.GET("/sessions/:id", h.GetSession)
	participantGroup.POST("/sessions/:id/credentials", h.IssueCredential)

	manageGroup := api.Group("", auth.RequireRole("provider", "owner", "staff"))
	manageGroup.POST("/sessions/:id/recording/start", h.StartRecording)
	manageGroup.POST("/sessions/:id/recording/stop", h.StopRecording)
	manageGroup.POST("/sessions/:id/end", h.EndSession)
	manageGroup.POST("/appointments/:id/cancel", h.CancelAppointment)
}

type createSessionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_id")
	}

	eff := h.resolver.Resolve(c)
	sess, err := h.svc.CreateSession(c.Request().Context(), appointmentID, eff.UID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	eff := h.resolver.Resolve(c)
	sess, err := h.svc.GetSession(c.Request().Context(), id, eff.UID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c echo.Context) error {
	practiceID, err := uuid.Parse(c.QueryParam("practice_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practice_id")
	}
	pg := pagination.FromContext(c)

	eff := h.resolver.Resolve(c)
	sessions, total, err := h.svc.ListSessions(c.Request().Context(), practiceID, eff.UID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, pg.Limit, pg.Offset))
}

type issueCredentialRequest struct {
	Role string `json:"role"`
}

func (h *Handler) IssueCredential(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req issueCredentialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role := rtc.Role(req.Role)
	if role == "" {
		role = rtc.RolePublisher
	}

	eff := h.resolver.Resolve(c)
	cred, err := h.svc.IssueCredential(c.Request().Context(), id, eff.UID, role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) StartRecording(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	eff := h.resolver.Resolve(c)
	sess, err := h.svc.StartRecording(c.Request().Context(), id, eff.UID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) StopRecording(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	eff := h.resolver.Resolve(c)
	if err := h.svc.StopRecording(c.Request().Context(), id, eff.UID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EndSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	eff := h.resolver.Resolve(c)
	sess, err := h.svc.EndSession(c.Request().Context(), id, eff.UID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	eff := h.resolver.Resolve(c)
	if err := h.svc.CancelAppointment(c.Request().Context(), id, eff.UID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// httpError maps domain errors to HTTP status codes. Authorization and
// state-conflict errors stay distinguishable so clients can explain "not
// allowed" versus "already in progress".
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrRecordingInProgress),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrSessionEnded),
		errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, rtc.ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
