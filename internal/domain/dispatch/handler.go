package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ems/ems/internal/domain/escalation"
	"github.com/ems/ems/internal/domain/hospital"
	"github.com/ems/ems/internal/domain/ranking"
	"github.com/ems/ems/internal/platform/auth"
	"github.com/ems/ems/pkg/pagination"
)

type Handler struct {
	svc        *Service
	candidates func(ctx context.Context) ([]hospital.EffectiveProfile, error)
}

// NewHandler builds the case handler. candidates feeds the recommendation
// endpoint; pass nil to disable it.
func NewHandler(svc *Service, candidates func(ctx context.Context) ([]hospital.EffectiveProfile, error)) *Handler {
	return &Handler{svc: svc, candidates: candidates}
}

// HTTPError maps the transition error taxonomy onto HTTP statuses. Logical
// conflicts are 409 so clients re-fetch before retrying with new intent.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrStateConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrTransientStore):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleDispatcher, auth.RoleCrew, auth.RoleHospital))
	readGroup.GET("/cases", h.ListCases)
	readGroup.GET("/cases/:id", h.GetCase)
	readGroup.GET("/cases/:id/notifications", h.GetNotifications)
	readGroup.GET("/cases/:id/authoritative-hospital", h.GetAuthoritativeHospital)
	readGroup.GET("/cases/:id/golden-hour", h.GetGoldenHour)

	dispatcherGroup := api.Group("", auth.RequireRole(auth.RoleDispatcher))
	dispatcherGroup.POST("/cases", h.CreateCase)
	dispatcherGroup.POST("/cases/:id/dispatch", h.Dispatch)
	dispatcherGroup.POST("/cases/:id/escalate", h.Escalate)
	dispatcherGroup.GET("/cases/:id/recommendations", h.Recommendations)

	crewGroup := api.Group("", auth.RequireRole(auth.RoleCrew, auth.RoleDispatcher))
	crewGroup.POST("/cases/:id/triage", h.Triage)
	crewGroup.POST("/cases/:id/enroute", h.MarkEnroute)
	crewGroup.POST("/cases/:id/complete", h.Complete)

	hospitalGroup := api.Group("", auth.RequireRole(auth.RoleHospital))
	hospitalGroup.POST("/cases/:id/responses", h.RecordResponse)
}

func caseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	return id, nil
}

func (h *Handler) CreateCase(c echo.Context) error {
	var in CreateCaseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.CreateCase(c.Request().Context(), in)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := Status(c.QueryParam("status"))
	items, total, err := h.svc.ListCases(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Triage(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var in struct {
		AcuityLevel int      `json:"acuity_level"`
		Vitals      Vitals   `json:"vitals"`
		TriageFlags []string `json:"triage_flags"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.svc.Triage(c.Request().Context(), id, in.AcuityLevel, in.Vitals, in.TriageFlags)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) Dispatch(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var in struct {
		HospitalID   uuid.UUID `json:"hospital_id"`
		HospitalName string    `json:"hospital_name"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.svc.Dispatch(c.Request().Context(), id, in.HospitalID, in.HospitalName)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) RecordResponse(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var in struct {
		HospitalID uuid.UUID `json:"hospital_id"`
		Response   string    `json:"response"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.Response != ResponseAccepted && in.Response != ResponseRejected {
		return echo.NewHTTPError(http.StatusBadRequest, "response must be accepted or rejected")
	}

	// A hospital-side actor may only answer as the hospital it belongs to.
	actor := auth.ActorFromContext(c.Request().Context())
	if !actor.HasRole(auth.RoleAdmin) {
		if actor.HospitalID == nil || *actor.HospitalID != in.HospitalID {
			return echo.NewHTTPError(http.StatusForbidden, "hospital identity mismatch")
		}
	}

	cs, err := h.svc.RecordResponse(c.Request().Context(), id, in.HospitalID, in.Response == ResponseAccepted)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) Escalate(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.TriggerEscalation(c.Request().Context(), id); err != nil {
		return HTTPError(err)
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) MarkEnroute(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.MarkEnroute(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) GetNotifications(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs.NotificationLog)
}

// GetAuthoritativeHospital is the notification dispatcher's read: who should
// be alerted for this case right now.
func (h *Handler) GetAuthoritativeHospital(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"case_id":       cs.ID,
		"hospital_id":   cs.AuthoritativeHospital(),
		"override_used": cs.OverrideUsed,
	})
}

func (h *Handler) GetGoldenHour(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	remaining := cs.GoldenHourRemaining(h.svc.GoldenHour(), time.Now().UTC())
	return c.JSON(http.StatusOK, map[string]any{
		"case_id":           cs.ID,
		"remaining_seconds": int(remaining.Seconds()),
		"breached":          remaining == 0 && cs.CompletedAt == nil,
	})
}

// Recommendations runs the ranker over the current hospital set. The ranked
// list never displaces an active override: the authoritative hospital is
// reported alongside so callers can tell recommendation from assignment.
func (h *Handler) Recommendations(c echo.Context) error {
	if h.candidates == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "no hospital source configured")
	}
	id, err := caseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cs, err := h.svc.GetCase(ctx, id)
	if err != nil {
		return HTTPError(err)
	}
	candidates, err := h.candidates(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	req := ranking.CaseRequirements{
		EmergencyType: cs.EmergencyType,
		AcuityLevel:   cs.AcuityLevel,
		Latitude:      cs.Location.Latitude,
		Longitude:     cs.Location.Longitude,
	}
	ranked := ranking.Rank(req, candidates, nil)

	return c.JSON(http.StatusOK, map[string]any{
		"case_id":                cs.ID,
		"authoritative_hospital": cs.AuthoritativeHospital(),
		"override_used":          cs.OverrideUsed,
		"timeout_remaining_seconds": int(escalation.TimeoutRemaining(
			cs.AwaitingResponseSince, cs.AcuityLevel, time.Now().UTC()).Seconds()),
		"recommendations": ranked,
	})
}
