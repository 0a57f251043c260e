package handover

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ems/ems/internal/domain/dispatch"
	"github.com/ems/ems/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	crew := api.Group("", auth.RequireRole(auth.RoleCrew))
	crew.POST("/cases/:id/handover/initiate", h.Initiate)

	hosp := api.Group("", auth.RequireRole(auth.RoleHospital))
	hosp.POST("/cases/:id/handover/acknowledge", h.Acknowledge)

	read := api.Group("", auth.RequireRole(auth.RoleDispatcher, auth.RoleCrew, auth.RoleHospital))
	read.GET("/cases/:id/handover-summary", h.GetSummary)
}

func (h *Handler) Initiate(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	summary, err := h.svc.Initiate(c.Request().Context(), caseID)
	if err != nil {
		return dispatch.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, summary)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	kase, err := h.svc.Acknowledge(c.Request().Context(), caseID)
	if err != nil {
		return dispatch.HTTPError(err)
	}
	return c.JSON(http.StatusOK, kase)
}

func (h *Handler) GetSummary(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	summary, err := h.svc.GetSummary(c.Request().Context(), caseID)
	if err != nil {
		return dispatch.HTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
