package override

import (
	"net/http"
	"strconv"

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
	g := api.Group("", auth.RequireRole(auth.RoleDispatcher))
	g.POST("/cases/:id/override", h.Override)
	g.GET("/cases/:id/overrides", h.History)
}

func (h *Handler) Override(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Override(c.Request().Context(), caseID, in)
	if err != nil {
		return dispatch.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) History(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	items, err := h.svc.History(c.Request().Context(), caseID, limit)
	if err != nil {
		return dispatch.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}
