package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func doWithActor(t *testing.T, actor Actor, mw echo.MiddlewareFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor.ID != "" {
		req = req.WithContext(WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
}

func TestRequireRole_Allows(t *testing.T) {
	actor := Actor{ID: "d1", Roles: []string{RoleDispatcher}}
	if err := doWithActor(t, actor, RequireRole(RoleDispatcher)); err != nil {
		t.Fatalf("dispatcher should pass dispatcher check: %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	actor := Actor{ID: "a1", Roles: []string{RoleAdmin}}
	if err := doWithActor(t, actor, RequireRole(RoleCrew)); err != nil {
		t.Fatalf("admin should pass any role check: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	actor := Actor{ID: "c1", Roles: []string{RoleCrew}}
	err := doWithActor(t, actor, RequireRole(RoleDispatcher))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	err := doWithActor(t, Actor{}, RequireRole(RoleDispatcher))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
