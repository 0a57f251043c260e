package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func signTestToken(t *testing.T, key []byte, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	key := []byte("test-signing-key")
	hospitalID := uuid.New()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles:      []string{RoleHospital},
		HospitalID: hospitalID.String(),
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, key, claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	handler := JWTMiddleware(JWTConfig{SigningKey: key})(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if got.ID != "user-1" {
		t.Errorf("actor ID = %q, want user-1", got.ID)
	}
	if !got.HasRole(RoleHospital) {
		t.Error("actor should have hospital role")
	}
	if got.HospitalID == nil || *got.HospitalID != hospitalID {
		t.Errorf("actor hospital ID = %v, want %s", got.HospitalID, hospitalID)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTMiddleware(JWTConfig{SigningKey: []byte("k")})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	key := []byte("test-signing-key")
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Roles: []string{RoleDispatcher},
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, key, claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTMiddleware(JWTConfig{SigningKey: key})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	hospitalID := uuid.New()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-Role", RoleHospital)
	req.Header.Set("X-Dev-Hospital-ID", hospitalID.String())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	handler := DevAuthMiddleware()(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !got.HasRole(RoleHospital) {
		t.Error("actor should carry role from X-Dev-Role")
	}
	if got.HasRole(RoleDispatcher) {
		t.Error("actor should not carry dispatcher role")
	}
	if got.HospitalID == nil || *got.HospitalID != hospitalID {
		t.Errorf("actor hospital ID = %v, want %s", got.HospitalID, hospitalID)
	}
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	handler := DevAuthMiddleware()(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !got.HasRole(RoleDispatcher) {
		t.Error("admin actor should satisfy any role check")
	}
}

func TestActorHasRole_AdminImpliesAll(t *testing.T) {
	admin := Actor{ID: "a", Roles: []string{RoleAdmin}}
	for _, role := range []string{RoleDispatcher, RoleCrew, RoleHospital, RoleAdmin} {
		if !admin.HasRole(role) {
			t.Errorf("admin should have role %s", role)
		}
	}

	crew := Actor{ID: "c", Roles: []string{RoleCrew}}
	if crew.HasRole(RoleDispatcher) {
		t.Error("crew should not have dispatcher role")
	}
}
