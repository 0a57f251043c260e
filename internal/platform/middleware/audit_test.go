package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ems/ems/internal/platform/auth"
)

func TestAudit_LogsCaseAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/abc-123/dispatch", nil)
	actor := auth.Actor{ID: "disp-1", Roles: []string{auth.RoleDispatcher}}
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Audit(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["actor_id"] != "disp-1" {
		t.Errorf("actor_id = %v, want disp-1", line["actor_id"])
	}
	if line["resource"] != "cases" {
		t.Errorf("resource = %v, want cases", line["resource"])
	}
	if line["case_id"] != "abc-123" {
		t.Errorf("case_id = %v, want abc-123", line["case_id"])
	}
	if line["action"] != "create" {
		t.Errorf("action = %v, want create", line["action"])
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Audit(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output for /health, got %q", buf.String())
	}
}
