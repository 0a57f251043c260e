package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const actorKey contextKey = "actor"

// Role names recognized by the dispatch core.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleCrew       = "crew"
	RoleHospital   = "hospital"
)

// Actor identifies the authenticated caller of a transition. Hospital-side
// users carry the hospital they act for; that identity is what the handover
// acknowledgement guard checks.
type Actor struct {
	ID         string
	Roles      []string
	HospitalID *uuid.UUID
}

// HasRole reports whether the actor holds the given role. Admin implies all
// roles.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

type Claims struct {
	jwt.RegisteredClaims
	Roles      []string `json:"roles"`
	HospitalID string   `json:"hospital_id,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is used for development/testing only
	SigningKey []byte
}

// JWTMiddleware validates bearer tokens and places the resulting Actor on the
// request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		// Dev mode: HMAC signing key
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			return cfg.SigningKey, nil
		}
	} else {
		// Production: JWKS validation
		keyFunc = jwksKeyFunc(cfg.JWKSURL)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			tokenStr := parts[1]
			claims := &Claims{}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256", "HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor := Actor{ID: claims.Subject, Roles: claims.Roles}
			if claims.HospitalID != "" {
				if hid, err := uuid.Parse(claims.HospitalID); err == nil {
					actor.HospitalID = &hid
				}
			}

			ctx := context.WithValue(c.Request().Context(), actorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development that allows
// unauthenticated requests with an admin actor. Callers can impersonate a
// role with the X-Dev-Role header and a hospital with X-Dev-Hospital-ID.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := Actor{ID: "dev-user", Roles: []string{RoleAdmin}}
			if role := c.Request().Header.Get("X-Dev-Role"); role != "" {
				actor.Roles = []string{role}
			}
			if hid := c.Request().Header.Get("X-Dev-Hospital-ID"); hid != "" {
				if parsed, err := uuid.Parse(hid); err == nil {
					actor.HospitalID = &parsed
				}
			}
			ctx := context.WithValue(c.Request().Context(), actorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ActorFromContext retrieves the authenticated actor from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey).(Actor)
	return actor
}

// WithActor returns a context carrying the given actor. Used by tests and by
// internal callers (the escalation monitor) that act without a request.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// RolesFromContext returns the roles of the authenticated actor.
func RolesFromContext(ctx context.Context) []string {
	return ActorFromContext(ctx).Roles
}
