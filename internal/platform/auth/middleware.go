package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Headers the development middleware reads to impersonate an actor.
const (
	DevActorIDHeader   = "X-Actor-ID"
	DevActorRoleHeader = "X-Actor-Role"
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches to HS256 validation; development and tests only.
	SigningKey []byte
}

func (cfg JWTConfig) keyfunc() jwt.Keyfunc {
	if len(cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	}
	url := cfg.JWKSURL
	if url == "" && cfg.Issuer != "" {
		if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
			url = discovered
		}
	}
	return NewJWKSCache(url, defaultJWKSCacheTTL).Keyfunc()
}

func withIdentity(c echo.Context, userID string, roles []string, tenantID string) {
	if tenantID != "" {
		c.Set("jwt_tenant_id", tenantID)
	}
	ctx := context.WithValue(c.Request().Context(), UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware validates the bearer token and puts the subject and roles on
// the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyfunc := cfg.keyfunc()
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyfunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			withIdentity(c, claims.Subject, claims.Roles, claims.TenantID)
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts X-Actor-ID and X-Actor-Role so local clients can
// act as any doctor, patient or admin. Without headers the caller is
// dev-admin. Never enable outside development.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(DevActorIDHeader))
			role := strings.TrimSpace(c.Request().Header.Get(DevActorRoleHeader))
			if id == "" {
				id = "dev-admin"
			}
			if role == "" {
				role = "admin"
			}
			withIdentity(c, id, []string{role}, "")
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// rolePrecedence orders roles when a token carries several.
var rolePrecedence = []string{"admin", "doctor", "patient", "system"}

// PrimaryRole picks the most privileged known role, or "" when none match.
func PrimaryRole(roles []string) string {
	for _, want := range rolePrecedence {
		for _, r := range roles {
			if r == want {
				return want
			}
		}
	}
	return ""
}
