package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// serviceRole is the database role carried by service tokens of a hosted
// Postgres platform; it is granted admin.
const serviceRole = "service_role"

type AppMetadata struct {
	Roles []string `json:"roles,omitempty"`
}

type Claims struct {
	jwt.RegisteredClaims
	Role        string      `json:"role,omitempty"`
	Roles       []string    `json:"roles,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata,omitempty"`
}

// EffectiveRoles merges the role claims into application roles.
func (c *Claims) EffectiveRoles() []string {
	seen := map[string]bool{}
	var out []string
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range c.Roles {
		add(r)
	}
	for _, r := range c.AppMetadata.Roles {
		add(r)
	}
	if c.Role == serviceRole {
		add(RoleAdmin)
	}
	if len(out) == 0 && c.Role == "authenticated" {
		add(RoleViewer)
	}
	return out
}

type JWTConfig struct {
	// SigningKey is the HS256 secret shared with the token issuer.
	SigningKey []byte
	Issuer     string
	Audience   string
	Skipper    middleware.Skipper
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	skipper := cfg.Skipper
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return err
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := WithUser(c.Request().Context(), claims.Subject, claims.EffectiveRoles())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// DevAuthMiddleware is a permissive middleware for development that allows
// unauthenticated requests as an admin user. Requests that do carry a token
// are validated when a signing key is configured.
func DevAuthMiddleware(signingKey []byte) echo.MiddlewareFunc {
	var jwtMW echo.MiddlewareFunc
	if len(signingKey) > 0 {
		jwtMW = JWTMiddleware(JWTConfig{SigningKey: signingKey})
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		validated := next
		if jwtMW != nil {
			validated = jwtMW(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				ctx := WithUser(c.Request().Context(), "dev-user", []string{RoleAdmin})
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}
			return validated(c)
		}
	}
}

// WithUser stores the caller identity in ctx.
func WithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
