package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTMiddleware and read by handlers and the rate
// limiter.
const (
	UserIDKey    = "user_id"
	UserRoleKey  = "user_role"
	TokenJTIKey  = "token_jti"
	TokenExpKey  = "token_exp"
	RawTokenKey  = "raw_token"
)

// JWTMiddleware authenticates requests with a Bearer session token. Revoked
// tokens (signed out) are rejected even before their natural expiry.
func JWTMiddleware(cfg TokenConfig, revoked *TokenRevocationStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "malformed authorization header")
			}

			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			if revoked != nil && revoked.IsRevoked(claims.ID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(UserRoleKey, claims.Role)
			c.Set(TokenJTIKey, claims.ID)
			c.Set(TokenExpKey, claims.ExpiresAt.Time)
			c.Set(RawTokenKey, parts[1])

			return next(c)
		}
	}
}

// RequireRole returns middleware that rejects requests whose authenticated
// role is not in the allowed set.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(UserRoleKey).(string)
			if !allowed[strings.ToLower(role)] {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user id, or 0 when the request
// is unauthenticated.
func UserIDFromContext(c echo.Context) int64 {
	id, _ := c.Get(UserIDKey).(int64)
	return id
}
