package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

// AdminKey holds the authenticated admin email on the request context.
const AdminKey contextKey = "admin_email"

// JWTMiddleware requires a valid "Authorization: Bearer <token>" header.
// Missing, malformed and expired tokens all answer 401.
func JWTMiddleware(tokens *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := tokens.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set("admin", claims.Subject)
			ctx := context.WithValue(c.Request().Context(), AdminKey, claims.Subject)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// Optional returns mw when enabled and a pass-through middleware otherwise.
func Optional(enabled bool, mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	if enabled {
		return mw
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
}

// AdminFromContext returns the authenticated admin email, or "".
func AdminFromContext(ctx context.Context) string {
	email, _ := ctx.Value(AdminKey).(string)
	return email
}

// QueryToken lifts an access_token query parameter into the Authorization
// header. Browsers cannot set headers on a WebSocket handshake.
func QueryToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Header.Get("Authorization") == "" {
				if tok := c.QueryParam("access_token"); tok != "" {
					req.Header.Set("Authorization", "Bearer "+tok)
				}
			}
			return next(c)
		}
	}
}
