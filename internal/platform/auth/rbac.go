package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks the caller holds one of the
// given roles. The resolved session role is authoritative; token roles are
// consulted only when no session has been resolved.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			var userRoles []string
			if sess, ok := SessionFromContext(ctx); ok {
				userRoles = []string{sess.Role}
			} else {
				userRoles = RolesFromContext(ctx)
			}
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireSession rejects requests that reached a handler without a resolved session.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := SessionFromContext(c.Request().Context()); !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "no session")
			}
			return next(c)
		}
	}
}
