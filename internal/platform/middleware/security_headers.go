package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets hardening headers on every response. Inline styles are
// allowed so the consult print view renders; nothing else may load.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "no-referrer")
			// consult data is patient data; never cache it
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
