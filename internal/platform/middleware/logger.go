package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/econsult/econsult/internal/platform/auth"
)

// Logger writes one line per request. Server errors log at error level,
// client errors at warn. The session is read after the handler ran, so the
// stored role is logged rather than the token's.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// let the error handler write the status before we log it
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			rid, _ := c.Get("request_id").(string)

			evt := requestEvent(logger, status)
			if err != nil {
				evt = evt.Err(err)
			}
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Int64("bytes_out", c.Response().Size)

			if sess, ok := auth.SessionFromContext(req.Context()); ok {
				evt = evt.Str("user_id", sess.UserID.String()).Str("role", sess.Role)
			} else if uid := auth.UserIDFromContext(req.Context()); uid != "" {
				evt = evt.Str("user_id", uid)
			}
			evt.Msg("request")
			return nil
		}
	}
}

func requestEvent(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Error()
	case status >= http.StatusBadRequest:
		return logger.Warn()
	default:
		return logger.Info()
	}
}
