package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/econsult/econsult/internal/platform/auth"
)

const maxStack = 8 << 10

// Recovery turns a handler panic into a 500 carrying the request id, so a
// caller can quote it when reporting the failure.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				buf := make([]byte, maxStack)
				buf = buf[:runtime.Stack(buf, false)]

				req := c.Request()
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Str("user_id", auth.UserIDFromContext(req.Context())).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", buf).
					Msg("panic recovered")

				msg := "internal server error"
				if rid != "" {
					msg = fmt.Sprintf("internal server error (request %s)", rid)
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, msg)
			}()
			return next(c)
		}
	}
}
