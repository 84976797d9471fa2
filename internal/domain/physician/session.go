package physician

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/econsult/econsult/internal/platform/auth"
)

// ResolveSession builds the request session from the verified token and
// overrides role and clinic with the stored assignment when one exists.
func ResolveSession(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			sess, err := auth.SessionFromClaims(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			p, err := svc.GetByID(ctx, sess.UserID)
			switch {
			case err == nil:
				sess.Role = p.Role
				if p.ClinicID != nil {
					sess.ClinicID = p.ClinicID
				}
			case errors.Is(err, ErrNotFound):
			default:
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve user role")
			}

			c.SetRequest(c.Request().WithContext(auth.WithSession(ctx, sess)))
			return next(c)
		}
	}
}
