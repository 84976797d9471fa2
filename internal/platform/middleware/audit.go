package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/econsult/econsult/internal/platform/auth"
)

// auditEntry records who touched which consult and how.
type auditEntry struct {
	UserID     string
	Role       string
	Resource   string
	ConsultID  string
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// Audit logs a phi_access event for every /api/v1/ request after the handler
// has run, so the entry carries the final status and the resolved session.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !isAuditablePath(c.Request().URL.Path) {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			ctx := req.Context()
			entry := auditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: responseStatus(c, err),
				Action:     httpMethodToAction(req.Method),
				Resource:   extractResource(req.URL.Path),
				ConsultID:  extractConsultID(req.URL.Path),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if sess, ok := auth.SessionFromContext(ctx); ok {
				entry.UserID = sess.UserID.String()
				entry.Role = sess.Role
			} else {
				entry.UserID = auth.UserIDFromContext(ctx)
				if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
					entry.Role = roles[0]
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("consult_id", entry.ConsultID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Time("accessed_at", entry.Timestamp).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

// responseStatus reports the status the client will see. Errors are written
// by the outer error handler, so the recorder has not seen them yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after /api/v1/.
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// extractConsultID returns the id in /api/v1/consults/<uuid>/..., if any.
func extractConsultID(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/consults/")
	if !ok {
		return ""
	}
	seg, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(seg); err != nil {
		return ""
	}
	return seg
}
