package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request bodies at defaultLimit, except attachment uploads
// (POST .../attachments) which may use uploadLimit.
//
// Limits are human-readable: "1M", "512K", "1G". A bare number is bytes.
func BodyLimit(defaultLimit string, uploadLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	uploadBytes := parseLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if req.Method == http.MethodPost && strings.HasSuffix(strings.TrimRight(req.URL.Path, "/"), "/attachments") {
				limit = uploadBytes
			}

			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"detail": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
				})
			}

			// ContentLength may be absent or wrong.
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)

	if r.remaining < 0 {
		r.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

// parseLimit converts "1M", "512K", "10G" to bytes, defaulting to 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}

	s = strings.TrimSuffix(s, "B")
	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 1 << 20
	}
	return n * multiplier
}
