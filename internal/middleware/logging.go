// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// probePaths are logged at debug level so orchestrator probes do not flood the log.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Query strings are never logged: relay and manifest targets are signed URLs.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case probePaths[req.URL.Path]:
				level = slog.LevelDebug
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if r := req.Header.Get("Range"); r != "" {
				attrs = append(attrs, "range", r)
			}

			logger.Log(req.Context(), level, "request", attrs...)
			return err
		}
	}
}
