package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"media-relay/internal/model"
)

// unlimitedPaths are exempt from rate limiting. Players issue one range
// request per buffered segment, so /media/relay would trip any sane limit.
var unlimitedPaths = map[string]bool{
	"/healthz":     true,
	"/readyz":      true,
	"/media/relay": true,
}

// RateLimit returns a per-client-IP limiter allowing rps requests per second
// with a burst of the same size (at least 1).
func RateLimit(rps float64) echo.MiddlewareFunc {
	burst := max(int(rps), 1)
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(rps),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return unlimitedPaths[c.Request().URL.Path]
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, model.ErrorBody{
				Error:   "forbidden",
				Message: "client could not be identified",
			})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, model.ErrorBody{
				Error:   "rate_limited",
				Message: "too many requests",
			})
		},
	})
}
