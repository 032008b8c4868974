package handler

import (
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"media-relay/internal/metrics"
	"media-relay/internal/model"
)

// stream writes the upstream status and headers, then copies the body to the
// client as it arrives. The body is closed before returning.
func stream(c echo.Context, logger *slog.Logger, m *metrics.Metrics, route string, resp *model.UpstreamResponse) error {
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Once the status line is out a failure can only truncate the response.
	n, err := io.Copy(c.Response(), resp.Body)
	if m != nil {
		m.RelayedBytes.WithLabelValues(route).Add(float64(n))
	}
	if err != nil {
		logger.Warn("streaming response body",
			"err", err,
			"route", route,
			"bytes", n,
		)
	}
	return nil
}
