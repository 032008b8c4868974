package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"media-relay/internal/metrics"
	"media-relay/internal/service"
)

var (
	relayErrors    = failureKind{param: "url", failure: "relay_failed"}
	manifestErrors = failureKind{param: "url", failure: "manifest_failed"}
	resolveErrors  = failureKind{param: "id", failure: "resolve_failed"}
)

// MediaHandler serves the media endpoints: resolution, byte-range relay and
// manifest rewriting.
type MediaHandler struct {
	relay    *service.RelayService
	manifest *service.ManifestService
	resolver *service.Resolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewMediaHandler creates a MediaHandler. The metrics parameter is optional.
func NewMediaHandler(
	relay *service.RelayService,
	manifest *service.ManifestService,
	resolver *service.Resolver,
	logger *slog.Logger,
	m *metrics.Metrics,
) *MediaHandler {
	return &MediaHandler{
		relay:    relay,
		manifest: manifest,
		resolver: resolver,
		logger:   logger.With("component", "media_handler"),
		metrics:  m,
	}
}

// Resolve returns the direct media URLs for ?id=.
func (h *MediaHandler) Resolve(c echo.Context) error {
	media, err := h.resolver.Resolve(c.Request().Context(), c.QueryParam("id"))
	if err != nil {
		return mapError(c, h.logger, resolveErrors, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, media)
}

// Relay streams the byte range of ?url= back to the client.
func (h *MediaHandler) Relay(c echo.Context) error {
	req := c.Request()

	sr, err := h.relay.NewStreamRequest(c.QueryParam("url"), req.Header.Get("Range"), req.Header)
	if err != nil {
		return mapError(c, h.logger, relayErrors, err)
	}

	resp, err := h.relay.Open(req.Context(), sr)
	if err != nil {
		return mapError(c, h.logger, relayErrors, err)
	}
	return stream(c, h.logger, h.metrics, "relay", resp)
}

// Manifest fetches the playlist at ?url= and serves it with media URLs
// pointing back at this service.
func (h *MediaHandler) Manifest(c echo.Context) error {
	doc, err := h.manifest.Fetch(c.Request().Context(), c.QueryParam("url"))
	if err != nil {
		return mapError(c, h.logger, manifestErrors, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, doc.ContentType, []byte(doc.Body))
}
