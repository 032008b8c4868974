package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"media-relay/internal/metrics"
	"media-relay/internal/model"
	"media-relay/internal/service"
)

// MirrorHandler serves the raw mirror pass-through and the catalog lookups.
type MirrorHandler struct {
	mirror  *service.MirrorService
	catalog *service.Catalog
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewMirrorHandler creates a MirrorHandler. The metrics parameter is optional.
func NewMirrorHandler(mirror *service.MirrorService, catalog *service.Catalog, logger *slog.Logger, m *metrics.Metrics) *MirrorHandler {
	return &MirrorHandler{
		mirror:  mirror,
		catalog: catalog,
		logger:  logger.With("component", "mirror_handler"),
		metrics: m,
	}
}

// Proxy forwards /mirror/<sub-path>?<query> to the first healthy instance.
func (h *MirrorHandler) Proxy(c echo.Context) error {
	resp, err := h.mirror.Fetch(c.Request().Context(), c.Param("*"), c.QueryString())
	return h.respond(c, failureKind{param: "path", failure: "mirror_failed"}, resp, err)
}

// Trending serves /api/trending?region=.
func (h *MirrorHandler) Trending(c echo.Context) error {
	resp, err := h.catalog.Trending(c.Request().Context(), c.QueryParam("region"))
	return h.respond(c, failureKind{param: "region", failure: "catalog_failed"}, resp, err)
}

// Search serves /api/search?q=&continuation=.
func (h *MirrorHandler) Search(c echo.Context) error {
	resp, err := h.catalog.Search(c.Request().Context(), c.QueryParam("q"), c.QueryParam("continuation"))
	return h.respond(c, failureKind{param: "query", failure: "catalog_failed"}, resp, err)
}

// Video serves /api/video/:id.
func (h *MirrorHandler) Video(c echo.Context) error {
	resp, err := h.catalog.Video(c.Request().Context(), c.Param("id"))
	return h.respond(c, failureKind{param: "id", failure: "catalog_failed"}, resp, err)
}

// Comments serves /api/comments/:id?continuation=.
func (h *MirrorHandler) Comments(c echo.Context) error {
	resp, err := h.catalog.Comments(c.Request().Context(), c.Param("id"), c.QueryParam("continuation"))
	return h.respond(c, failureKind{param: "id", failure: "catalog_failed"}, resp, err)
}

// Channel serves /api/channel/:id?continuation=.
func (h *MirrorHandler) Channel(c echo.Context) error {
	resp, err := h.catalog.Channel(c.Request().Context(), c.Param("id"), c.QueryParam("continuation"))
	return h.respond(c, failureKind{param: "id", failure: "catalog_failed"}, resp, err)
}

// Related serves /api/related/:id.
func (h *MirrorHandler) Related(c echo.Context) error {
	list, err := h.catalog.Related(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(c, h.logger, failureKind{param: "id", failure: "catalog_failed"}, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Popular serves /api/popular, a short trending list for the home page.
func (h *MirrorHandler) Popular(c echo.Context) error {
	list, err := h.catalog.Popular(c.Request().Context())
	if err != nil {
		return mapError(c, h.logger, failureKind{param: "region", failure: "catalog_failed"}, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *MirrorHandler) respond(c echo.Context, kind failureKind, resp *model.UpstreamResponse, err error) error {
	if err != nil {
		return mapError(c, h.logger, kind, err)
	}
	return stream(c, h.logger, h.metrics, "mirror", resp)
}
