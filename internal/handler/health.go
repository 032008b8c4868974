package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"media-relay/internal/config"
	"media-relay/internal/model"
	"media-relay/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health, readiness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	catalog *service.Catalog
	mirror  *service.MirrorService
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, catalog *service.Catalog, mirror *service.MirrorService) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, catalog: catalog, mirror: mirror}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz reports whether the metadata catalog finished its warm-up.
func (h *HealthHandler) Readyz(c echo.Context) error {
	if !h.catalog.Ready() {
		return c.JSON(http.StatusServiceUnavailable, model.ErrorBody{
			Error:   "not_ready",
			Message: "metadata catalog is warming up",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          string(h.version),
		"ready":            h.catalog.Ready(),
		"mirror_instances": h.mirror.Instances(),
		"relay_domains":    h.cfg.Relay.AllowedDomains,
	})
}
