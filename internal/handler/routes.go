package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-relay/internal/config"
	"media-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	media *MediaHandler,
	mirror *MirrorHandler,
	health *HealthHandler,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/relay/status", health.Status)

	e.GET("/media/resolve", media.Resolve)
	e.GET("/media/relay", media.Relay)
	e.GET("/media/manifest", media.Manifest)

	e.GET("/mirror/*", mirror.Proxy)

	api := e.Group("/api")
	api.GET("/trending", mirror.Trending)
	api.GET("/search", mirror.Search)
	api.GET("/video/:id", mirror.Video)
	api.GET("/comments/:id", mirror.Comments)
	api.GET("/channel/:id", mirror.Channel)
	api.GET("/related/:id", mirror.Related)
	api.GET("/popular", mirror.Popular)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	if cfg.Server.StaticDir != "" {
		e.Static("/", cfg.Server.StaticDir)
	}
}
