package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-relay/internal/metrics"
)

func TestMetrics_Labels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		handler    echo.HandlerFunc
		wantMethod string
		wantStatus int // 0 skips the status check
		wantPath   string
	}{
		{
			name:       "relay partial content",
			method:     http.MethodGet,
			path:       "/media/relay?url=x",
			handler:    func(c echo.Context) error { return c.String(http.StatusPartialContent, "ok") },
			wantMethod: "GET",
			wantStatus: 206,
			wantPath:   "/media/relay",
		},
		{
			name:       "mirror sub-path collapsed",
			method:     http.MethodGet,
			path:       "/mirror/streams/dQw4w9WgXcQ",
			handler:    func(c echo.Context) error { return c.JSON(http.StatusServiceUnavailable, map[string]string{}) },
			wantMethod: "GET",
			wantStatus: 503,
			wantPath:   "/mirror",
		},
		{
			name:       "http error status",
			method:     http.MethodGet,
			path:       "/api/video/x",
			handler:    func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "not found") },
			wantMethod: "GET",
			wantStatus: 404,
			wantPath:   "/api",
		},
		{
			name:       "unknown method",
			method:     "XYZZY",
			path:       "/media/resolve",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantMethod: "other",
			wantStatus: 0,
			wantPath:   "/media/resolve",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			e := echo.New()
			e.Use(Metrics(m, "/metrics"))
			e.Any("/*", tt.handler)

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if tt.wantStatus != 0 && rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			status := strconv.Itoa(rec.Code)
			if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(tt.wantMethod, status, tt.wantPath)); got != 1 {
				t.Errorf("requests_total{%s,%s,%s} = %v, want 1", tt.wantMethod, status, tt.wantPath, got)
			}
			if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
				t.Errorf("in-flight = %v, want 0", got)
			}
		})
	}
}

func TestMetrics_RouterNotFound(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(Metrics(m))

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "404", "other")); got != 1 {
		t.Errorf("requests_total{GET,404,other} = %v, want 1", got)
	}
}

func TestMetrics_SkipsScrapePath(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(Metrics(m, "/metrics"))
	e.GET("/metrics", func(c echo.Context) error { return c.String(http.StatusOK, "") })

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.CollectAndCount(m.RequestsTotal); got != 0 {
		t.Errorf("requests_total series = %d, want 0", got)
	}
}
