package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"media-relay/internal/middleware"
)

func newLimitedEcho(rps float64) *echo.Echo {
	e := echo.New()
	e.Use(middleware.RateLimit(rps))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/api/trending", ok)
	e.GET("/media/relay", ok)
	e.GET("/healthz", ok)
	return e
}

func hit(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	e := newLimitedEcho(1)

	if rec := hit(e, "/api/trending"); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	var limited *httptest.ResponseRecorder
	for range 10 {
		if rec := hit(e, "/api/trending"); rec.Code == http.StatusTooManyRequests {
			limited = rec
			break
		}
	}
	if limited == nil {
		t.Fatal("expected a 429 response after the burst, got none")
	}

	var body map[string]string
	if err := json.Unmarshal(limited.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "rate_limited" {
		t.Errorf("error = %q, want rate_limited", body["error"])
	}
}

func TestRateLimit_ExemptPaths(t *testing.T) {
	e := newLimitedEcho(1)

	for _, path := range []string{"/media/relay", "/healthz"} {
		for i := range 20 {
			if rec := hit(e, path); rec.Code != http.StatusOK {
				t.Fatalf("%s request %d: status = %d, want %d", path, i, rec.Code, http.StatusOK)
			}
		}
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	e := newLimitedEcho(1)

	_ = hit(e, "/api/trending")
	for range 5 {
		_ = hit(e, "/api/trending")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/trending", http.NoBody)
	req.RemoteAddr = "198.51.100.9:4000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", rec.Code, http.StatusOK)
	}
}
