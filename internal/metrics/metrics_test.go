package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.RequestsTotal.WithLabelValues("GET", "206", "/media/relay").Inc()
	m.MirrorAttempts.WithLabelValues("https://a.example.com", "success").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"media_relay_http_requests_total":   false,
		"media_relay_mirror_attempts_total": false,
		"media_relay_catalog_ready":         false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}

	if got := testutil.ToFloat64(m.MirrorAttempts.WithLabelValues("https://a.example.com", "success")); got != 1 {
		t.Errorf("mirror attempts = %v, want 1", got)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"POST", "POST"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/media/relay", "/media/relay"},
		{"/media/manifest", "/media/manifest"},
		{"/media/resolve", "/media/resolve"},
		{"/media/other", "other"},
		{"/mirror/streams/dQw4w9WgXcQ", "/mirror"},
		{"/api/trending", "/api"},
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/relay/status", "/relay/status"},
		{"/metrics", "/metrics"},
		{"/mirrors", "other"},
		{"/", "other"},
		{"/index.html", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
