// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// resolverBuckets cover subprocess runs, which take seconds rather than milliseconds.
var resolverBuckets = []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RelayedBytes     *prometheus.CounterVec
	MirrorAttempts   *prometheus.CounterVec
	ResolverDuration *prometheus.HistogramVec
	ResolverInFlight prometheus.Gauge
	CatalogReady     prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"upstream"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_upstream_responses_total",
			Help: "Total upstream responses by upstream kind and status code.",
		}, []string{"upstream", "status_code"}),

		RelayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_relayed_bytes_total",
			Help: "Body bytes streamed from upstream to clients.",
		}, []string{"route"}),

		MirrorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_mirror_attempts_total",
			Help: "Mirror instance attempts by instance and outcome.",
		}, []string{"instance", "outcome"}),

		ResolverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_resolver_duration_seconds",
			Help:    "External resolver run time in seconds.",
			Buckets: resolverBuckets,
		}, []string{"outcome"}),

		ResolverInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_relay_resolver_in_flight",
			Help: "Resolver subprocesses currently running.",
		}),

		CatalogReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_relay_catalog_ready",
			Help: "1 once a mirror instance has answered the warm-up probe.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RelayedBytes,
		m.MirrorAttempts,
		m.ResolverDuration,
		m.ResolverInFlight,
		m.CatalogReady,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{
	"/media/resolve", "/media/relay", "/media/manifest",
	"/mirror", "/api", "/healthz", "/readyz", "/relay/status", "/metrics",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
