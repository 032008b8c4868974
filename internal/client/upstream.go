// Package client provides the outbound HTTP clients for media CDNs and mirror instances.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
	"media-relay/internal/urlguard"
)

const maxRedirects = 5

// Upstream sends requests to one class of upstream (media CDN or mirror instances).
type Upstream struct {
	name       string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// MediaClient talks to the media CDN. Every redirect hop is re-validated
// against the relay allow-list.
type MediaClient struct {
	*Upstream
	guard *urlguard.Guard
}

// MirrorClient talks to the metadata mirror instances.
type MirrorClient struct {
	*Upstream
}

// NewMediaClient creates a MediaClient with connection pooling and a header timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewMediaClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *MediaClient {
	guard := urlguard.New(cfg.Relay.AllowedDomains)
	u := newUpstream("media", cfg, logger, m)
	u.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if err := guard.CheckURL(req.URL); err != nil {
			return fmt.Errorf("redirect rejected: %w", err)
		}
		return nil
	}
	return &MediaClient{Upstream: u, guard: guard}
}

// NewMirrorClient creates a MirrorClient with connection pooling and a header timeout.
func NewMirrorClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *MirrorClient {
	return &MirrorClient{Upstream: newUpstream("mirror", cfg, logger, m)}
}

// Guard returns the allow-list the client enforces on redirects.
func (c *MediaClient) Guard() *urlguard.Guard {
	return c.guard
}

// newUpstream builds the shared transport. There is no overall client timeout:
// media bodies stream for as long as the viewer watches, so only the wait for
// response headers is bounded. The request context cancels the rest.
func newUpstream(name string, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Upstream{
		name:       name,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", name+"_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *Upstream) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(c.name).Observe(duration)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamResponses.WithLabelValues(c.name, errorLabel(err)).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(c.name, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a GET and returns the response body as a stream.
// The caller is responsible for closing the returned body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *Upstream) DoStream(ctx context.Context, url string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header
	}
	return c.Do(req)
}

// errorLabel maps transport failures onto a bounded status label.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "error"
}
