package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"media-relay/internal/client"
	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
)

// forwardableMirrorHeaders are the only mirror response headers passed to the client.
var forwardableMirrorHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
	"Cache-Control":  true,
}

// maxDrainBytes bounds how much of a failed instance's body is read before
// closing, so the connection can be reused without reading a huge error page.
const maxDrainBytes = 64 * 1024

// MirrorService tries the configured mirror instances in order and returns
// the first successful response.
type MirrorService struct {
	client    *client.MirrorClient
	instances []*url.URL
	timeout   time.Duration
	header    http.Header
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewMirrorService creates a MirrorService. The metrics parameter is optional.
func NewMirrorService(c *client.MirrorClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*MirrorService, error) {
	instances := make([]*url.URL, 0, len(cfg.Mirror.Instances))
	for _, raw := range cfg.Mirror.Instances {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse mirror instance %q: %w", raw, err)
		}
		instances = append(instances, u)
	}
	if len(instances) == 0 {
		return nil, errors.New("no mirror instances configured")
	}

	timeout := time.Duration(cfg.Mirror.InstanceTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	header := make(http.Header)
	header.Set("Accept", "application/json")
	header.Set("User-Agent", cfg.Mirror.UserAgent)

	return &MirrorService{
		client:    c,
		instances: instances,
		timeout:   timeout,
		header:    header,
		logger:    logger.With("component", "mirror_service"),
		metrics:   m,
	}, nil
}

// Instances returns the configured base URLs in trial order.
func (s *MirrorService) Instances() []string {
	out := make([]string, len(s.instances))
	for i, u := range s.instances {
		out[i] = u.String()
	}
	return out
}

// Fetch requests subPath?rawQuery from each instance in configured order and
// returns the first 2xx response. Instances are tried one at a time; each gets
// at most the per-instance timeout to produce response headers. Every call
// starts again from the first instance.
//
// The caller is responsible for closing the response body.
func (s *MirrorService) Fetch(ctx context.Context, subPath, rawQuery string) (*model.UpstreamResponse, error) {
	candidates, err := s.candidates(subPath, rawQuery)
	if err != nil {
		return nil, err
	}

	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		instance := s.instances[i].Host

		resp, outcome, err := s.try(ctx, candidate)
		s.recordAttempt(instance, outcome)
		if err != nil {
			s.logger.Warn("mirror instance failed",
				"instance", instance,
				"position", i,
				"outcome", outcome,
				"err", err,
			)
			continue
		}

		s.logger.Debug("mirror instance succeeded",
			"instance", instance,
			"position", i,
			"status", resp.StatusCode,
		)
		return resp, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrAllMirrorsFailed
}

// try performs one attempt. The per-instance timer only covers the wait for
// headers; on success it is stopped and the body lives until Close.
func (s *MirrorService) try(ctx context.Context, candidate string) (*model.UpstreamResponse, string, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(s.timeout, cancel)

	resp, err := s.client.DoStream(attemptCtx, candidate, s.header.Clone())
	if !timer.Stop() {
		if err == nil {
			discard(resp.Body)
		}
		cancel()
		return nil, "timeout", fmt.Errorf("no response within %s: %w", s.timeout, context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		return nil, "error", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		discard(resp.Body)
		cancel()
		return nil, "status", fmt.Errorf("instance returned HTTP %d", resp.StatusCode)
	}

	resp.Header = filterMirrorHeaders(resp.Header)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, "success", nil
}

// candidates joins every instance base URL with subPath and rawQuery.
func (s *MirrorService) candidates(subPath, rawQuery string) ([]string, error) {
	clean, err := cleanSubPath(subPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	out := make([]string, 0, len(s.instances))
	for _, base := range s.instances {
		joined := strings.TrimRight(base.String(), "/") + "/" + clean
		if rawQuery != "" {
			joined += "?" + rawQuery
		}
		u, err := url.Parse(joined)
		if err != nil || u.Host != base.Host {
			return nil, fmt.Errorf("%w: sub-path %q does not stay on the instance host", ErrInvalidInput, subPath)
		}
		out = append(out, joined)
	}
	return out, nil
}

// cleanSubPath rejects sub-paths that could escape the instance base URL.
func cleanSubPath(subPath string) (string, error) {
	p := strings.TrimLeft(subPath, "/")
	if p == "" {
		return "", errors.New("sub-path is required")
	}
	if strings.Contains(p, "://") || strings.ContainsAny(p, "\\#?") {
		return "", fmt.Errorf("sub-path %q contains forbidden characters", subPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("sub-path %q contains dot segments", subPath)
		}
	}
	return p, nil
}

func (s *MirrorService) recordAttempt(instance, outcome string) {
	if s.metrics != nil {
		s.metrics.MirrorAttempts.WithLabelValues(instance, outcome).Inc()
	}
}

func filterMirrorHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableMirrorHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
	return dst
}

func discard(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}

// cancelOnClose releases the attempt context once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
