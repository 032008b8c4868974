package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"media-relay/internal/client"
	"media-relay/internal/config"
	"media-relay/internal/model"
)

// DefaultRange is requested when the client sent no Range header.
const DefaultRange = "bytes=0-"

// forwardableRequestHeaders are the only inbound headers passed to the CDN
// besides Range, which is always set.
var forwardableRequestHeaders = []string{
	"If-Range",
}

// RelayService forwards byte-range requests to the media CDN.
type RelayService struct {
	client *client.MediaClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.MediaClient, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "relay_service"),
	}
}

// NewStreamRequest validates target against the relay allow-list and captures
// the range and forwardable headers of the inbound request.
func (s *RelayService) NewStreamRequest(target, rangeHeader string, inbound http.Header) (*model.StreamRequest, error) {
	u, err := s.client.Guard().Check(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return &model.StreamRequest{
		Target: u.String(),
		Range:  rangeHeader,
		Header: filterRequestHeaders(inbound),
	}, nil
}

// Open issues the upstream request and returns the response with the relayed
// header subset already applied. The caller streams and closes the body.
func (s *RelayService) Open(ctx context.Context, sr *model.StreamRequest) (*model.UpstreamResponse, error) {
	requested := sr.Range
	if requested == "" {
		requested = DefaultRange
	}

	header := sr.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Range", requested)
	// Transparent gzip would invalidate byte offsets and Content-Length.
	header.Set("Accept-Encoding", "identity")
	header.Set("User-Agent", s.cfg.Relay.UserAgent)

	resp, err := s.client.DoStream(ctx, sr.Target, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	s.logger.Debug("relay opened",
		"status", resp.StatusCode,
		"range", requested,
		"content_range", resp.Header.Get("Content-Range"),
	)

	resp.Header = relayHeaders(resp.Header, requested, s.cfg.Relay.DefaultContentType)
	return resp, nil
}

// relayHeaders builds the four headers sent to the client. Missing values fall
// back to defaults derived from the request; Accept-Ranges is always asserted.
func relayHeaders(src http.Header, requestedRange, defaultContentType string) http.Header {
	dst := make(http.Header, 4)

	contentType := src.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	dst.Set("Content-Type", contentType)
	dst.Set("Accept-Ranges", "bytes")

	contentRange := src.Get("Content-Range")
	if contentRange == "" {
		contentRange = requestedRange
	}
	dst.Set("Content-Range", contentRange)

	if cl := src.Get("Content-Length"); cl != "" {
		dst.Set("Content-Length", cl)
	}
	return dst
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}
