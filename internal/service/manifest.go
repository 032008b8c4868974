package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"media-relay/internal/client"
	"media-relay/internal/config"
	"media-relay/internal/model"
	"media-relay/internal/urlguard"
)

// ManifestContentType is served for every rewritten playlist.
const ManifestContentType = "application/vnd.apple.mpegurl"

// Same-origin paths that rewritten URLs point at.
const (
	RelayPath    = "/media/relay"
	ManifestPath = "/media/manifest"
)

const defaultManifestMaxBytes = 8 * 1024 * 1024

// urlToken matches an absolute URL, any scheme case, up to the next
// whitespace or quote. Trailing commas are list separators, not URL bytes.
var urlToken = regexp.MustCompile(`(?i)https?://[^\s"']+`)

// ManifestService fetches playlists and rewrites their media URLs.
type ManifestService struct {
	client *client.MediaClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewManifestService creates a ManifestService.
func NewManifestService(c *client.MediaClient, cfg *config.Config, logger *slog.Logger) *ManifestService {
	return &ManifestService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "manifest_service"),
	}
}

// Fetch downloads the playlist at target and returns it rewritten.
func (s *ManifestService) Fetch(ctx context.Context, target string) (*model.ManifestDocument, error) {
	u, err := s.client.Guard().Check(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	header := http.Header{}
	header.Set("User-Agent", s.cfg.Relay.UserAgent)
	resp, err := s.client.DoStream(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch manifest: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: manifest upstream returned HTTP %d", ErrUpstream, resp.StatusCode)
	}

	limit := s.cfg.Manifest.MaxBytes
	if limit <= 0 {
		limit = defaultManifestMaxBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrUpstream, err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: manifest exceeds %d bytes", ErrUpstream, limit)
	}

	body := RewriteManifest(string(raw), s.client.Guard())
	s.logger.Debug("manifest rewritten",
		"host", u.Host,
		"bytes_in", len(raw),
		"bytes_out", len(body),
	)

	return &model.ManifestDocument{
		Body:        body,
		ContentType: ManifestContentType,
	}, nil
}

// RewriteManifest replaces every allow-listed absolute URL in text with a
// same-origin relay path carrying the original URL as a query parameter.
// Nested playlists point back at the manifest endpoint so the client's
// follow-up fetch is rewritten too. Everything else is left byte-identical.
func RewriteManifest(text string, guard *urlguard.Guard) string {
	return urlToken.ReplaceAllStringFunc(text, func(match string) string {
		token := strings.TrimRight(match, ",")
		tail := match[len(token):]

		u, err := url.Parse(token)
		if err != nil {
			// Unparsable but allow-listed URLs still go through the relay, which
			// rejects them; the CDN host never reaches the client directly.
			if guard.Allows(rawHost(token)) {
				return RelayPath + "?url=" + url.QueryEscape(token) + tail
			}
			return match
		}
		if guard.CheckURL(u) != nil {
			return match
		}
		path := RelayPath
		if isPlaylist(u) {
			path = ManifestPath
		}
		return path + "?url=" + url.QueryEscape(token) + tail
	})
}

// rawHost extracts the host of an absolute URL without parsing escapes.
func rawHost(token string) string {
	_, rest, ok := strings.Cut(token, "://")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if host, _, err := net.SplitHostPort(rest); err == nil {
		return host
	}
	return rest
}

// isPlaylist reports whether u addresses a playlist rather than a media segment.
func isPlaylist(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".m3u8") ||
		strings.Contains(p, "/hls_playlist/") ||
		strings.Contains(p, "/hls_variant/")
}
