package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
	"media-relay/internal/urlguard"
)

// healthPath is probed on the mirrors during warm-up.
const healthPath = "healthcheck"

const (
	// popularLimit caps the popular list shown on the home page.
	popularLimit = 12
	// maxDocumentBytes bounds mirror documents that are decoded rather than streamed.
	maxDocumentBytes = 8 * 1024 * 1024
)

// Catalog serves metadata lookups (trending, search, video, comments, channel,
// related, popular)
// through the mirror failover. It is created once per process and reports
// not-ready until a mirror instance has answered the warm-up probe; lookups
// made before that fail immediately with ErrNotReady.
type Catalog struct {
	mirror  *MirrorService
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	ready atomic.Bool

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}

	newBackOff func() backoff.BackOff
}

// NewCatalog creates a Catalog over the mirror failover. The metrics parameter is optional.
func NewCatalog(mirror *MirrorService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Catalog {
	return &Catalog{
		mirror:  mirror,
		cfg:     cfg,
		logger:  logger.With("component", "catalog"),
		metrics: m,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// Ready reports whether the warm-up probe has succeeded.
func (c *Catalog) Ready() bool {
	return c.ready.Load()
}

// Start launches the warm-up in the background and returns immediately.
func (c *Catalog) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		if err := c.Warm(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("catalog warm-up gave up; metadata lookups stay unavailable", "err", err)
		}
	}()
}

// Stop cancels a running warm-up and waits for it to return.
func (c *Catalog) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.mu.Unlock()
	if stop == nil {
		return nil
	}

	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Warm probes the mirrors with exponential backoff until one answers, then
// marks the catalog ready. It blocks until success, ctx ends, or the
// configured warm-up budget is spent.
func (c *Catalog) Warm(ctx context.Context) error {
	probe := func() (struct{}, error) {
		resp, err := c.mirror.Fetch(ctx, healthPath, "")
		if err != nil {
			return struct{}{}, err
		}
		_ = resp.Body.Close()
		return struct{}{}, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(time.Duration(c.cfg.Mirror.WarmupMaxSeconds) * time.Second),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("catalog warm-up probe failed", "err", err, "retry_in", next)
		}),
	}

	start := time.Now()
	if _, err := backoff.Retry(ctx, probe, opts...); err != nil {
		return fmt.Errorf("warm up catalog: %w", err)
	}

	c.ready.Store(true)
	if c.metrics != nil {
		c.metrics.CatalogReady.Set(1)
	}
	c.logger.Info("catalog ready", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Trending returns the trending list for region (the configured default when empty).
func (c *Catalog) Trending(ctx context.Context, region string) (*model.UpstreamResponse, error) {
	if region == "" {
		region = c.cfg.Mirror.Region
	}
	if len(region) != 2 || strings.ToUpper(region) != region || !isLetters(region) {
		return nil, fmt.Errorf("%w: region must be a two-letter upper-case country code", ErrInvalidInput)
	}
	return c.lookup(ctx, "trending", url.Values{"region": {region}})
}

// Search runs a video search, or continues one when continuation is set.
func (c *Catalog) Search(ctx context.Context, query, continuation string) (*model.UpstreamResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, fmt.Errorf("query: %w", urlguard.ErrMissing))
	}
	q := url.Values{"q": {query}, "filter": {"videos"}}
	if continuation != "" {
		q.Set("nextpage", continuation)
		return c.lookup(ctx, "nextpage/search", q)
	}
	return c.lookup(ctx, "search", q)
}

// Video returns the details, streams and related videos of one video.
func (c *Catalog) Video(ctx context.Context, videoID string) (*model.UpstreamResponse, error) {
	if err := urlguard.ValidateVideoID(videoID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return c.lookup(ctx, "streams/"+videoID, nil)
}

// Comments returns a page of comments for a video.
func (c *Catalog) Comments(ctx context.Context, videoID, continuation string) (*model.UpstreamResponse, error) {
	if err := urlguard.ValidateVideoID(videoID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if continuation != "" {
		return c.lookup(ctx, "nextpage/comments/"+videoID, url.Values{"nextpage": {continuation}})
	}
	return c.lookup(ctx, "comments/"+videoID, nil)
}

// Channel returns channel details and a page of its videos.
func (c *Catalog) Channel(ctx context.Context, channelID, continuation string) (*model.UpstreamResponse, error) {
	if err := urlguard.ValidateChannelID(channelID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if continuation != "" {
		return c.lookup(ctx, "nextpage/channel/"+channelID, url.Values{"nextpage": {continuation}})
	}
	return c.lookup(ctx, "channel/"+channelID, nil)
}

// Related returns the videos the mirror lists as related to videoID.
// Mirrors have no dedicated endpoint; the list comes from the streams document.
func (c *Catalog) Related(ctx context.Context, videoID string) (*model.ItemList, error) {
	if err := urlguard.ValidateVideoID(videoID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	var doc struct {
		RelatedStreams []json.RawMessage `json:"relatedStreams"`
	}
	if err := c.decode(ctx, "streams/"+videoID, nil, &doc); err != nil {
		return nil, err
	}
	return newItemList(doc.RelatedStreams, len(doc.RelatedStreams)), nil
}

// Popular returns the first popularLimit trending videos of the default region.
func (c *Catalog) Popular(ctx context.Context) (*model.ItemList, error) {
	var items []json.RawMessage
	if err := c.decode(ctx, "trending", url.Values{"region": {c.cfg.Mirror.Region}}, &items); err != nil {
		return nil, err
	}
	return newItemList(items, popularLimit), nil
}

func newItemList(items []json.RawMessage, limit int) *model.ItemList {
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return &model.ItemList{Items: items}
}

// decode fetches a mirror document and unmarshals it into v.
func (c *Catalog) decode(ctx context.Context, subPath string, query url.Values, v any) error {
	resp, err := c.lookup(ctx, subPath, query)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, subPath, err)
	}
	return nil
}

func (c *Catalog) lookup(ctx context.Context, subPath string, query url.Values) (*model.UpstreamResponse, error) {
	if !c.Ready() {
		return nil, ErrNotReady
	}
	return c.mirror.Fetch(ctx, subPath, query.Encode())
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
