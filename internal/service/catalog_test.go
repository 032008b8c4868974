package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
)

func newTestCatalog(t *testing.T, cfg *config.Config, m *metrics.Metrics, instances ...string) *Catalog {
	t.Helper()
	c := NewCatalog(newTestMirror(t, cfg, m, instances...), cfg, discardLogger(), m)
	c.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}
	return c
}

// closeBody releases a lookup response and passes its error through.
func closeBody(resp *model.UpstreamResponse, err error) error {
	if resp != nil {
		_ = resp.Body.Close()
	}
	return err
}

func TestCatalog_NotReady(t *testing.T) {
	log := &attemptLog{}
	srv := instanceServer(t, "a", log, jsonOK(`[]`))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)

	if c.Ready() {
		t.Fatal("Ready() = true before warm-up")
	}
	if _, err := c.Trending(context.Background(), ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("Trending() error = %v, want ErrNotReady", err)
	}
	if got := len(log.get()); got != 0 {
		t.Errorf("mirror attempts = %d, want 0 before ready", got)
	}
}

func TestCatalog_Warm_RetriesUntilHealthy(t *testing.T) {
	var probes atomic.Int32
	log := &attemptLog{}
	srv := instanceServer(t, "a", log, func(w http.ResponseWriter, r *http.Request) {
		if probes.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		jsonOK(`{}`)(w, r)
	})

	m := metrics.New()
	c := newTestCatalog(t, testConfig(), m, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Warm(ctx); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}

	if !c.Ready() {
		t.Error("Ready() = false after successful warm-up")
	}
	if got := probes.Load(); got != 3 {
		t.Errorf("probes = %d, want 3", got)
	}
	if got := log.get()[0]; got != "a /healthcheck" {
		t.Errorf("probe = %q, want %q", got, "a /healthcheck")
	}
	if v := testutil.ToFloat64(m.CatalogReady); v != 1 {
		t.Errorf("catalog_ready = %v, want 1", v)
	}
}

func TestCatalog_StartStop(t *testing.T) {
	log := &attemptLog{}
	srv := instanceServer(t, "a", log, failWith(http.StatusBadGateway))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)

	c.Start()
	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.Ready() {
		t.Error("Ready() = true although every probe failed")
	}
}

func TestCatalog_Lookups(t *testing.T) {
	log := &attemptLog{}
	srv := instanceServer(t, "m", log, jsonOK(`{}`))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)
	c.ready.Store(true)

	tests := []struct {
		name string
		call func(ctx context.Context) error
		want string
	}{
		{"trending default region", func(ctx context.Context) error { return closeBody(c.Trending(ctx, "")) }, "m /trending?region=JP"},
		{"trending region", func(ctx context.Context) error { return closeBody(c.Trending(ctx, "US")) }, "m /trending?region=US"},
		{"search", func(ctx context.Context) error { return closeBody(c.Search(ctx, "lo fi", "")) }, "m /search?filter=videos&q=lo+fi"},
		{"search next page", func(ctx context.Context) error { return closeBody(c.Search(ctx, "lo fi", "tok")) }, "m /nextpage/search?filter=videos&nextpage=tok&q=lo+fi"},
		{"video", func(ctx context.Context) error { return closeBody(c.Video(ctx, "dQw4w9WgXcQ")) }, "m /streams/dQw4w9WgXcQ"},
		{"comments", func(ctx context.Context) error { return closeBody(c.Comments(ctx, "dQw4w9WgXcQ", "")) }, "m /comments/dQw4w9WgXcQ"},
		{"comments next page", func(ctx context.Context) error { return closeBody(c.Comments(ctx, "dQw4w9WgXcQ", "a b")) }, "m /nextpage/comments/dQw4w9WgXcQ?nextpage=a+b"},
		{"channel", func(ctx context.Context) error { return closeBody(c.Channel(ctx, "UCuAXFkgsw1L7xaCfnd5JJOw", "")) }, "m /channel/UCuAXFkgsw1L7xaCfnd5JJOw"},
		{"channel next page", func(ctx context.Context) error { return closeBody(c.Channel(ctx, "UC1", "p2")) }, "m /nextpage/channel/UC1?nextpage=p2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(log.get())
			if err := tt.call(context.Background()); err != nil {
				t.Fatalf("lookup error = %v", err)
			}
			got := log.get()
			if len(got) != before+1 {
				t.Fatalf("attempts = %v, want one more", got)
			}
			if got[before] != tt.want {
				t.Errorf("request = %q, want %q", got[before], tt.want)
			}
		})
	}
}

func TestCatalog_Lookups_InvalidInput(t *testing.T) {
	log := &attemptLog{}
	srv := instanceServer(t, "m", log, jsonOK(`{}`))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)
	c.ready.Store(true)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"region lower-case", closeBody(c.Trending(ctx, "us"))},
		{"region too long", closeBody(c.Trending(ctx, "USA"))},
		{"empty query", closeBody(c.Search(ctx, "  ", ""))},
		{"bad video id", closeBody(c.Video(ctx, "nope"))},
		{"bad comments id", closeBody(c.Comments(ctx, "../../x/yy", ""))},
		{"bad channel id", closeBody(c.Channel(ctx, "UC/../admin", ""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", tt.err)
			}
		})
	}
	if got := len(log.get()); got != 0 {
		t.Errorf("mirror attempts = %d, want 0", got)
	}
}

func TestCatalog_Related(t *testing.T) {
	log := &attemptLog{}
	srv := instanceServer(t, "m", log, jsonOK(`{"title":"x","relatedStreams":[{"url":"/watch?v=a"},{"url":"/watch?v=b"}]}`))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)
	c.ready.Store(true)

	list, err := c.Related(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if len(list.Items) != 2 || string(list.Items[1]) != `{"url":"/watch?v=b"}` {
		t.Errorf("items = %s", list.Items)
	}
	if got := log.get(); len(got) != 1 || got[0] != "m /streams/dQw4w9WgXcQ" {
		t.Errorf("requests = %v", got)
	}
}

func TestCatalog_Related_Empty(t *testing.T) {
	srv := instanceServer(t, "m", &attemptLog{}, jsonOK(`{"title":"x"}`))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)
	c.ready.Store(true)

	list, err := c.Related(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Related() error = %v", err)
	}
	if list.Items == nil || len(list.Items) != 0 {
		t.Errorf("items = %#v, want empty non-nil", list.Items)
	}
}

func TestCatalog_Popular(t *testing.T) {
	body := "["
	for i := range 20 {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"n":%d}`, i)
	}
	body += "]"

	log := &attemptLog{}
	srv := instanceServer(t, "m", log, jsonOK(body))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)
	c.ready.Store(true)

	list, err := c.Popular(context.Background())
	if err != nil {
		t.Fatalf("Popular() error = %v", err)
	}
	if len(list.Items) != 12 {
		t.Errorf("items = %d, want 12", len(list.Items))
	}
	if string(list.Items[11]) != `{"n":11}` {
		t.Errorf("last item = %s", list.Items[11])
	}
	if got := log.get(); len(got) != 1 || got[0] != "m /trending?region=JP" {
		t.Errorf("requests = %v", got)
	}
}

func TestCatalog_DecodeErrors(t *testing.T) {
	srv := instanceServer(t, "m", &attemptLog{}, jsonOK(`not json`))
	c := newTestCatalog(t, testConfig(), nil, srv.URL)
	ctx := context.Background()

	if _, err := c.Popular(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("Popular() before warm-up error = %v, want ErrNotReady", err)
	}

	c.ready.Store(true)
	if _, err := c.Popular(ctx); !errors.Is(err, ErrUpstream) {
		t.Errorf("Popular() error = %v, want ErrUpstream", err)
	}
	if _, err := c.Related(ctx, "dQw4w9WgXcQ"); !errors.Is(err, ErrUpstream) {
		t.Errorf("Related() error = %v, want ErrUpstream", err)
	}
	if _, err := c.Related(ctx, "bad"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Related(bad) error = %v, want ErrInvalidInput", err)
	}
}
