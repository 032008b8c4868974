package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"media-relay/internal/config"
	"media-relay/internal/metrics"
	"media-relay/internal/model"
	"media-relay/internal/urlguard"
)

// SourceExternalResolver tags results produced by the external resolver.
const SourceExternalResolver = "external-resolver"

// authChallengeMarkers are lower-cased fragments of resolver diagnostics that
// mean the cookie jar must be refreshed.
var authChallengeMarkers = []string{
	"sign in to confirm",
	"not a bot",
	"use --cookies",
	"--cookies-from-browser",
	"cookies are no longer valid",
	"login required",
	"confirm your age",
}

// CommandRunner runs an external command and returns its captured output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx ends.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children spawned by the resolver may hold the pipes open after a kill.
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Resolver turns a video identifier into direct media URLs by running the
// external resolver tool.
type Resolver struct {
	runner  CommandRunner
	cfg     config.ResolverConfig
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a Resolver that runs the configured binary.
func NewResolver(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return NewResolverWithRunner(cfg, ExecRunner{}, logger, m)
}

// NewResolverWithRunner creates a Resolver with a custom CommandRunner.
func NewResolverWithRunner(cfg *config.Config, runner CommandRunner, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	limit := int64(cfg.Resolver.MaxConcurrent)
	if limit <= 0 {
		limit = 1
	}
	timeout := time.Duration(cfg.Resolver.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Resolver{
		runner:  runner,
		cfg:     cfg.Resolver,
		sem:     semaphore.NewWeighted(limit),
		timeout: timeout,
		logger:  logger.With("component", "resolver"),
		metrics: m,
	}
}

// Args returns the argument list for videoID. The ID must already be validated;
// arguments are passed to the process directly, never through a shell.
func (r *Resolver) Args(videoID string) []string {
	args := []string{"--cookies", r.cfg.CookiesFile}
	if r.cfg.JSRuntime != "" {
		args = append(args, "--js-runtimes", r.cfg.JSRuntime)
	}
	if r.cfg.RemoteComponents != "" {
		args = append(args, "--remote-components", r.cfg.RemoteComponents)
	}
	args = append(args,
		"--sleep-requests", strconv.Itoa(r.cfg.SleepRequests),
		"--user-agent", r.cfg.UserAgent,
		"--no-playlist",
		"--get-url",
		"-f", r.cfg.Format,
		r.cfg.WatchURLPrefix+videoID,
	)
	return args
}

// Resolve runs the resolver for videoID. It blocks the calling goroutine only;
// concurrent runs are capped by the semaphore and each run is killed when ctx
// is canceled or the per-run timeout elapses.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (*model.ResolvedMedia, error) {
	if err := urlguard.ValidateVideoID(videoID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for resolver slot: %w", err)
	}
	defer r.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.metrics != nil {
		r.metrics.ResolverInFlight.Inc()
		defer r.metrics.ResolverInFlight.Dec()
	}

	start := time.Now()
	stdout, stderr, runErr := r.runner.Run(runCtx, r.cfg.Binary, r.Args(videoID)...)
	duration := time.Since(start)

	media, outcome, err := r.interpret(ctx, runCtx, stdout, stderr, runErr)
	if r.metrics != nil {
		r.metrics.ResolverDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
	if err != nil {
		r.logger.Warn("resolve failed",
			"video_id", videoID,
			"outcome", outcome,
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
		return nil, err
	}

	r.logger.Info("resolved",
		"video_id", videoID,
		"muxed", media.Video == media.Audio,
		"duration_ms", duration.Milliseconds(),
	)
	return media, nil
}

// interpret maps the raw run result onto a ResolvedMedia or a classified error.
func (r *Resolver) interpret(ctx, runCtx context.Context, stdout, stderr []byte, runErr error) (*model.ResolvedMedia, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "canceled", fmt.Errorf("resolver abandoned: %w", err)
	}

	diag := strings.TrimSpace(string(stderr))
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, "timeout", fmt.Errorf("%w: resolver timed out after %s", ErrResolveFailed, r.timeout)
		}
		if isAuthChallenge(diag) {
			return nil, "auth", fmt.Errorf("%w: %s", ErrAuthChallenge, urlguard.Redact(lastLine(diag)))
		}
		return nil, "error", fmt.Errorf("%w: %w: %s", ErrResolveFailed, runErr, urlguard.Redact(lastLine(diag)))
	}

	video, audio, err := parseResolverOutput(stdout)
	if err != nil {
		if isAuthChallenge(diag) {
			return nil, "auth", fmt.Errorf("%w: %s", ErrAuthChallenge, urlguard.Redact(lastLine(diag)))
		}
		return nil, "empty", fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	return &model.ResolvedMedia{
		Video:  video,
		Audio:  audio,
		Source: SourceExternalResolver,
	}, "success", nil
}

// parseResolverOutput reads URL lines from stdout. Two or more lines give
// separate video and audio streams; a single line is a muxed stream used for both.
func parseResolverOutput(stdout []byte) (video, audio string, err error) {
	urls := make([]string, 0, 2)
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("read resolver output: %w", err)
	}

	switch len(urls) {
	case 0:
		return "", "", errors.New("resolver returned no urls")
	case 1:
		return urls[0], urls[0], nil
	default:
		return urls[0], urls[1], nil
	}
}

func isAuthChallenge(diag string) bool {
	lower := strings.ToLower(diag)
	for _, marker := range authChallengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// lastLine returns the final non-empty line of s, which is where the resolver
// prints its ERROR summary.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
