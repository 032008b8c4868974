// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/media-relay/config.toml",
	"configs/config.toml",
}

// reservedPrefixes are route prefixes the metrics endpoint may not shadow.
var reservedPrefixes = []string{"/media", "/mirror", "/api", "/healthz", "/readyz", "/relay/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Cookies   string `kong:"help='Cookie jar passed to the resolver (overrides config).',env='RESOLVER_COOKIES'"`
	StaticDir string `kong:"help='Directory of static player files to serve at / (overrides config).',env='STATIC_DIR'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	Manifest ManifestConfig `toml:"manifest"`
	Mirror   MirrorConfig   `toml:"mirror"`
	Resolver ResolverConfig `toml:"resolver"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string          `toml:"host"`
	Port             int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes     int64           `toml:"body_max_bytes"`
	StaticDir        string          `toml:"static_dir"`
	CORSAllowOrigins []string        `toml:"cors_allow_origins"`
	RateLimit        RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds outbound connection settings shared by every upstream client.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"` // bounds the wait for response headers, not the body
	IdleConnections int `toml:"idle_connections"`
}

// RelayConfig controls the range proxy.
type RelayConfig struct {
	AllowedDomains     []string `toml:"allowed_domains"`
	UserAgent          string   `toml:"user_agent"`
	DefaultContentType string   `toml:"default_content_type"`
}

// ManifestConfig controls the playlist rewriter.
type ManifestConfig struct {
	MaxBytes int64 `toml:"max_bytes"`
}

// MirrorConfig lists the interchangeable metadata instances, tried in order.
type MirrorConfig struct {
	Instances              []string `toml:"instances"`
	InstanceTimeoutSeconds int      `toml:"instance_timeout_seconds"`
	UserAgent              string   `toml:"user_agent"`
	Region                 string   `toml:"region"`
	WarmupMaxSeconds       int      `toml:"warmup_max_seconds"` // 0 retries until shutdown
}

// ResolverConfig describes how the external URL resolver is invoked.
type ResolverConfig struct {
	Binary           string `toml:"binary"`
	CookiesFile      string `toml:"cookies_file"`
	Format           string `toml:"format"`
	UserAgent        string `toml:"user_agent"`
	SleepRequests    int    `toml:"sleep_requests"`
	JSRuntime        string `toml:"js_runtime"`
	RemoteComponents string `toml:"remote_components"`
	WatchURLPrefix   string `toml:"watch_url_prefix"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MaxConcurrent    int    `toml:"max_concurrent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/media-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Cookies != "" {
		c.Resolver.CookiesFile = cli.Cookies
	}
	if cli.StaticDir != "" {
		c.Server.StaticDir = cli.StaticDir
	}
}

func (c *Config) validate() error {
	// Mirror instances: at least one, each an absolute http(s) base URL.
	if len(c.Mirror.Instances) == 0 {
		return fmt.Errorf("mirror.instances must list at least one base URL")
	}
	for i, raw := range c.Mirror.Instances {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("mirror.instances[%d] is not a valid URL: %w", i, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("mirror.instances[%d] must use http or https; got %q", i, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("mirror.instances[%d] has no host; got %q", i, raw)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("mirror.instances[%d] must not carry a query or fragment; got %q", i, raw)
		}
	}

	for i, d := range c.Relay.AllowedDomains {
		if strings.TrimSpace(d) == "" || strings.ContainsAny(d, "/:@ ") {
			return fmt.Errorf("relay.allowed_domains[%d] must be a bare domain; got %q", i, d)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Manifest.MaxBytes < 0 {
		return fmt.Errorf("manifest.max_bytes must be non-negative; got %d", c.Manifest.MaxBytes)
	}
	if c.Mirror.InstanceTimeoutSeconds < 0 {
		return fmt.Errorf("mirror.instance_timeout_seconds must be non-negative; got %d", c.Mirror.InstanceTimeoutSeconds)
	}
	if c.Mirror.WarmupMaxSeconds < 0 {
		return fmt.Errorf("mirror.warmup_max_seconds must be non-negative; got %d", c.Mirror.WarmupMaxSeconds)
	}
	if c.Resolver.TimeoutSeconds < 0 {
		return fmt.Errorf("resolver.timeout_seconds must be non-negative; got %d", c.Resolver.TimeoutSeconds)
	}
	if c.Resolver.MaxConcurrent < 0 {
		return fmt.Errorf("resolver.max_concurrent must be non-negative; got %d", c.Resolver.MaxConcurrent)
	}
	if c.Resolver.SleepRequests < 0 {
		return fmt.Errorf("resolver.sleep_requests must be non-negative; got %d", c.Resolver.SleepRequests)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPrefixes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB, every route is GET
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if len(c.Relay.AllowedDomains) == 0 {
		c.Relay.AllowedDomains = []string{"googlevideo.com", "youtube.com", "ytimg.com"}
	}
	if c.Relay.UserAgent == "" {
		c.Relay.UserAgent = "Mozilla/5.0"
	}
	if c.Relay.DefaultContentType == "" {
		c.Relay.DefaultContentType = "video/mp4"
	}
	if c.Manifest.MaxBytes == 0 {
		c.Manifest.MaxBytes = 8 * 1024 * 1024
	}
	if c.Mirror.InstanceTimeoutSeconds == 0 {
		c.Mirror.InstanceTimeoutSeconds = 8
	}
	if c.Mirror.UserAgent == "" {
		c.Mirror.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if c.Mirror.Region == "" {
		c.Mirror.Region = "JP"
	}
	if c.Resolver.Binary == "" {
		c.Resolver.Binary = "yt-dlp"
	}
	if c.Resolver.CookiesFile == "" {
		c.Resolver.CookiesFile = "youtube-cookies.txt"
	}
	if c.Resolver.Format == "" {
		c.Resolver.Format = "bestvideo[ext=mp4]+bestaudio[ext=m4a]"
	}
	if c.Resolver.UserAgent == "" {
		c.Resolver.UserAgent = c.Relay.UserAgent
	}
	if c.Resolver.SleepRequests == 0 {
		c.Resolver.SleepRequests = 1
	}
	if c.Resolver.WatchURLPrefix == "" {
		c.Resolver.WatchURLPrefix = "https://youtu.be/"
	}
	if c.Resolver.TimeoutSeconds == 0 {
		c.Resolver.TimeoutSeconds = 60
	}
	if c.Resolver.MaxConcurrent == 0 {
		c.Resolver.MaxConcurrent = 4
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnCookies logs a warning when the resolver cookie jar is missing or world-readable.
// The resolver still runs without it; challenged lookups then fail with an auth error.
func (c *Config) WarnCookies(logger *slog.Logger) {
	info, err := os.Stat(c.Resolver.CookiesFile)
	if err != nil {
		logger.Warn("resolver cookie file not found; authenticated lookups will fail",
			"path", c.Resolver.CookiesFile,
		)
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("resolver cookie file is readable by group/others; consider chmod 600",
			"path", c.Resolver.CookiesFile,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
