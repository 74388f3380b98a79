// Package config handles CLI/env and TOML configuration loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/maps-proxy/config.toml",
	"configs/config.toml",
}

// DefaultURLTemplate is the upstream script URL; %s receives the API key.
const DefaultURLTemplate = "https://maps.googleapis.com/maps/api/js?key=%s&signed_in=true&callback=initMap"

// Reserved routes that the metrics endpoint must not shadow.
var reservedRoutes = []string{"/api/v1/maps", "/healthz", "/proxy/status"}

// Worker pool defaults.
const (
	DefaultMaxThreads    = 200
	DefaultMinThreads    = 8
	DefaultIdleTimeoutMS = 60000
)

// minThreadsUnset marks a min_threads nobody configured, so it can follow
// a max_threads set below the default.
const minThreadsUnset = math.MinInt

// ErrMissingAPIKey is returned when no API key is configured anywhere.
var ErrMissingAPIKey = errors.New("maps.api_key is required (set GOOGLE_API_KEY or --api-key)")

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MaxThreads  *int   `kong:"help='Worker pool maximum size (overrides config).',env='THREADPOOL_MAX_THREADS'"`
	MinThreads  *int   `kong:"help='Worker pool minimum size (overrides config).',env='THREADPOOL_MIN_THREADS'"`
	IdleTimeout *int   `kong:"help='Idle worker timeout in milliseconds, 0 keeps surplus workers (overrides config).',env='THREADPOOL_IDLE_TIMEOUT'"`
	APIKey      string `kong:"help='Maps API key (overrides config).',env='GOOGLE_API_KEY'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Secret holds a credential. It never renders its value through fmt, slog or JSON.
type Secret string

const redacted = "[REDACTED]"

// String implements fmt.Stringer.
func (s Secret) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v is covered too.
func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// Reveal returns the raw secret. Only the upstream URL builder should call it.
func (s Secret) Reveal() string { return string(s) }

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Maps     MapsConfig     `toml:"maps"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (10430); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	Pool         PoolConfig      `toml:"pool"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// PoolConfig sizes the request worker pool. Unlike other integer settings,
// an explicit 0 is kept: min_threads = 0 allows shrinking to no workers
// and idle_timeout_ms = 0 disables retirement.
type PoolConfig struct {
	MaxThreads    int `toml:"max_threads"`
	MinThreads    int `toml:"min_threads"`
	IdleTimeoutMS int `toml:"idle_timeout_ms"`
}

// IdleTimeout returns the idle worker timeout as a duration.
func (p PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutMS) * time.Millisecond
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// MapsConfig holds the provider credential and URL template.
type MapsConfig struct {
	APIKey      Secret `toml:"api_key"`
	URLTemplate string `toml:"url_template"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
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

// Load reads the optional TOML config file, applies CLI/env overrides,
// fills defaults and validates the result.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/maps-proxy/config.toml then configs/config.toml; finding neither is
// not an error.
func Load(cli *CLI) (*Config, error) {
	// Pool fields are seeded before decoding; keys absent from the file
	// keep these values.
	cfg := Config{Server: ServerConfig{Pool: PoolConfig{
		MaxThreads:    DefaultMaxThreads,
		MinThreads:    minThreadsUnset,
		IdleTimeoutMS: DefaultIdleTimeoutMS,
	}}}

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags. Pool flags
// override whenever they are present, zero included.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.MaxThreads != nil {
		c.Server.Pool.MaxThreads = *cli.MaxThreads
	}
	if cli.MinThreads != nil {
		c.Server.Pool.MinThreads = *cli.MinThreads
	}
	if cli.IdleTimeout != nil {
		c.Server.Pool.IdleTimeoutMS = *cli.IdleTimeout
	}
	if cli.APIKey != "" {
		c.Maps.APIKey = Secret(cli.APIKey)
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// setDefaults fills zero-valued fields with defaults.
// For integer fields outside the pool zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 10430
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024
	}
	if c.Server.Pool.MinThreads == minThreadsUnset {
		c.Server.Pool.MinThreads = max(0, min(DefaultMinThreads, c.Server.Pool.MaxThreads))
	}
	if c.Maps.URLTemplate == "" {
		c.Maps.URLTemplate = DefaultURLTemplate
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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

func (c *Config) validate() error {
	key := c.Maps.APIKey.Reveal()
	if strings.TrimSpace(key) == "" {
		return ErrMissingAPIKey
	}
	if key == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("maps.api_key contains placeholder value; set a real key")
	}

	if err := validateTemplate(c.Maps.URLTemplate); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	p := c.Server.Pool
	if p.MaxThreads < 1 {
		return fmt.Errorf("server.pool.max_threads must be positive; got %d", p.MaxThreads)
	}
	if p.MinThreads < 0 {
		return fmt.Errorf("server.pool.min_threads must be non-negative; got %d", p.MinThreads)
	}
	if p.MinThreads > p.MaxThreads {
		return fmt.Errorf("server.pool.min_threads (%d) must not exceed max_threads (%d)", p.MinThreads, p.MaxThreads)
	}
	if p.IdleTimeoutMS < 0 {
		return fmt.Errorf("server.pool.idle_timeout_ms must be non-negative; got %d", p.IdleTimeoutMS)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range reservedRoutes {
			if mp == reserved || strings.HasPrefix(mp, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

// validateTemplate checks that tmpl has exactly one %s verb and yields an
// absolute http(s) URL once filled in.
func validateTemplate(tmpl string) error {
	if n := strings.Count(tmpl, "%s"); n != 1 {
		return fmt.Errorf("maps.url_template must contain exactly one %%s; found %d", n)
	}
	if strings.Count(tmpl, "%") != 1 {
		return fmt.Errorf("maps.url_template must not contain other %% verbs")
	}
	u, err := url.Parse(strings.Replace(tmpl, "%s", "x", 1))
	if err != nil {
		return fmt.Errorf("maps.url_template is not a valid URL: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("maps.url_template must be an absolute http(s) URL; got %q", tmpl)
	}
	return nil
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
// The file may hold the API key.
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
