// Package config loads the proxy process settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the sw-proxy process settings. Resource lists live in the
// manifest (pkg/manifest), not here.
type Config struct {
	// Addr is the listen address of the proxy
	Addr string `env:"SW_ADDR" envDefault:":8080"`

	// Origin is the site the proxy serves (scheme and host)
	Origin string `env:"SW_ORIGIN" envDefault:"http://localhost:3000"`

	// RedisAddr selects the redis backend; empty keeps partitions in memory
	RedisAddr string `env:"SW_REDIS_ADDR"`

	// RedisPrefix namespaces the partition keys in redis
	RedisPrefix string `env:"SW_REDIS_PREFIX" envDefault:"sw"`

	// ManifestPath is the YAML resource manifest; missing means defaults
	ManifestPath string `env:"SW_MANIFEST_PATH" envDefault:"sw-manifest.yml"`

	LogLevel  string `env:"SW_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"SW_LOG_PRETTY" envDefault:"false"`

	// NetworkTimeout bounds network-first before it falls back to the cache
	NetworkTimeout time.Duration `env:"SW_NETWORK_TIMEOUT" envDefault:"3s"`

	// FetchTimeout bounds any single network fetch
	FetchTimeout time.Duration `env:"SW_FETCH_TIMEOUT" envDefault:"30s"`

	// SweepInterval is the period of the host wake trigger (0 disables it)
	SweepInterval time.Duration `env:"SW_SWEEP_INTERVAL" envDefault:"24h"`

	// SweepMaxAge is the age past which DYNAMIC entries are evicted
	SweepMaxAge time.Duration `env:"SW_SWEEP_MAX_AGE" envDefault:"24h"`

	// InstallConcurrency bounds parallel pre-population fetches
	InstallConcurrency int `env:"SW_INSTALL_CONCURRENCY" envDefault:"8"`

	// SkipWaiting activates every newly installed worker at once
	SkipWaiting bool `env:"SW_SKIP_WAITING" envDefault:"true"`

	UserAgent string `env:"SW_USER_AGENT" envDefault:"klaus-sw/1.0"`

	// BackgroundTimeout bounds revalidations and control messages
	BackgroundTimeout time.Duration `env:"SW_BACKGROUND_TIMEOUT" envDefault:"30s"`

	// CORSOrigins may call /_sw/* cross-origin; empty disables CORS
	CORSOrigins []string `env:"SW_CORS_ORIGINS" envSeparator:","`

	// RequestTimeout bounds one intercepted request (0 = none)
	RequestTimeout time.Duration `env:"SW_REQUEST_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `env:"SW_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the process configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if c.NetworkTimeout <= 0 {
		return fmt.Errorf("SW_NETWORK_TIMEOUT must be positive")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SW_SWEEP_INTERVAL must not be negative")
	}
	if c.SweepMaxAge <= 0 {
		return fmt.Errorf("SW_SWEEP_MAX_AGE must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("SW_REQUEST_TIMEOUT must not be negative")
	}
	if c.InstallConcurrency <= 0 {
		return fmt.Errorf("SW_INSTALL_CONCURRENCY must be positive")
	}
	return nil
}

// OriginURL parses Origin. It must be an absolute http(s) URL.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid SW_ORIGIN %q: %w", c.Origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid SW_ORIGIN %q: must be an absolute http(s) URL", c.Origin)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
