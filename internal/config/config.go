// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Fetch    FetchConfig
	Schedule ScheduleConfig
	Export   ExportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, refreshes can be slow)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty selects the in-memory store.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// FetchConfig holds feed download settings.
type FetchConfig struct {
	// Timeout bounds a single HTTP attempt (default: 30s)
	Timeout time.Duration `env:"FETCH_TIMEOUT" default:"30s"`

	// MaxRetries is the number of retries after the first attempt; 0 disables retries (default: 3)
	MaxRetries int `env:"FETCH_MAX_RETRIES" default:"3"`

	// BackoffBase is the delay before the first retry (default: 1s)
	BackoffBase time.Duration `env:"FETCH_BACKOFF_BASE" default:"1s"`

	// BackoffMax caps the delay between retries (default: 10s)
	BackoffMax time.Duration `env:"FETCH_BACKOFF_MAX" default:"10s"`

	// MaxBodySize is the largest accepted feed in bytes (default: 100MB)
	MaxBodySize int64 `env:"FETCH_MAX_BODY_SIZE" default:"104857600"`

	// UserAgent is sent with every feed request
	UserAgent string `env:"FETCH_USER_AGENT" default:"feedmap/1.0"`
}

// ScheduleConfig holds Schedule Runner settings.
type ScheduleConfig struct {
	// Timezone is the IANA zone update times are interpreted in (default: Local)
	Timezone string `env:"SCHEDULE_TIMEZONE" default:"Local"`

	// MaxConcurrent is the number of groups that may run at once (default: 4)
	MaxConcurrent int `env:"SCHEDULE_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a run waits for a worker slot (default: 5m)
	MaxWaitTime time.Duration `env:"SCHEDULE_MAX_WAIT_TIME" default:"5m"`

	// RunOnStart triggers every group once at startup (default: false)
	RunOnStart bool `env:"SCHEDULE_RUN_ON_START" default:"false"`
}

// ExportConfig holds channel export settings.
type ExportConfig struct {
	// CacheSize is the number of rendered artifacts kept in memory (default: 128)
	CacheSize int `env:"EXPORT_CACHE_SIZE" default:"128"`

	// PreviewLimit is the maximum number of rows in a preview (default: 100)
	PreviewLimit int `env:"EXPORT_PREVIEW_LIMIT" default:"100"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the number of requests allowed above the sustained rate (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Location resolves Timezone.
func (c *ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
