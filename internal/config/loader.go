package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := decodeEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// decodeEnv fills every field tagged `env` (falling back to `envAlt`, then
// `default`) and reports all unparsable values together.
func decodeEnv(v reflect.Value) error {
	var errs []error

	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		fv := v.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := decodeEnv(fv); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" || !fv.CanSet() {
			continue
		}

		raw := envValue(name, field.Tag.Get("envAlt"), field.Tag.Get("default"))
		if raw == "" {
			continue
		}

		parsed, err := parseEnvValue(field.Type, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", name, raw, err))
			continue
		}
		fv.Set(parsed)
	}

	return errors.Join(errs...)
}

// envValue returns the first non-empty of the primary variable, the
// alternate variable and the default.
func envValue(name, alt, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v
		}
	}
	return def
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseEnvValue converts raw into a value of type t. Supported: string,
// bool, int, int64, time.Duration and comma-separated []string.
func parseEnvValue(t reflect.Type, raw string) (reflect.Value, error) {
	if t == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return reflect.Value{}, errors.New("not a duration")
		}
		return reflect.ValueOf(d), nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(t), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, errors.New("not a boolean")
		}
		return reflect.ValueOf(b), nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, errors.New("not an integer")
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			var items []string
			for _, p := range strings.Split(raw, ",") {
				if p = strings.TrimSpace(p); p != "" {
					items = append(items, p)
				}
			}
			return reflect.ValueOf(items), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unsupported config field type %s", t)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation (only when PostgreSQL is selected)
	if c.Database.URL != "" {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Fetch validation
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "FETCH_TIMEOUT must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, "FETCH_MAX_RETRIES must be non-negative")
	}
	if c.Fetch.BackoffBase <= 0 {
		errs = append(errs, "FETCH_BACKOFF_BASE must be positive")
	}
	if c.Fetch.BackoffMax < c.Fetch.BackoffBase {
		errs = append(errs, fmt.Sprintf("FETCH_BACKOFF_MAX (%s) must be >= FETCH_BACKOFF_BASE (%s)",
			c.Fetch.BackoffMax, c.Fetch.BackoffBase))
	}
	if c.Fetch.MaxBodySize <= 0 {
		errs = append(errs, "FETCH_MAX_BODY_SIZE must be positive")
	}

	// Schedule validation
	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULE_TIMEZONE (%q) is not a valid time zone: %v", c.Schedule.Timezone, err))
	}
	if c.Schedule.MaxConcurrent <= 0 {
		errs = append(errs, "SCHEDULE_MAX_CONCURRENT must be positive")
	}
	if c.Schedule.MaxWaitTime <= 0 {
		errs = append(errs, "SCHEDULE_MAX_WAIT_TIME must be positive")
	}

	// Export validation
	if c.Export.CacheSize <= 0 {
		errs = append(errs, "EXPORT_CACHE_SIZE must be positive")
	}
	if c.Export.PreviewLimit <= 0 {
		errs = append(errs, "EXPORT_PREVIEW_LIMIT must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	store := "memory"
	if c.Database.URL != "" {
		store = "postgres [MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {Store: %s, MaxConns: %d, MinConns: %d}, ",
		store, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Fetch: {Timeout: %s, MaxRetries: %d, MaxBodySize: %d}, ",
		c.Fetch.Timeout, c.Fetch.MaxRetries, c.Fetch.MaxBodySize))
	b.WriteString(fmt.Sprintf("Schedule: {Timezone: %q, MaxConcurrent: %d, RunOnStart: %v}, ",
		c.Schedule.Timezone, c.Schedule.MaxConcurrent, c.Schedule.RunOnStart))
	b.WriteString(fmt.Sprintf("Export: {CacheSize: %d, PreviewLimit: %d}, ",
		c.Export.CacheSize, c.Export.PreviewLimit))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d, Burst: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute, c.Rate.Burst))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
