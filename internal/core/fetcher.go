package core

// fetcher.go downloads raw feed bytes over HTTP(S).
//
// Each attempt is bounded by the fetch timeout. Transport errors, timeouts,
// and non-2xx responses are retried with exponential backoff (base 1s,
// factor 2, capped at 10s, no jitter) before a FetchError is returned.
// Cancellation of the caller's context stops immediately and returns the
// context error so the runner can tell it apart from a feed failure.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JonMunkholm/feedmap/internal/metrics"
)

// Fetch defaults.
const (
	DefaultFetchTimeout    = 30 * time.Second
	DefaultFetchRetries    = 3
	DefaultBackoffBase     = time.Second
	DefaultBackoffMax      = 10 * time.Second
	DefaultMaxFeedSize     = 100 * 1024 * 1024
	DefaultFetchUserAgent  = "feedmap/1.0"
	backoffMultiplier      = 2.0
	maxErrorBodyDrainBytes = 4096
)

// errFeedTooLarge is not retried: the next attempt would return the same body.
var errFeedTooLarge = errors.New("feed too large")

// FetcherConfig configures a Fetcher. Zero values select the defaults.
type FetcherConfig struct {
	Timeout     time.Duration // Per attempt
	MaxRetries  int           // Retries after the first attempt; negative disables retries
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxBodySize int64
	UserAgent   string
}

// Fetcher retrieves feed bodies. It holds no per-request state and is safe
// for concurrent use by different groups.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

// NewFetcher creates a Fetcher. A nil client uses a new http.Client.
func NewFetcher(client *http.Client, cfg FetcherConfig) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultFetchRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxFeedSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultFetchUserAgent
	}
	return &Fetcher{client: client, cfg: cfg}
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

// Fetch performs a GET of rawURL and returns the response body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	logURL := redactURL(rawURL)

	var (
		body       []byte
		attempts   int
		lastStatus int
	)

	op := func() error {
		attempts++
		data, err := f.attempt(ctx, rawURL)
		if err == nil {
			metrics.RecordFetchAttempt("ok")
			body = data
			return nil
		}

		var se *statusError
		if errors.As(err, &se) {
			lastStatus = se.code
			metrics.RecordFetchAttempt("status")
		} else {
			metrics.RecordFetchAttempt("error")
		}

		if errors.Is(err, errFeedTooLarge) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("feed fetch attempt failed, retrying",
			"url", logURL,
			"attempt", attempts,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, f.retryPolicy(ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &FetchError{URL: logURL, StatusCode: lastStatus, Attempts: attempts, Cause: err}
	}

	metrics.RecordFetchBytes(len(body))
	return body, nil
}

// retryPolicy returns the wait schedule between attempts: BackoffBase
// doubling up to BackoffMax, at most MaxRetries waits, ending with ctx.
func (f *Fetcher) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.BackoffBase
	policy.Multiplier = backoffMultiplier
	policy.MaxInterval = f.cfg.BackoffMax
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.cfg.MaxRetries)), ctx)
}

// attempt performs a single bounded GET.
func (f *Fetcher) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, maxErrorBodyDrainBytes)
		return nil, &statusError{code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", errFeedTooLarge, f.cfg.MaxBodySize)
	}
	return data, nil
}

// redactURL drops query strings and user info, which may carry credentials.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}
