package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastFetcher retries quickly so tests don't sleep for seconds.
func fastFetcher(retries int) *Fetcher {
	return NewFetcher(nil, FetcherConfig{
		Timeout:     time.Second,
		MaxRetries:  retries,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})
}

// waits drains a backoff policy, stopping at backoff.Stop.
func waits(b backoff.BackOff) []time.Duration {
	var out []time.Duration
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		out = append(out, d)
	}
	return out
}

func TestFetcher_RetryPolicy(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		cfg  FetcherConfig
		ctx  context.Context
		want []time.Duration
	}{
		{
			name: "defaults",
			want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		{
			name: "capped at max",
			cfg:  FetcherConfig{MaxRetries: 6},
			want: []time.Duration{
				time.Second, 2 * time.Second, 4 * time.Second,
				8 * time.Second, 10 * time.Second, 10 * time.Second,
			},
		},
		{
			name: "custom base and cap",
			cfg:  FetcherConfig{MaxRetries: 4, BackoffBase: 100 * time.Millisecond, BackoffMax: 300 * time.Millisecond},
			want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond},
		},
		{
			name: "retries disabled",
			cfg:  FetcherConfig{MaxRetries: -1},
		},
		{
			name: "context done",
			ctx:  cancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			got := waits(NewFetcher(nil, tt.cfg).retryPolicy(ctx))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetch_Success(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("vin,make\n1A,FORD\n"))
	}))
	defer srv.Close()

	body, err := fastFetcher(0).Fetch(context.Background(), srv.URL+"/feed.csv")
	require.NoError(t, err)
	assert.Equal(t, "vin,make\n1A,FORD\n", string(body))
	assert.Equal(t, DefaultFetchUserAgent, ua.Load())
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	}))
	defer srv.Close()

	body, err := fastFetcher(3).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fastFetcher(2).Fetch(context.Background(), srv.URL)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusNotFound, ferr.StatusCode)
	assert.Equal(t, 3, ferr.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetch_NoRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fastFetcher(-1).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := fastFetcher(1).Fetch(context.Background(), url)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Zero(t, ferr.StatusCode)
	assert.Equal(t, 2, ferr.Attempts)
}

func TestFetch_TooLarge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := NewFetcher(nil, FetcherConfig{MaxBodySize: 16, MaxRetries: 3, BackoffBase: time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFeedTooLarge)
	assert.Equal(t, int32(1), calls.Load(), "oversized feeds are not retried")
}

func TestFetch_ExactLimitAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 16)))
	}))
	defer srv.Close()

	f := NewFetcher(nil, FetcherConfig{MaxBodySize: 16})
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, body, 16)
}

func TestFetch_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := fastFetcher(5).Fetch(ctx, srv.URL)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	var ferr *FetchError
	assert.False(t, errors.As(err, &ferr), "cancellation is not a feed failure")
}

func TestFetch_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewFetcher(nil, FetcherConfig{Timeout: 20 * time.Millisecond, MaxRetries: -1})
	_, err := f.Fetch(context.Background(), srv.URL)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_RedactsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	secretURL := strings.Replace(srv.URL, "http://", "http://user:hunter2@", 1) + "/feed.csv?token=abc123"
	_, err := fastFetcher(-1).Fetch(context.Background(), secretURL)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.NotContains(t, err.Error(), "abc123")
	assert.Contains(t, err.Error(), "/feed.csv")
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://feeds.example.com/a.csv", "https://feeds.example.com/a.csv"},
		{"https://u:p@feeds.example.com/a.csv", "https://feeds.example.com/a.csv"},
		{"https://feeds.example.com/a.csv?key=s3cret", "https://feeds.example.com/a.csv?redacted"},
		{"://bad", "<invalid url>"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, redactURL(tt.in), tt.in)
	}
}
