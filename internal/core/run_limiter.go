package core

// run_limiter.go bounds how many group runs fetch and parse at once.
//
// All groups share one pool of worker slots. A run that cannot get a slot
// within maxWait gives up with ErrPoolExhausted; the group keeps its
// previous snapshot and the next trigger tries again. WaitForDrain lets
// shutdown wait for in-flight runs.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JonMunkholm/feedmap/internal/metrics"
)

// ErrPoolExhausted is returned when no worker slot frees up within the wait time.
var ErrPoolExhausted = errors.New("too many concurrent runs, worker pool exhausted")

// DefaultMaxConcurrentRuns is the default worker pool size.
const DefaultMaxConcurrentRuns = 4

// DefaultRunMaxWait is how long a run waits for a worker slot.
const DefaultRunMaxWait = 5 * time.Minute

// RunLimiter is a counting semaphore shared by all group runs.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	active int
}

// NewRunLimiter creates a pool of maxConcurrent worker slots.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultRunMaxWait
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a worker slot. The caller must Release it.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.track(1)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPoolExhausted
	}
}

// Release returns a slot taken by Acquire.
func (l *RunLimiter) Release() {
	l.track(-1)
	<-l.slots
}

func (l *RunLimiter) track(delta int) {
	l.mu.Lock()
	l.active += delta
	active := l.active
	l.mu.Unlock()
	metrics.ActiveRuns.Set(float64(active))
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *RunLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunLimiterStatus is a point-in-time view of the pool.
type RunLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the pool state for monitoring.
func (l *RunLimiter) Status() RunLimiterStatus {
	return RunLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
	}
}
