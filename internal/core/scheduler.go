package core

// scheduler.go runs each Group's fetch+parse cycle at its update times.
//
// Every group gets one cron entry per "HH:00" update time. A run moves
// through Idle -> Fetching -> Parsing -> Committed | FailedRetained. Runs are
// single-flighted per group: a trigger that arrives while the group is
// Fetching or Parsing is dropped and logged, never queued. Different groups
// run in parallel, bounded by a shared RunLimiter.
//
// A successful parse replaces the group's snapshot atomically. A failed
// fetch or parse keeps the previous snapshot and marks it stale. Deleting a
// group cancels its in-flight run; the result is discarded without touching
// the SnapshotCache.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/feedmap/internal/logging"
	"github.com/JonMunkholm/feedmap/internal/metrics"
)

// FeedFetcher downloads a feed body.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Location   *time.Location // Time zone for update times (default: time.Local)
	RunOnStart bool           // Trigger every scheduled group once when started
}

// RunResult describes one finished run.
type RunResult struct {
	RunID    string
	Group    string
	State    RunState
	Snapshot *Snapshot // Current snapshot after the run (nil if cancelled)
	Duration time.Duration
}

// groupRun is the runner's bookkeeping for one group.
type groupRun struct {
	group   Group
	entries []cron.EntryID
	state   RunState
	cancel  context.CancelFunc // cancels the in-flight run, nil when idle
	runID   string

	lastRunAt    time.Time
	lastRunID    string
	lastDuration time.Duration
	lastErr      string
}

// Runner owns the schedules and run state of all groups.
type Runner struct {
	store   ConfigStore
	fetcher FeedFetcher
	cache   *SnapshotCache
	limiter *RunLimiter
	cron    *cron.Cron
	cfg     RunnerConfig
	now     func() time.Time

	ctx    context.Context // parent of every run; cancelled by Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	groups  map[string]*groupRun
	stopped bool // set by Stop; claim refuses new runs afterwards
}

// NewRunner creates a Runner. Call Start to begin firing timers.
func NewRunner(store ConfigStore, fetcher FeedFetcher, cache *SnapshotCache, limiter *RunLimiter, cfg RunnerConfig) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if limiter == nil {
		limiter = NewRunLimiter(DefaultMaxConcurrentRuns, DefaultRunMaxWait)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:   store,
		fetcher: fetcher,
		cache:   cache,
		limiter: limiter,
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		cfg:     cfg,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		groups:  make(map[string]*groupRun),
	}
}

// Start begins firing scheduled triggers.
func (r *Runner) Start() {
	r.cron.Start()
	slog.Info("schedule runner started",
		"groups", r.groupCount(),
		"timezone", r.cfg.Location.String(),
		"max_concurrent", r.limiter.Status().MaxConcurrent,
	)

	if r.cfg.RunOnStart {
		for _, name := range r.GroupNames() {
			if err := r.Trigger(name); err != nil {
				slog.Warn("startup trigger skipped", "group", name, "error", err)
			}
		}
	}
}

// Stop halts the timers, cancels in-flight runs, and waits for them to
// exit or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	// Every claim that got in before this holds a wg slot, so wg.Wait
	// below never races a late wg.Add
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	cronDone := r.cron.Stop()
	r.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("schedule runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule runner stop: %w", ctx.Err())
	}
}

// Schedule registers (or re-registers) the group's update times.
func (r *Runner) Schedule(g Group) error {
	hours := make([]int, 0, len(g.UpdateTimes))
	for _, t := range g.UpdateTimes {
		h, err := ParseHourMark(t)
		if err != nil {
			return err
		}
		hours = append(hours, h)
	}
	slices.Sort(hours)
	hours = slices.Compact(hours)

	r.mu.Lock()
	defer r.mu.Unlock()

	gr, ok := r.groups[g.Name]
	if !ok {
		gr = &groupRun{state: StateIdle}
		r.groups[g.Name] = gr
	}
	for _, id := range gr.entries {
		r.cron.Remove(id)
	}
	gr.entries = gr.entries[:0]
	gr.group = g

	name := g.Name
	for _, h := range hours {
		id, err := r.cron.AddFunc(fmt.Sprintf("0 %d * * *", h), func() {
			if err := r.Trigger(name); err != nil && !errors.Is(err, ErrRunInFlight) && !errors.Is(err, ErrRunnerStopped) {
				slog.Warn("scheduled trigger failed", "group", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s at %02d:00: %w", name, h, err)
		}
		gr.entries = append(gr.entries, id)
	}

	slog.Debug("group scheduled", "group", name, "update_times", g.UpdateTimes)
	return nil
}

// Unschedule removes the group's timers, cancels an in-flight run, and
// drops its snapshot.
func (r *Runner) Unschedule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gr, ok := r.groups[name]
	if !ok {
		return
	}
	for _, id := range gr.entries {
		r.cron.Remove(id)
	}
	if gr.cancel != nil {
		gr.cancel()
		slog.Info("in-flight run cancelled", "group", name, "run_id", gr.runID)
	}
	delete(r.groups, name)
	r.cache.Remove(name)
}

// Trigger starts a run in the background. It returns ErrRunInFlight if the
// group is already fetching or parsing; that trigger is dropped.
func (r *Runner) Trigger(name string) error {
	claim, err := r.claim(r.ctx, name)
	if err != nil {
		return err
	}

	go func() {
		defer r.wg.Done()
		_, _ = r.execute(claim)
	}()
	return nil
}

// Run performs a run synchronously. The returned error is the run's
// failure cause; RunResult is still populated for failed runs.
func (r *Runner) Run(ctx context.Context, name string) (RunResult, error) {
	// Stop must still cancel runs started from a request context
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-r.ctx.Done():
			stop()
		case <-runCtx.Done():
		}
	}()

	claim, err := r.claim(runCtx, name)
	if err != nil {
		return RunResult{Group: name}, err
	}

	defer r.wg.Done()
	return r.execute(claim)
}

// runClaim is a run that won the single-flight guard.
type runClaim struct {
	gr     *groupRun
	group  Group
	runID  string
	ctx    context.Context
	done   context.CancelFunc
	logger *slog.Logger
}

// claim takes the group's single-flight slot and registers the run with
// r.wg. The caller must call r.wg.Done when the run ends.
func (r *Runner) claim(parent context.Context, name string) (*runClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrRunnerStopped
	}
	gr, ok := r.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	if gr.state.InFlight() {
		slog.Warn("trigger dropped, run already in flight",
			"group", name,
			"run_id", gr.runID,
			"state", gr.state,
		)
		metrics.RecordDroppedTrigger(name)
		return nil, ErrRunInFlight
	}

	ctx, cancel := context.WithCancel(parent)
	gr.state = StateFetching
	gr.cancel = cancel
	gr.runID = uuid.NewString()
	r.wg.Add(1)

	return &runClaim{
		gr:     gr,
		group:  gr.group,
		runID:  gr.runID,
		ctx:    ctx,
		done:   cancel,
		logger: logging.WithFields(parent, "group", name, "run_id", gr.runID),
	}, nil
}

// execute fetches, parses, and commits a claimed run.
func (r *Runner) execute(c *runClaim) (RunResult, error) {
	defer c.done()

	start := r.now()
	logger := c.logger
	logger.Info("run started", "url", redactURL(c.group.SourceURL))

	result := RunResult{RunID: c.runID, Group: c.group.Name}

	if err := r.limiter.Acquire(c.ctx); err != nil {
		return r.fail(c, result, start, err, false)
	}
	defer r.limiter.Release()

	raw, err := r.fetcher.Fetch(c.ctx, c.group.SourceURL)
	if err != nil {
		return r.fail(c, result, start, err, true)
	}

	r.setState(c, StateParsing)
	parsed, err := Parse(raw)
	if err != nil {
		return r.fail(c, result, start, err, true)
	}

	// Commit under the lock so a concurrent Unschedule either happens
	// entirely before (and we discard) or entirely after (and it removes
	// what we committed).
	r.mu.Lock()
	if c.ctx.Err() != nil || r.groups[c.group.Name] != c.gr {
		r.mu.Unlock()
		return r.cancelled(c, result, start)
	}
	prev := r.cache.Current(c.group.Name)
	snap := r.cache.Commit(c.group.Name, c.runID, parsed, start)
	schemaChanged := !c.gr.group.SchemaKnown() || !slices.Equal(c.gr.group.Fields, snap.Fields)
	c.gr.group.Fields = snap.Fields
	r.finishLocked(c, StateCommitted, start, "")
	r.mu.Unlock()

	duration := r.now().Sub(start)
	metrics.RecordRun(c.group.Name, "committed", duration.Seconds())
	metrics.RecordSkippedRows(c.group.Name, parsed.SkippedRows)

	if schemaChanged {
		if err := r.store.SetGroupFields(context.WithoutCancel(c.ctx), c.group.Name, snap.Fields); err != nil {
			logger.Warn("failed to persist discovered fields", "error", err)
		}
	}

	attrs := []any{
		"records", len(snap.Records),
		"fields", len(snap.Fields),
		"skipped_rows", snap.SkippedRows,
		"schema_version", snap.SchemaVersion,
		"duration_ms", duration.Milliseconds(),
	}
	if prev != nil && prev.SchemaVersion != snap.SchemaVersion && prev.Status != StatusError {
		attrs = append(attrs, "previous_schema_version", prev.SchemaVersion)
		logger.Info("feed schema changed", attrs...)
	} else {
		logger.Info("run committed", attrs...)
	}

	result.State = StateCommitted
	result.Snapshot = snap
	result.Duration = duration
	return result, nil
}

// fail records a failed run. When markStale is set the group's snapshot
// is marked stale (or error if it never succeeded).
func (r *Runner) fail(c *runClaim, result RunResult, start time.Time, cause error, markStale bool) (RunResult, error) {
	r.mu.Lock()
	if c.ctx.Err() != nil || r.groups[c.group.Name] != c.gr {
		r.mu.Unlock()
		return r.cancelled(c, result, start)
	}
	var snap *Snapshot
	if markStale {
		snap = r.cache.MarkFailed(c.group.Name, c.runID, cause)
	} else {
		snap = r.cache.Current(c.group.Name)
	}
	r.finishLocked(c, StateFailedRetained, start, cause.Error())
	r.mu.Unlock()

	duration := r.now().Sub(start)
	metrics.RecordRun(c.group.Name, "failed", duration.Seconds())
	c.logger.Error("run failed, previous snapshot retained",
		"snapshot_status", snapshotStatus(snap),
		"duration_ms", duration.Milliseconds(),
		"error", cause,
	)

	result.State = StateFailedRetained
	result.Snapshot = snap
	result.Duration = duration
	return result, cause
}

// cancelled discards a run whose context ended or whose group was removed.
func (r *Runner) cancelled(c *runClaim, result RunResult, start time.Time) (RunResult, error) {
	cause := c.ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}

	r.mu.Lock()
	if r.groups[c.group.Name] == c.gr {
		r.finishLocked(c, StateCancelled, start, cause.Error())
	}
	r.mu.Unlock()

	duration := r.now().Sub(start)
	metrics.RecordRun(c.group.Name, "cancelled", duration.Seconds())
	c.logger.Info("run cancelled, results discarded", "reason", cause)

	result.State = StateCancelled
	result.Duration = duration
	return result, cause
}

func snapshotStatus(s *Snapshot) SnapshotStatus {
	if s == nil {
		return ""
	}
	return s.Status
}

func (r *Runner) setState(c *runClaim, s RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[c.group.Name] == c.gr {
		c.gr.state = s
	}
}

// finishLocked releases the single-flight slot. r.mu must be held.
func (r *Runner) finishLocked(c *runClaim, s RunState, start time.Time, errMsg string) {
	c.gr.state = s
	c.gr.cancel = nil
	c.gr.lastRunAt = start
	c.gr.lastRunID = c.runID
	c.gr.lastDuration = r.now().Sub(start)
	c.gr.lastErr = errMsg
}

// Status returns the observable state of a scheduled group.
func (r *Runner) Status(name string) (GroupStatus, error) {
	r.mu.Lock()
	gr, ok := r.groups[name]
	if !ok {
		r.mu.Unlock()
		return GroupStatus{}, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	st := GroupStatus{
		Group:        name,
		State:        gr.state,
		LastRunID:    gr.lastRunID,
		LastDuration: gr.lastDuration,
		LastError:    gr.lastErr,
		Fields:       []string{},
	}
	if !gr.lastRunAt.IsZero() {
		t := gr.lastRunAt
		st.LastRunAt = &t
	}
	for _, id := range gr.entries {
		if e := r.cron.Entry(id); e.Valid() && !e.Next.IsZero() {
			st.NextRuns = append(st.NextRuns, e.Next)
		}
	}
	r.mu.Unlock()

	sort.Slice(st.NextRuns, func(i, j int) bool { return st.NextRuns[i].Before(st.NextRuns[j]) })

	if snap := r.cache.Current(name); snap != nil {
		st.SnapshotStatus = snap.Status
		st.SchemaVersion = snap.SchemaVersion
		st.RecordCount = len(snap.Records)
		st.SkippedRows = snap.SkippedRows
		if snap.Fields != nil {
			st.Fields = snap.Fields
		}
		if !snap.FetchedAt.IsZero() {
			t := snap.FetchedAt
			st.FetchedAt = &t
		}
	}
	return st, nil
}

// GroupNames returns the scheduled group names in sorted order.
func (r *Runner) GroupNames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

func (r *Runner) groupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// Limiter returns the shared worker pool.
func (r *Runner) Limiter() *RunLimiter {
	return r.limiter
}
