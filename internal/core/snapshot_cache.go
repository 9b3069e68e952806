package core

// snapshot_cache.go holds the current Snapshot of every Group.
//
// Each group owns one atomic pointer. Writers (the group's own run) publish
// a fully built Snapshot with a single pointer store, so readers always see
// either the previous or the new snapshot, never a partial one. The map of
// slots is guarded separately and only changes when groups come and go.

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SnapshotCache stores one current Snapshot per Group.
type SnapshotCache struct {
	mu    sync.RWMutex
	slots map[string]*atomic.Pointer[Snapshot]
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{slots: make(map[string]*atomic.Pointer[Snapshot])}
}

func (c *SnapshotCache) slot(group string) *atomic.Pointer[Snapshot] {
	c.mu.RLock()
	p, ok := c.slots[group]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.slots[group]; !ok {
		p = new(atomic.Pointer[Snapshot])
		c.slots[group] = p
	}
	return p
}

// Current returns the group's current snapshot, or nil if no run has
// finished yet.
func (c *SnapshotCache) Current(group string) *Snapshot {
	c.mu.RLock()
	p, ok := c.slots[group]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Load()
}

// Commit publishes a successful parse and returns the new snapshot.
// The schema version increases only when the ordered field list differs
// from the previous snapshot's.
func (c *SnapshotCache) Commit(group, runID string, res ParseResult, fetchedAt time.Time) *Snapshot {
	p := c.slot(group)
	prev := p.Load()

	version := int64(1)
	if prev != nil {
		version = prev.SchemaVersion
		if prev.Status == StatusError || !slices.Equal(prev.Fields, res.Fields) {
			version++
		}
	}

	next := &Snapshot{
		Group:         group,
		SchemaVersion: version,
		Fields:        slices.Clone(res.Fields),
		Records:       res.Records,
		SkippedRows:   res.SkippedRows,
		FetchedAt:     fetchedAt,
		Status:        StatusOK,
		RunID:         runID,
	}
	p.Store(next)
	return next
}

// MarkFailed records a failed run. The previous snapshot's fields and
// records are carried over untouched and its status becomes stale; if no
// run has ever succeeded, an error snapshot with no data is stored.
func (c *SnapshotCache) MarkFailed(group, runID string, cause error) *Snapshot {
	p := c.slot(group)
	prev := p.Load()

	var next Snapshot
	if prev == nil || prev.Status == StatusError {
		next = Snapshot{Group: group, Status: StatusError}
	} else {
		next = *prev
		next.Status = StatusStale
	}
	next.Cause = cause.Error()
	next.RunID = runID

	p.Store(&next)
	return &next
}

// Remove drops the group's snapshot.
func (c *SnapshotCache) Remove(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, group)
}

// Len returns the number of groups holding a snapshot.
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}
