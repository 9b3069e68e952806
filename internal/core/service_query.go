package core

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// GetGroup returns a stored group.
func (s *Service) GetGroup(ctx context.Context, name string) (Group, error) {
	return s.store.GetGroup(ctx, name)
}

// ListGroups returns every stored group ordered by name.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.store.ListGroups(ctx)
}

// GetChannel returns a stored channel.
func (s *Service) GetChannel(ctx context.Context, name string) (Channel, error) {
	return s.store.GetChannel(ctx, name)
}

// ListChannels returns every stored channel ordered by name.
func (s *Service) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.store.ListChannels(ctx)
}

// GroupStatus returns the group's run state and snapshot summary.
func (s *Service) GroupStatus(ctx context.Context, name string) (GroupStatus, error) {
	if _, err := s.store.GetGroup(ctx, name); err != nil {
		return GroupStatus{}, err
	}
	return s.runner.Status(name)
}

// RefreshOutcome is the result of one group in a RefreshAll.
type RefreshOutcome struct {
	Group         string         `json:"group"`
	RunID         string         `json:"runId,omitempty"`
	State         RunState       `json:"state"`
	SchemaVersion int64          `json:"schemaVersion,omitempty"`
	RecordCount   int            `json:"recordCount"`
	SnapshotState SnapshotStatus `json:"snapshotStatus,omitempty"`
	DurationMs    int64          `json:"durationMs"`
	Error         string         `json:"error,omitempty"`
}

// RefreshAll runs every group concurrently and waits for all of them.
// A failing group never stops the others; failures are reported per group.
// Concurrency is bounded by the runner's worker pool.
func (s *Service) RefreshAll(ctx context.Context) ([]RefreshOutcome, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()

	outcomes := make([]RefreshOutcome, len(groups))
	var g errgroup.Group
	for i, grp := range groups {
		g.Go(func() error {
			res, err := s.runner.Run(runCtx, grp.Name)
			out := RefreshOutcome{
				Group:      grp.Name,
				RunID:      res.RunID,
				State:      res.State,
				DurationMs: res.Duration.Milliseconds(),
			}
			if res.Snapshot != nil {
				out.SchemaVersion = res.Snapshot.SchemaVersion
				out.RecordCount = len(res.Snapshot.Records)
				out.SnapshotState = res.Snapshot.Status
			}
			if err != nil {
				out.Error = err.Error()
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}

// ExportChannel renders the channel against its group's current snapshot.
// The snapshot is read once, so the whole artifact comes from a single
// committed run even if a new one commits meanwhile.
func (s *Service) ExportChannel(ctx context.Context, name string) (*Artifact, error) {
	ch, err := s.store.GetChannel(ctx, name)
	if err != nil {
		return nil, err
	}

	snap := s.cache.Current(ch.Group)
	artifact, err := s.exporter.Export(ctx, ch, snap)
	if err != nil {
		return nil, err
	}

	if len(artifact.Warnings) > 0 {
		slog.Warn("channel exported with warnings",
			"channel", ch.Name,
			"group", ch.Group,
			"warnings", len(artifact.Warnings),
			"snapshot_status", artifact.SnapshotState,
		)
	}
	return artifact, nil
}

// Preview is the first rows of a channel projection.
type Preview struct {
	Channel       string         `json:"channel"`
	Group         string         `json:"group"`
	Columns       []string       `json:"columns"`
	Rows          [][]string     `json:"rows"`
	TotalRows     int            `json:"totalRows"`
	Warnings      []Warning      `json:"warnings"`
	SchemaVersion int64          `json:"schemaVersion"`
	SnapshotState SnapshotStatus `json:"snapshotStatus"`
	FetchedAt     time.Time      `json:"fetchedAt"`
}

// PreviewChannel projects the channel and returns at most limit rows.
// A limit <= 0 selects the configured default.
func (s *Service) PreviewChannel(ctx context.Context, name string, limit int) (Preview, error) {
	ch, err := s.store.GetChannel(ctx, name)
	if err != nil {
		return Preview{}, err
	}
	if limit <= 0 || limit > s.previewLimit {
		limit = s.previewLimit
	}

	snap := s.cache.Current(ch.Group)
	proj, err := Project(ch, snap)
	if err != nil {
		return Preview{}, err
	}

	rows := proj.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return Preview{
		Channel:       ch.Name,
		Group:         ch.Group,
		Columns:       proj.Columns,
		Rows:          rows,
		TotalRows:     len(proj.Rows),
		Warnings:      proj.Warnings,
		SchemaVersion: proj.SchemaVersion,
		SnapshotState: proj.SnapshotState,
		FetchedAt:     snap.FetchedAt,
	}, nil
}
