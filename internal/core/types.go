package core

import (
	"context"
	"time"
)

// Group is a configured external CSV feed plus its fetch schedule.
type Group struct {
	Name        string    `json:"name" yaml:"name" validate:"required,max=200"`
	SourceURL   string    `json:"sourceUrl" yaml:"sourceUrl" validate:"required,url"`
	UpdateTimes []string  `json:"updateTimes" yaml:"updateTimes" validate:"dive,hourmark"`
	Rules       string    `json:"rules" yaml:"rules"`                   // Descriptive notes, never evaluated
	Fields      []string  `json:"fields" yaml:"fields" validate:"-"`    // Populated by the first successful parse
	CreatedAt   time.Time `json:"createdAt,omitempty" yaml:"-" validate:"-"`
}

// SchemaKnown reports whether a successful parse has discovered the group's fields.
func (g Group) SchemaKnown() bool {
	return g.Fields != nil
}

// HasField reports whether name is one of the group's discovered fields.
func (g Group) HasField(name string) bool {
	for _, f := range g.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// FieldMapping is one output column of a Channel.
type FieldMapping struct {
	TargetName  string `json:"targetName" yaml:"targetName" validate:"required"`
	SourceField string `json:"sourceField" yaml:"sourceField" validate:"required"`
	Rule        string `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// Channel re-projects one Group's fields into a derived export.
// The order of Fields is the output column order.
type Channel struct {
	Name      string         `json:"name" yaml:"name" validate:"required,max=200"`
	Group     string         `json:"group" yaml:"group" validate:"required"`
	Fields    []FieldMapping `json:"fields" yaml:"fields" validate:"required,min=1,dive"`
	CreatedAt time.Time      `json:"createdAt,omitempty" yaml:"-" validate:"-"`
}

// Columns returns the channel's target names in output order.
func (c Channel) Columns() []string {
	cols := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		cols[i] = f.TargetName
	}
	return cols
}

// Record maps field name to raw string value.
type Record map[string]string

// SnapshotStatus describes whether a snapshot holds usable data.
type SnapshotStatus string

const (
	StatusOK    SnapshotStatus = "ok"
	StatusStale SnapshotStatus = "stale" // Last run failed; data is from an earlier run
	StatusError SnapshotStatus = "error" // No run has ever succeeded
)

// Snapshot is the latest parsed state of a Group's feed.
// Snapshots are immutable once published by the SnapshotCache; callers
// must not modify Fields or Records.
type Snapshot struct {
	Group         string
	SchemaVersion int64
	Fields        []string
	Records       []Record
	SkippedRows   int
	FetchedAt     time.Time
	Status        SnapshotStatus
	Cause         string // Failure cause when Status is stale or error
	RunID         string
}

// Usable reports whether the snapshot can be projected.
func (s *Snapshot) Usable() bool {
	return s != nil && s.Status != StatusError
}

// RunState is the Schedule Runner state of a single Group.
type RunState string

const (
	StateIdle           RunState = "idle"
	StateFetching       RunState = "fetching"
	StateParsing        RunState = "parsing"
	StateCommitted      RunState = "committed"
	StateFailedRetained RunState = "failed_retained"
	StateCancelled      RunState = "cancelled"
)

// InFlight reports whether a run is currently holding the group.
func (s RunState) InFlight() bool {
	return s == StateFetching || s == StateParsing
}

// GroupStatus is the observable pipeline state of a Group.
type GroupStatus struct {
	Group          string         `json:"group"`
	State          RunState       `json:"state"`
	SnapshotStatus SnapshotStatus `json:"snapshotStatus,omitempty"`
	SchemaVersion  int64          `json:"schemaVersion"`
	RecordCount    int            `json:"recordCount"`
	SkippedRows    int            `json:"skippedRows"`
	Fields         []string       `json:"fields"`
	FetchedAt      *time.Time     `json:"fetchedAt,omitempty"`
	LastRunAt      *time.Time     `json:"lastRunAt,omitempty"`
	LastRunID      string         `json:"lastRunId,omitempty"`
	LastDuration   time.Duration  `json:"lastDurationNs,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	NextRuns       []time.Time    `json:"nextRuns,omitempty"`
}

// WarningKind classifies a non-fatal, per-field problem.
type WarningKind string

const (
	WarnMissingSourceField WarningKind = "MissingSourceField"
	WarnUnknownRule        WarningKind = "UnknownRule"
	WarnTypeMismatch       WarningKind = "TypeMismatch"
)

// Warning is a non-fatal problem found while projecting a channel.
// Repeated occurrences for the same target column are folded into one
// Warning with Count and the index of the first affected row.
type Warning struct {
	Kind        WarningKind `json:"kind"`
	TargetName  string      `json:"targetName"`
	SourceField string      `json:"sourceField"`
	Rule        string      `json:"rule,omitempty"`
	FirstRow    int         `json:"firstRow"`
	Count       int         `json:"count"`
}

// ConfigStore persists Group and Channel definitions.
// Implementations validate the data model invariants and report violations
// as *ValidationError; missing entities are reported as ErrNotFound.
type ConfigStore interface {
	CreateGroup(ctx context.Context, g Group) (Group, error)
	GetGroup(ctx context.Context, name string) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	DeleteGroup(ctx context.Context, name string) error
	SetGroupFields(ctx context.Context, name string, fields []string) error

	CreateChannel(ctx context.Context, c Channel) (Channel, error)
	GetChannel(ctx context.Context, name string) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
}
