// Package metrics provides Prometheus metrics for the feed pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedmap"

var (
	// RunsTotal counts finished group runs by outcome (committed, failed, cancelled).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished group runs",
		},
		[]string{"group", "outcome"},
	)

	// RunDuration measures fetch+parse duration per group.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of group runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"group"},
	)

	// TriggersDropped counts schedule triggers dropped because a run was in flight.
	TriggersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_dropped_total",
			Help:      "Total number of triggers dropped by the single-flight guard",
		},
		[]string{"group"},
	)

	// FetchAttempts counts individual HTTP attempts by result.
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of feed fetch attempts",
		},
		[]string{"result"},
	)

	// FetchBytes observes downloaded feed sizes.
	FetchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_bytes",
			Help:      "Size of downloaded feeds in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// SkippedRows counts rows dropped by the parser.
	SkippedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_skipped_rows_total",
			Help:      "Total number of feed rows dropped for a column count mismatch",
		},
		[]string{"group"},
	)

	// ExportsTotal counts channel exports by cache result (hit, miss, error).
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of channel exports",
		},
		[]string{"channel", "cache"},
	)

	// WarningsTotal counts projection warnings by kind.
	WarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_warnings_total",
			Help:      "Total number of non-fatal mapping warnings",
		},
		[]string{"kind"},
	)

	// ActiveRuns tracks runs holding a worker slot.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of group runs currently holding a worker slot",
		},
	)
)

// RecordRun records a finished group run.
func RecordRun(group, outcome string, seconds float64) {
	RunsTotal.WithLabelValues(group, outcome).Inc()
	RunDuration.WithLabelValues(group).Observe(seconds)
}

// RecordDroppedTrigger records a trigger rejected by the single-flight guard.
func RecordDroppedTrigger(group string) {
	TriggersDropped.WithLabelValues(group).Inc()
}

// RecordFetchAttempt records one HTTP attempt ("ok", "status", "error").
func RecordFetchAttempt(result string) {
	FetchAttempts.WithLabelValues(result).Inc()
}

// RecordFetchBytes records the size of a downloaded feed.
func RecordFetchBytes(n int) {
	FetchBytes.Observe(float64(n))
}

// RecordSkippedRows records rows dropped while parsing a group's feed.
func RecordSkippedRows(group string, n int) {
	if n > 0 {
		SkippedRows.WithLabelValues(group).Add(float64(n))
	}
}

// RecordExport records a channel export ("hit", "miss", "error").
func RecordExport(channel, cache string) {
	ExportsTotal.WithLabelValues(channel, cache).Inc()
}

// RecordWarning records count occurrences of a mapping warning.
func RecordWarning(kind string, count int) {
	WarningsTotal.WithLabelValues(kind).Add(float64(count))
}
