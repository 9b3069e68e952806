// Package core provides the feed ingestion and channel projection pipeline.
//
// This package holds all domain logic independent of any transport layer.
// It is used by the HTTP server, the feedctl CLI, and tests without
// modification.
//
// # Architecture
//
// The package is organized around a handful of concepts:
//
//   - Group: an external CSV feed plus the hours at which it is fetched.
//   - Channel: a re-projection of one group's fields into a derived export.
//   - Snapshot: the latest parsed state of a group, held in [SnapshotCache].
//   - Runner: fires each group's schedule and runs fetch then parse.
//   - Service: the entry point for every operation (configure, refresh,
//     preview, export).
//
// # Pipeline
//
// A run moves a group through these states:
//
//	Idle -> Fetching -> Parsing -> Committed
//	                            \-> FailedRetained
//
//  1. [Fetcher] downloads the feed with per-attempt timeouts and
//     exponential backoff retries.
//  2. [Parse] reads the header and records, skipping malformed rows.
//  3. [SnapshotCache.Commit] publishes the new snapshot atomically. On
//     failure [SnapshotCache.MarkFailed] keeps the previous data as stale.
//
// Runs are single-flighted per group: a trigger that arrives while the
// group is Fetching or Parsing is dropped. A shared [RunLimiter] bounds how
// many groups run at once.
//
// # Projection
//
// [Project] maps every snapshot record through a channel's field mappings
// and rules (see [CompileRule]). Per-field problems become [Warning] values;
// only a missing snapshot is fatal. [Render] serializes a projection as
// RFC 4180 CSV, and [Exporter] caches the rendered artifact per snapshot.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FEED001-FEED003: Fetch errors (status, network, size)
//   - PARSE001: Feed is not a readable CSV
//   - MAP001: Channel has no usable snapshot
//   - CFG001-CFG007: Configuration validation errors
//   - RUN001-RUN004: Run errors (in flight, busy, unscheduled, stopping)
package core
