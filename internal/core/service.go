package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RefreshTimeout bounds a synchronous refresh requested through the API.
var RefreshTimeout = 10 * time.Minute

// ServiceConfig configures a Service. Zero values select the defaults.
type ServiceConfig struct {
	HTTPClient        *http.Client
	Fetch             FetcherConfig
	Fetcher           FeedFetcher // Overrides HTTPClient/Fetch when set
	Schedule          RunnerConfig
	MaxConcurrentRuns int
	RunMaxWait        time.Duration
	ExportCacheSize   int
	PreviewLimit      int
}

// DefaultPreviewLimit is the default number of rows returned by a preview.
const DefaultPreviewLimit = 100

// Service is the entry point for every pipeline operation: configuration,
// scheduled and manual runs, previews, and exports.
type Service struct {
	store        ConfigStore
	cache        *SnapshotCache
	runner       *Runner
	exporter     *Exporter
	previewLimit int
}

// NewService wires the pipeline around store.
func NewService(store ConfigStore, cfg ServiceConfig) (*Service, error) {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(cfg.HTTPClient, cfg.Fetch)
	}

	exporter, err := NewExporter(cfg.ExportCacheSize)
	if err != nil {
		return nil, err
	}

	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = DefaultPreviewLimit
	}

	cache := NewSnapshotCache()
	limiter := NewRunLimiter(cfg.MaxConcurrentRuns, cfg.RunMaxWait)

	return &Service{
		store:        store,
		cache:        cache,
		runner:       NewRunner(store, fetcher, cache, limiter, cfg.Schedule),
		exporter:     exporter,
		previewLimit: cfg.PreviewLimit,
	}, nil
}

// Start schedules every stored group and starts the timers.
func (s *Service) Start(ctx context.Context) error {
	if err := s.LoadSchedules(ctx); err != nil {
		return err
	}
	s.runner.Start()
	return nil
}

// Stop halts the timers and waits for in-flight runs to finish or for ctx
// to expire.
func (s *Service) Stop(ctx context.Context) error {
	return s.runner.Stop(ctx)
}

// LoadSchedules registers the update times of every stored group.
func (s *Service) LoadSchedules(ctx context.Context) error {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	for _, g := range groups {
		if err := s.runner.Schedule(g); err != nil {
			return fmt.Errorf("schedule group %s: %w", g.Name, err)
		}
	}
	slog.Info("schedules loaded", "groups", len(groups))
	return nil
}

// Runner exposes the schedule runner.
func (s *Service) Runner() *Runner {
	return s.runner
}

// Snapshots exposes the snapshot cache.
func (s *Service) Snapshots() *SnapshotCache {
	return s.cache
}
