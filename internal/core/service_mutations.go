package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CreateGroup validates and stores g, then schedules its update times.
// Fields are always discovered by the first successful parse; any value
// supplied by the caller is ignored.
func (s *Service) CreateGroup(ctx context.Context, g Group) (Group, error) {
	g, err := NormalizeGroup(g)
	if err != nil {
		return Group{}, err
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	created, err := s.store.CreateGroup(ctx, g)
	if err != nil {
		return Group{}, err
	}

	if err := s.runner.Schedule(created); err != nil {
		// Roll back so a stored group is always a scheduled group
		if delErr := s.store.DeleteGroup(ctx, created.Name); delErr != nil {
			slog.Error("failed to roll back group after schedule error",
				"group", created.Name, "error", delErr)
		}
		return Group{}, err
	}

	slog.Info("group created",
		"group", created.Name,
		"url", redactURL(created.SourceURL),
		"update_times", created.UpdateTimes,
	)
	return created, nil
}

// DeleteGroup removes a group that no channel references. Its timers are
// stopped, an in-flight run is cancelled, and its snapshot is dropped.
func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	if err := s.store.DeleteGroup(ctx, name); err != nil {
		return err
	}
	s.runner.Unschedule(name)

	slog.Info("group deleted", "group", name)
	return nil
}

// CreateChannel validates c against its group and stores it.
func (s *Service) CreateChannel(ctx context.Context, c Channel) (Channel, error) {
	group, err := s.store.GetGroup(ctx, c.Group)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Channel{}, invalid(ErrDanglingReference, "group",
				"group %q does not exist", c.Group)
		}
		return Channel{}, fmt.Errorf("load group %s: %w", c.Group, err)
	}

	c, err = NormalizeChannel(c, group)
	if err != nil {
		return Channel{}, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	created, err := s.store.CreateChannel(ctx, c)
	if err != nil {
		return Channel{}, err
	}

	slog.Info("channel created",
		"channel", created.Name,
		"group", created.Group,
		"columns", len(created.Fields),
	)
	return created, nil
}

// RefreshGroup runs the group's fetch+parse cycle now and waits for it.
// It returns ErrRunInFlight if a run is already in progress.
func (s *Service) RefreshGroup(ctx context.Context, name string) (RunResult, error) {
	if _, err := s.store.GetGroup(ctx, name); err != nil {
		return RunResult{Group: name}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()
	return s.runner.Run(runCtx, name)
}

// TriggerGroup starts a background run and returns immediately.
func (s *Service) TriggerGroup(ctx context.Context, name string) error {
	if _, err := s.store.GetGroup(ctx, name); err != nil {
		return err
	}
	return s.runner.Trigger(name)
}
