// Package store provides core.ConfigStore implementations: an in-memory
// store for development and tests, and a PostgreSQL store for production.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/JonMunkholm/feedmap/internal/core"
)

// Memory is a ConfigStore held entirely in process memory.
// All operations are atomic with respect to each other.
type Memory struct {
	mu       sync.RWMutex
	groups   map[string]core.Group
	channels map[string]core.Channel
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		groups:   make(map[string]core.Group),
		channels: make(map[string]core.Channel),
	}
}

var _ core.ConfigStore = (*Memory)(nil)

func (m *Memory) CreateGroup(_ context.Context, g core.Group) (core.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[g.Name]; exists {
		return core.Group{}, core.NewValidationError(core.ErrDuplicateName, "name",
			"group %q already exists", g.Name)
	}
	g = cloneGroup(g)
	m.groups[g.Name] = g
	return cloneGroup(g), nil
}

func (m *Memory) GetGroup(_ context.Context, name string) (core.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[name]
	if !ok {
		return core.Group{}, fmt.Errorf("group %s: %w", name, core.ErrNotFound)
	}
	return cloneGroup(g), nil
}

func (m *Memory) ListGroups(_ context.Context) ([]core.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := lo.Map(lo.Values(m.groups), func(g core.Group, _ int) core.Group {
		return cloneGroup(g)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteGroup(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[name]; !ok {
		return fmt.Errorf("group %s: %w", name, core.ErrNotFound)
	}

	var users []string
	for _, c := range m.channels {
		if c.Group == name {
			users = append(users, c.Name)
		}
	}
	if len(users) > 0 {
		sort.Strings(users)
		return core.NewValidationError(core.ErrGroupInUse, "name",
			"group %q is used by channel(s) %s", name, strings.Join(users, ", "))
	}

	delete(m.groups, name)
	return nil
}

func (m *Memory) SetGroupFields(_ context.Context, name string, fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[name]
	if !ok {
		return fmt.Errorf("group %s: %w", name, core.ErrNotFound)
	}
	g.Fields = slices.Clone(fields)
	if g.Fields == nil {
		g.Fields = []string{}
	}
	m.groups[name] = g
	return nil
}

func (m *Memory) CreateChannel(_ context.Context, c core.Channel) (core.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[c.Group]; !ok {
		return core.Channel{}, core.NewValidationError(core.ErrDanglingReference, "group",
			"group %q does not exist", c.Group)
	}
	if _, exists := m.channels[c.Name]; exists {
		return core.Channel{}, core.NewValidationError(core.ErrDuplicateName, "name",
			"channel %q already exists", c.Name)
	}
	c = cloneChannel(c)
	m.channels[c.Name] = c
	return cloneChannel(c), nil
}

func (m *Memory) GetChannel(_ context.Context, name string) (core.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.channels[name]
	if !ok {
		return core.Channel{}, fmt.Errorf("channel %s: %w", name, core.ErrNotFound)
	}
	return cloneChannel(c), nil
}

func (m *Memory) ListChannels(_ context.Context) ([]core.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := lo.Map(lo.Values(m.channels), func(c core.Channel, _ int) core.Channel {
		return cloneChannel(c)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneGroup(g core.Group) core.Group {
	g.UpdateTimes = slices.Clone(g.UpdateTimes)
	g.Fields = slices.Clone(g.Fields)
	return g
}

func cloneChannel(c core.Channel) core.Channel {
	c.Fields = slices.Clone(c.Fields)
	return c
}
