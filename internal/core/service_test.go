package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/feedmap/internal/core"
	"github.com/JonMunkholm/feedmap/internal/store"
)

type mapFetcher struct {
	mu    sync.Mutex
	feeds map[string]string
	errs  map[string]error
}

func (f *mapFetcher) set(url, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[url] = body
	f.errs[url] = err
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return []byte(f.feeds[url]), nil
}

const (
	carsURL  = "https://feeds.test/cars.csv"
	boatsURL = "https://feeds.test/boats.csv"
)

func newService(t *testing.T) (*core.Service, *store.Memory, *mapFetcher) {
	t.Helper()
	f := &mapFetcher{feeds: map[string]string{}, errs: map[string]error{}}
	f.set(carsURL, "vin,make,price\n1A,FORD,20000\n2B,kia,15000.5\n3C,BMW,n/a\n", nil)
	f.set(boatsURL, "hull,length\nH1,30\n", nil)

	mem := store.NewMemory()
	svc, err := core.NewService(mem, core.ServiceConfig{
		Fetcher:      f,
		Schedule:     core.RunnerConfig{Location: time.UTC},
		PreviewLimit: 2,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc, mem, f
}

func TestService_CreateGroup(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, core.Group{
		Name:        " cars ",
		SourceURL:   carsURL,
		UpdateTimes: []string{"18:00", "6:00", "06:00"},
		Fields:      []string{"ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cars", g.Name)
	assert.Equal(t, []string{"06:00", "18:00"}, g.UpdateTimes)
	assert.Empty(t, g.Fields, "fields come from the first parse")
	assert.False(t, g.CreatedAt.IsZero())

	status, err := svc.GroupStatus(ctx, "cars")
	require.NoError(t, err)
	assert.Equal(t, core.StateIdle, status.State)
	assert.Len(t, status.NextRuns, 2)

	_, err = svc.CreateGroup(ctx, core.Group{Name: "cars", SourceURL: carsURL})
	assert.ErrorIs(t, err, core.ErrDuplicateName)

	_, err = svc.CreateGroup(ctx, core.Group{Name: "bad", SourceURL: carsURL, UpdateTimes: []string{"25:00"}})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	_, err = svc.GetGroup(ctx, "bad")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_ChannelValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateChannel(ctx, core.Channel{
		Name:   "site",
		Group:  "nope",
		Fields: []core.FieldMapping{{TargetName: "VIN", SourceField: "vin"}},
	})
	assert.ErrorIs(t, err, core.ErrDanglingReference)

	_, err = svc.CreateGroup(ctx, core.Group{Name: "cars", SourceURL: carsURL})
	require.NoError(t, err)

	// Before the first run any source field is accepted
	_, err = svc.CreateChannel(ctx, core.Channel{
		Name:   "early",
		Group:  "cars",
		Fields: []core.FieldMapping{{TargetName: "Color", SourceField: "color"}},
	})
	require.NoError(t, err)

	_, err = svc.RefreshGroup(ctx, "cars")
	require.NoError(t, err)

	_, err = svc.CreateChannel(ctx, core.Channel{
		Name:   "late",
		Group:  "cars",
		Fields: []core.FieldMapping{{TargetName: "Color", SourceField: "color"}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidField)

	_, err = svc.CreateChannel(ctx, core.Channel{
		Name:  "dup",
		Group: "cars",
		Fields: []core.FieldMapping{
			{TargetName: "X", SourceField: "vin"},
			{TargetName: "X", SourceField: "make"},
		},
	})
	assert.ErrorIs(t, err, core.ErrDuplicateTargetField)

	_, err = svc.CreateChannel(ctx, core.Channel{
		Name:   "precise",
		Group:  "cars",
		Fields: []core.FieldMapping{{TargetName: "Price", SourceField: "price", Rule: "round:50000000"}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidField)
	_, err = svc.GetChannel(ctx, "precise")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_RefreshExportPreview(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, core.Group{Name: "cars", SourceURL: carsURL})
	require.NoError(t, err)
	_, err = svc.CreateChannel(ctx, core.Channel{
		Name:  "site",
		Group: "cars",
		Fields: []core.FieldMapping{
			{TargetName: "Make", SourceField: "make", Rule: "lowercase"},
			{TargetName: "Price", SourceField: "price", Rule: "round:0"},
		},
	})
	require.NoError(t, err)

	_, err = svc.ExportChannel(ctx, "site")
	var merr *core.MappingError
	require.ErrorAs(t, err, &merr, "no snapshot yet")

	res, err := svc.RefreshGroup(ctx, "cars")
	require.NoError(t, err)
	assert.Equal(t, core.StateCommitted, res.State)
	assert.Len(t, res.Snapshot.Records, 3)

	stored, err := mem.GetGroup(ctx, "cars")
	require.NoError(t, err)
	assert.Equal(t, []string{"vin", "make", "price"}, stored.Fields)

	a, err := svc.ExportChannel(ctx, "site")
	require.NoError(t, err)
	assert.Equal(t, "Make,Price\nford,20000\nkia,15001\nbmw,n/a\n", string(a.Content))
	require.Len(t, a.Warnings, 1)
	assert.Equal(t, core.WarnTypeMismatch, a.Warnings[0].Kind)
	assert.Equal(t, 2, a.Warnings[0].FirstRow)

	p, err := svc.PreviewChannel(ctx, "site", 0)
	require.NoError(t, err)
	assert.Len(t, p.Rows, 2, "capped at the configured limit")
	assert.Equal(t, 3, p.TotalRows)
	assert.Equal(t, []string{"Make", "Price"}, p.Columns)

	p, err = svc.PreviewChannel(ctx, "site", 1)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ford", "20000"}}, p.Rows)

	_, err = svc.PreviewChannel(ctx, "missing", 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_RefreshUnknownGroup(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RefreshGroup(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, svc.TriggerGroup(ctx, "ghost"), core.ErrNotFound)
	_, err = svc.GroupStatus(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_RefreshAll(t *testing.T) {
	svc, _, f := newService(t)
	ctx := context.Background()

	for _, g := range []core.Group{
		{Name: "cars", SourceURL: carsURL},
		{Name: "boats", SourceURL: boatsURL},
		{Name: "planes", SourceURL: "https://feeds.test/planes.csv"},
	} {
		_, err := svc.CreateGroup(ctx, g)
		require.NoError(t, err)
	}
	f.set("https://feeds.test/planes.csv", "", &core.FetchError{URL: "planes", StatusCode: 503, Attempts: 1})

	outcomes, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byGroup := make(map[string]core.RefreshOutcome)
	for _, o := range outcomes {
		byGroup[o.Group] = o
	}
	assert.Equal(t, core.StateCommitted, byGroup["boats"].State)
	assert.Equal(t, 1, byGroup["boats"].RecordCount)
	assert.Equal(t, core.StateCommitted, byGroup["cars"].State)
	assert.Equal(t, 3, byGroup["cars"].RecordCount)
	assert.Equal(t, core.StateFailedRetained, byGroup["planes"].State)
	assert.Equal(t, core.StatusError, byGroup["planes"].SnapshotState)
	assert.Contains(t, byGroup["planes"].Error, "status 503")
}

func TestService_DeleteGroup(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, core.Group{Name: "cars", SourceURL: carsURL, UpdateTimes: []string{"06:00"}})
	require.NoError(t, err)
	_, err = svc.RefreshGroup(ctx, "cars")
	require.NoError(t, err)
	_, err = svc.CreateChannel(ctx, core.Channel{
		Name:   "site",
		Group:  "cars",
		Fields: []core.FieldMapping{{TargetName: "VIN", SourceField: "vin"}},
	})
	require.NoError(t, err)

	err = svc.DeleteGroup(ctx, "cars")
	assert.ErrorIs(t, err, core.ErrGroupInUse)
	assert.NotNil(t, svc.Snapshots().Current("cars"), "a refused delete keeps the snapshot")

	// A group without channels can be removed
	_, err = svc.CreateGroup(ctx, core.Group{Name: "boats", SourceURL: boatsURL})
	require.NoError(t, err)
	_, err = svc.RefreshGroup(ctx, "boats")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGroup(ctx, "boats"))
	assert.Nil(t, svc.Snapshots().Current("boats"))
	_, err = svc.GetGroup(ctx, "boats")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = svc.Runner().Status("boats")
	assert.ErrorIs(t, err, core.ErrUnknownGroup)

	assert.True(t, errors.Is(svc.DeleteGroup(ctx, "boats"), core.ErrNotFound))
}

func TestService_StartLoadsStoredGroups(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.CreateGroup(ctx, core.Group{Name: "cars", SourceURL: carsURL, UpdateTimes: []string{"06:00"}})
	require.NoError(t, err)

	svc, err := core.NewService(mem, core.ServiceConfig{Schedule: core.RunnerConfig{Location: time.UTC}})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	assert.Equal(t, []string{"cars"}, svc.Runner().GroupNames())
	status, err := svc.GroupStatus(ctx, "cars")
	require.NoError(t, err)
	require.Len(t, status.NextRuns, 1)
	assert.Equal(t, 6, status.NextRuns[0].Hour())
}
