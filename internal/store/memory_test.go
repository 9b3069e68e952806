package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/feedmap/internal/core"
)

func testGroup(name string) core.Group {
	return core.Group{
		Name:        name,
		SourceURL:   "https://example.com/" + name + ".csv",
		UpdateTimes: []string{"06:00", "18:00"},
	}
}

func testChannel(name, group string) core.Channel {
	return core.Channel{
		Name:  name,
		Group: group,
		Fields: []core.FieldMapping{
			{TargetName: "vin", SourceField: "VIN"},
		},
	}
}

func TestMemory_GroupLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateGroup(ctx, testGroup("dealer-b"))
	require.NoError(t, err)
	_, err = m.CreateGroup(ctx, testGroup("dealer-a"))
	require.NoError(t, err)

	got, err := m.GetGroup(ctx, "dealer-a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/dealer-a.csv", got.SourceURL)
	assert.False(t, got.SchemaKnown())

	list, err := m.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dealer-a", list[0].Name)
	assert.Equal(t, "dealer-b", list[1].Name)

	require.NoError(t, m.DeleteGroup(ctx, "dealer-a"))
	_, err = m.GetGroup(ctx, "dealer-a")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemory_DuplicateGroupName(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateGroup(ctx, testGroup("dealer"))
	require.NoError(t, err)

	_, err = m.CreateGroup(ctx, testGroup("dealer"))
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, core.ErrDuplicateName)
	assert.Equal(t, "DuplicateName", verr.ReasonName())
}

func TestMemory_SetGroupFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateGroup(ctx, testGroup("dealer"))
	require.NoError(t, err)

	fields := []string{"VIN", "Make"}
	require.NoError(t, m.SetGroupFields(ctx, "dealer", fields))
	fields[0] = "mutated"

	got, err := m.GetGroup(ctx, "dealer")
	require.NoError(t, err)
	assert.Equal(t, []string{"VIN", "Make"}, got.Fields)

	t.Run("empty schema is known", func(t *testing.T) {
		require.NoError(t, m.SetGroupFields(ctx, "dealer", nil))
		got, err := m.GetGroup(ctx, "dealer")
		require.NoError(t, err)
		assert.True(t, got.SchemaKnown())
		assert.Empty(t, got.Fields)
	})

	t.Run("unknown group", func(t *testing.T) {
		assert.ErrorIs(t, m.SetGroupFields(ctx, "missing", fields), core.ErrNotFound)
	})
}

func TestMemory_ChannelRules(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateGroup(ctx, testGroup("dealer"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		channel core.Channel
		wantErr error
	}{
		{
			name:    "valid channel",
			channel: testChannel("marketplace", "dealer"),
		},
		{
			name:    "duplicate channel name",
			channel: testChannel("marketplace", "dealer"),
			wantErr: core.ErrDuplicateName,
		},
		{
			name:    "dangling group reference",
			channel: testChannel("other", "missing"),
			wantErr: core.ErrDanglingReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateChannel(ctx, tt.channel)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := m.GetChannel(ctx, "marketplace")
	require.NoError(t, err)
	assert.Equal(t, []string{"vin"}, got.Columns())

	list, err := m.ListChannels(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = m.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemory_DeleteGroupInUse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateGroup(ctx, testGroup("dealer"))
	require.NoError(t, err)
	_, err = m.CreateChannel(ctx, testChannel("marketplace", "dealer"))
	require.NoError(t, err)

	err = m.DeleteGroup(ctx, "dealer")
	assert.ErrorIs(t, err, core.ErrGroupInUse)
	assert.Contains(t, err.Error(), "marketplace")

	_, err = m.GetGroup(ctx, "dealer")
	assert.NoError(t, err, "group must survive a rejected delete")

	assert.ErrorIs(t, m.DeleteGroup(ctx, "missing"), core.ErrNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateGroup(ctx, testGroup("dealer"))
	require.NoError(t, err)

	got, err := m.GetGroup(ctx, "dealer")
	require.NoError(t, err)
	got.UpdateTimes[0] = "23:00"

	again, err := m.GetGroup(ctx, "dealer")
	require.NoError(t, err)
	assert.Equal(t, "06:00", again.UpdateTimes[0])
}
