package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/opgraph"
)

func TestSaveLoadDeleteBatch_RoundTrips(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	device := ids.NewDevice("local:/tmp/x")
	target := opgraph.Target{Device: device, UID: ids.UID(7)}

	ops := []opgraph.Op{
		{
			Type:   opgraph.OpCP,
			Target: target,
			Payload: executor.Payload{
				SrcKind: executor.Local, DstKind: executor.Local,
				SrcPath: "a.txt", DstPath: "b.txt", Name: "b.txt", Size: 12,
			},
		},
	}

	id, err := saveBatch("work", "my label", ops, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, err := listPendingBatches(&config.ResolvedProfile{Name: "work"})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, pending)

	stored, err := loadBatch("work", id)
	require.NoError(t, err)
	assert.Equal(t, "my label", stored.Label)
	assert.Equal(t, 3, stored.Skipped)
	require.Len(t, stored.Ops, 1)

	roundTripped := stored.Ops[0].op()
	assert.Equal(t, opgraph.OpCP, roundTripped.Type)
	assert.Equal(t, target.UID, roundTripped.Target.UID)
	assert.Equal(t, device.String(), roundTripped.Target.Device.String())
	assert.Equal(t, "a.txt", roundTripped.Payload.(executor.Payload).SrcPath)

	require.NoError(t, deleteBatch("work", id))

	_, err = loadBatch("work", id)
	assert.Error(t, err)
}

func TestListPendingBatches_EmptyWhenNoneStaged(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	pending, err := listPendingBatches(&config.ResolvedProfile{Name: "fresh"})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
