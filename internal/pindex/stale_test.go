package pindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/ids"
)

func TestStaleFileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	device := ids.NewDevice("vol1")

	require.NoError(t, store.RecordStaleFile(ctx, StaleRow{
		ID: "stale-1", Device: device, Path: "old/movie.iso",
		Reason: "matches skip_files pattern", Size: 4096, DetectedAt: 100,
	}))

	rows, err := store.ListStaleFiles(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "stale-1", rows[0].ID)
	assert.Equal(t, "old/movie.iso", rows[0].Path)
	assert.Equal(t, int64(4096), rows[0].Size)

	require.NoError(t, store.RemoveStaleFile(ctx, "stale-1"))

	rows, err = store.ListStaleFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStaleFileRepeatObservationKeepsOriginalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	device := ids.NewDevice("vol1")

	require.NoError(t, store.RecordStaleFile(ctx, StaleRow{
		ID: "first", Device: device, Path: "a.log", Reason: "old reason", DetectedAt: 1,
	}))
	require.NoError(t, store.RecordStaleFile(ctx, StaleRow{
		ID: "second", Device: device, Path: "a.log", Reason: "new reason", DetectedAt: 2,
	}))

	rows, err := store.ListStaleFiles(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].ID)
	assert.Equal(t, "new reason", rows[0].Reason)
	assert.Equal(t, int64(2), rows[0].DetectedAt)
}

func TestGetFileByPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	device := ids.NewDevice("vol1")

	require.NoError(t, store.UpsertFile(ctx, FileRow{
		Device: device, UID: 7, ParentUID: 1, Name: "a.txt", Path: "sub/a.txt",
		Size: 5, MTime: 10, Hash: "abc", HashAlgo: "md5", IsLive: true,
		CreatedAt: 1, UpdatedAt: 1,
	}))

	row, err := store.GetFileByPath(ctx, device, "sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, ids.UID(7), row.UID)
	assert.Equal(t, "abc", row.Hash)

	_, err = store.GetFileByPath(ctx, device, "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCountLiveItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	device := ids.NewDevice("vol1")

	count, err := store.CountLiveItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.UpsertFile(ctx, FileRow{
		Device: device, UID: 2, ParentUID: 1, Name: "a", Path: "a",
		IsLive: true, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, store.UpsertFile(ctx, FileRow{
		Device: device, UID: 3, ParentUID: 1, Name: "b", Path: "b",
		IsLive: false, CreatedAt: 1, UpdatedAt: 1,
	}))

	count, err = store.CountLiveItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
