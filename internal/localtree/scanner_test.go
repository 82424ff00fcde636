package localtree

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
)

// fakeRegistry issues sequential UIDs per external key, mirroring
// uidregistry.Registry closely enough for scanner tests.
type fakeRegistry struct {
	mu   sync.Mutex
	next uint64
	ids  map[string]ids.UID
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{ids: make(map[string]ids.UID)}
}

func (r *fakeRegistry) UIDForExternalID(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := device.String() + "|" + externalKey
	if uid, ok := r.ids[key]; ok {
		return uid, nil
	}

	r.next++
	r.ids[key] = ids.UID(r.next)

	return r.ids[key], nil
}

// fakeStore records every write-through call, standing in for pindex.Store.
type fakeStore struct {
	mu    sync.Mutex
	dirs  []pindex.DirRow
	files []pindex.FileRow
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (s *fakeStore) UpsertDir(ctx context.Context, row pindex.DirRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, row)

	return nil
}

func (s *fakeStore) UpsertFile(ctx context.Context, row pindex.FileRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, row)

	return nil
}

func writeTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))
}

func TestScanPopulatesIndexAndStore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	registry := newFakeRegistry()
	store := newFakeStore()
	index := memindex.New()
	device := ids.NewDevice("vol1")

	s := New(root, device, registry, index, store, nil)
	require.NoError(t, s.Scan(context.Background()))

	aNode := index.GetByPath("a.txt")
	require.NotNil(t, aNode)
	require.False(t, aNode.IsDir)
	require.True(t, aNode.IsLive)
	require.NotEmpty(t, aNode.Hash)

	subNode := index.GetByPath("sub")
	require.NotNil(t, subNode)
	require.True(t, subNode.IsDir)
	require.True(t, subNode.AllChildrenFetched)

	bNode := index.GetByPath("sub/b.txt")
	require.NotNil(t, bNode)
	require.False(t, bNode.IsDir)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.dirs, 1)
	require.Len(t, store.files, 2)
}

func TestScanMarksDeletedEntriesNotLive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	registry := newFakeRegistry()
	store := newFakeStore()
	index := memindex.New()
	device := ids.NewDevice("vol1")

	require.NoError(t, New(root, device, registry, index, store, nil).Scan(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	require.NoError(t, New(root, device, registry, index, store, nil).Scan(context.Background()))

	aNode := index.GetByPath("a.txt")
	require.NotNil(t, aNode)
	require.False(t, aNode.IsLive)

	bNode := index.GetByPath("sub/b.txt")
	require.NotNil(t, bNode)
	require.True(t, bNode.IsLive)
}

func TestScanRefusesNosyncGuard(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, nosyncFileName), nil, 0o644))

	s := New(root, ids.NewDevice("vol1"), newFakeRegistry(), memindex.New(), newFakeStore(), nil)
	err := s.Scan(context.Background())
	require.ErrorIs(t, err, ErrNosyncGuard)
}

func TestScanBatchSizeYieldsAcrossTicks(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "d"+string(rune('a'+i))), 0o755))
	}

	s := New(root, ids.NewDevice("vol1"), newFakeRegistry(), memindex.New(), newFakeStore(), nil, WithBatchSize(1))

	ctx := context.Background()
	done, err := s.Tick(ctx)
	require.NoError(t, err)
	require.False(t, done, "batch size of 1 must not finish a multi-entry root in a single tick")

	for !done {
		done, err = s.Tick(ctx)
		require.NoError(t, err)
	}
}
