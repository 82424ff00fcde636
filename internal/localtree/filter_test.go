package localtree

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
)

func mustFilter(t *testing.T, cfg config.FilterConfig, root string) *Filter {
	t.Helper()

	f, err := NewFilter(cfg, root, nil)
	require.NoError(t, err)

	return f
}

func TestFilterEmptyConfigIncludesEverything(t *testing.T) {
	f := mustFilter(t, config.FilterConfig{}, t.TempDir())

	require.True(t, f.Decide("docs/report.pdf", false, 1024).Include)
	require.True(t, f.Decide("docs", true, 0).Include)
	require.True(t, f.Decide(".hidden", false, 1).Include)
}

func TestFilterTempFilesAlwaysExcluded(t *testing.T) {
	f := mustFilter(t, config.FilterConfig{}, t.TempDir())

	require.False(t, f.Decide("download.partial", false, 1).Include)
	require.False(t, f.Decide("scratch.tmp", false, 1).Include)
	require.False(t, f.Decide("~lock", false, 1).Include)
}

func TestFilterSkipDotfiles(t *testing.T) {
	f := mustFilter(t, config.FilterConfig{SkipDotfiles: true}, t.TempDir())

	require.False(t, f.Decide(".DS_Store", false, 1).Include)
	require.False(t, f.Decide(".git", true, 0).Include)
	require.True(t, f.Decide("visible.txt", false, 1).Include)
}

func TestFilterSkipPatternsMatchBasenameCaseInsensitively(t *testing.T) {
	f := mustFilter(t, config.FilterConfig{
		SkipFiles: []string{"*.iso"},
		SkipDirs:  []string{"node_modules"},
	}, t.TempDir())

	require.False(t, f.Decide("images/Ubuntu.ISO", false, 1).Include)
	require.False(t, f.Decide("web/node_modules", true, 0).Include)
	require.True(t, f.Decide("web/src", true, 0).Include)
}

func TestFilterMaxFileSize(t *testing.T) {
	f := mustFilter(t, config.FilterConfig{MaxFileSize: "1KB"}, t.TempDir())

	require.True(t, f.Decide("small.bin", false, 1000).Include)
	require.False(t, f.Decide("big.bin", false, 2000).Include)
	// Directories carry no size and never hit the threshold.
	require.True(t, f.Decide("dir", true, 0).Include)
}

func TestFilterSyncPathsAllowlist(t *testing.T) {
	f := mustFilter(t, config.FilterConfig{SyncPaths: []string{"docs/work"}}, t.TempDir())

	require.True(t, f.Decide("docs/work/a.txt", false, 1).Include)
	require.True(t, f.Decide("docs/work", true, 0).Include)
	// Ancestors stay traversable so the scanner can reach the subtree.
	require.True(t, f.Decide("docs", true, 0).Include)
	// Siblings are excluded.
	require.False(t, f.Decide("docs/private/b.txt", false, 1).Include)
	require.False(t, f.Decide("music", true, 0).Include)
}

func TestFilterIgnoreMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proj"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proj", ".tsignore"), []byte("*.log\nbuild/\n"), 0o644))

	f := mustFilter(t, config.FilterConfig{IgnoreMarker: ".tsignore"}, root)

	require.False(t, f.Decide("proj/debug.log", false, 1).Include)
	require.True(t, f.Decide("proj/main.go", false, 1).Include)
	// A directory without a marker is unaffected.
	require.True(t, f.Decide("other/debug.log", false, 1).Include)
}

func TestFilterRejectsMalformedMaxFileSize(t *testing.T) {
	_, err := NewFilter(config.FilterConfig{MaxFileSize: "lots"}, t.TempDir(), nil)
	require.Error(t, err)
}

// fakeStaleStore implements StaleRecorder over in-memory maps.
type fakeStaleStore struct {
	mu       sync.Mutex
	existing map[string]pindex.FileRow
	recorded []pindex.StaleRow
}

func newFakeStaleStore() *fakeStaleStore {
	return &fakeStaleStore{existing: make(map[string]pindex.FileRow)}
}

func (s *fakeStaleStore) GetFileByPath(ctx context.Context, device ids.Device, path string) (pindex.FileRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.existing[path]
	if !ok {
		return pindex.FileRow{}, pindex.ErrNotFound
	}

	return row, nil
}

func (s *fakeStaleStore) RecordStaleFile(ctx context.Context, row pindex.StaleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, row)

	return nil
}

func TestScanRecordsStaleForNewlyExcludedIndexedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "movie.iso"), []byte("bits"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("ok"), 0o644))

	stale := newFakeStaleStore()
	stale.existing["movie.iso"] = pindex.FileRow{Path: "movie.iso", IsLive: true}

	filter := mustFilter(t, config.FilterConfig{SkipFiles: []string{"*.iso"}}, root)

	index := memindex.New()
	s := New(root, ids.NewDevice("vol1"), newFakeRegistry(), index, newFakeStore(), nil,
		WithFilter(filter), WithStaleRecorder(stale))
	require.NoError(t, s.Scan(context.Background()))

	// The excluded file is not indexed, the included one is.
	require.Nil(t, index.GetByPath("movie.iso"))
	require.NotNil(t, index.GetByPath("keep.txt"))

	stale.mu.Lock()
	defer stale.mu.Unlock()
	require.Len(t, stale.recorded, 1)
	require.Equal(t, "movie.iso", stale.recorded[0].Path)
	require.NotEmpty(t, stale.recorded[0].Reason)
}

func TestScanDoesNotRecordStaleForNeverIndexedExclusion(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "junk.tmp"), []byte("x"), 0o644))

	stale := newFakeStaleStore()
	filter := mustFilter(t, config.FilterConfig{}, root)

	s := New(root, ids.NewDevice("vol1"), newFakeRegistry(), memindex.New(), newFakeStore(), nil,
		WithFilter(filter), WithStaleRecorder(stale))
	require.NoError(t, s.Scan(context.Background()))

	stale.mu.Lock()
	defer stale.mu.Unlock()
	require.Empty(t, stale.recorded)
}

func TestScanSkipsExcludedDirectorySubtree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("y"), 0o644))

	filter := mustFilter(t, config.FilterConfig{SkipDirs: []string{"node_modules"}}, root)

	index := memindex.New()
	s := New(root, ids.NewDevice("vol1"), newFakeRegistry(), index, newFakeStore(), nil, WithFilter(filter))
	require.NoError(t, s.Scan(context.Background()))

	require.Nil(t, index.GetByPath("node_modules"))
	require.Nil(t, index.GetByPath("node_modules/dep/index.js"))
	require.NotNil(t, index.GetByPath("main.go"))
}
