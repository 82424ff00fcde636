package diffengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
)

func node(uid ids.UID, path, hash string, mtime int64) *memindex.Node {
	return &memindex.Node{
		UID:   uid,
		Name:  path,
		Path:  path,
		Hash:  hash,
		MTime: mtime,
	}
}

// scenario 1: move detected. Left: /a/foo.txt (md5=X). Right: /b/foo.txt
// (md5=X). diff(compare_paths=true) -> both categorized MOVED with
// prev_path pointing across.
func TestMoveDetected(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/foo.txt", "X", 1))
	right.Upsert(node(2, "/b/foo.txt", "X", 1))

	res := Diff(left, right, Options{ComparePaths: true})

	require.Len(t, res.Left, 1)
	require.Len(t, res.Right, 1)
	require.Equal(t, Moved, res.Left[0].Category)
	require.Equal(t, Moved, res.Right[0].Category)
	require.Equal(t, "/b/foo.txt", res.Left[0].PrevPath)
	require.Equal(t, "/a/foo.txt", res.Right[0].PrevPath)
}

// scenario 2: content change at the same path. Left: /a/x.txt (md5=X). Right:
// /a/x.txt (md5=Y). Result: both UPDATED.
func TestContentChangeSamePath(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/x.txt", "X", 1))
	right.Upsert(node(2, "/a/x.txt", "Y", 2))

	res := Diff(left, right, Options{})

	require.Len(t, res.Left, 1)
	require.Len(t, res.Right, 1)
	require.Equal(t, Updated, res.Left[0].Category)
	require.Equal(t, Updated, res.Right[0].Category)
}

// scenario 3: added file. Left has /a/new.txt (md5=Z); Right has no file
// with md5=Z. Result: left=ADDED, right records a ghost DELETED at
// /a/new.txt.
func TestAddedFileGhostDelete(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/new.txt", "Z", 1))

	res := Diff(left, right, Options{})

	require.Len(t, res.Left, 1)
	require.Equal(t, Added, res.Left[0].Category)

	require.Len(t, res.Right, 1)
	require.Equal(t, Deleted, res.Right[0].Category)
	require.True(t, res.Right[0].Ghost)
	require.Equal(t, "/a/new.txt", res.Right[0].Node.Path)
}

func TestUnchangedSamePathSameHash(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/same.txt", "X", 1))
	right.Upsert(node(2, "/a/same.txt", "X", 1))

	res := Diff(left, right, Options{ComparePaths: true})

	require.Len(t, res.Left, 1)
	require.Equal(t, Unchanged, res.Left[0].Category)
	require.Equal(t, Unchanged, res.Right[0].Category)
}

func TestDuplicateContentAttributesExtraCopyAsAddedDeleted(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/one.txt", "X", 1))
	left.Upsert(node(2, "/a/two.txt", "X", 1))
	right.Upsert(node(3, "/b/one.txt", "X", 1))

	res := Diff(left, right, Options{ComparePaths: true})

	require.Len(t, res.Duplicates, 1)
	require.Equal(t, "X", res.Duplicates[0].Hash)
	require.Len(t, res.Duplicates[0].Left, 2)

	// One left node pairs as Moved with the right node; the extra left
	// node is attributed Added (with a ghost Deleted on the right).
	var movedCount, addedCount int

	for _, e := range res.Left {
		switch e.Category {
		case Moved:
			movedCount++
		case Added:
			addedCount++
		}
	}

	require.Equal(t, 1, movedCount)
	require.Equal(t, 1, addedCount)
}

func TestUseModifyTimesPicksNewerAsDestination(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/foo.txt", "X", 100))
	right.Upsert(node(2, "/b/foo.txt", "X", 50))

	res := Diff(left, right, Options{ComparePaths: true, UseModifyTimes: true})

	require.Len(t, res.Left, 1)
	require.Equal(t, Moved, res.Left[0].Category)
	require.Empty(t, res.Right) // right is the (older) source, not separately flagged destination
}

func TestIgnorePredicateExcludesNode(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/a/.DS_Store", "X", 1))

	res := Diff(left, right, Options{Ignore: func(n *memindex.Node) bool {
		return n.Name == "/a/.DS_Store"
	}})

	require.Len(t, res.Left, 1)
	require.Equal(t, Ignored, res.Left[0].Category)
}

func TestRootRemapping(t *testing.T) {
	left := memindex.New()
	right := memindex.New()

	left.Upsert(node(1, "/left-root/sub/foo.txt", "X", 1))
	right.Upsert(node(2, "/right-root/sub/foo.txt", "X", 1))

	res := Diff(left, right, Options{
		ComparePaths: true,
		LeftRoot:     "/left-root",
		RightRoot:    "/right-root",
	})

	require.Len(t, res.Left, 1)
	require.Equal(t, Unchanged, res.Left[0].Category)
}
