package memindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/ids"
)

func TestUpsert_NewNodeIsStructuralAndPresentational(t *testing.T) {
	idx := New()

	res := idx.Upsert(&Node{
		UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt",
		Size: 10, MTime: 100, Hash: "h1", IsLive: true,
	})

	assert.True(t, res.StructuralChange)
	assert.True(t, res.PresentationChange)
	assert.False(t, res.Rejected)
}

func TestUpsert_RepeatOfIdenticalNodeIsNoOp(t *testing.T) {
	idx := New()

	node := &Node{
		UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt",
		Size: 10, MTime: 100, Hash: "h1", IsLive: true,
	}

	idx.Upsert(node)
	res := idx.Upsert(node)

	assert.False(t, res.StructuralChange)
	assert.False(t, res.PresentationChange)
	assert.False(t, res.Rejected)
}

func TestUpsert_RejectsDirFileTypeChange(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a", IsDir: true, IsLive: true})

	res := idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a", IsDir: false, IsLive: true})

	assert.True(t, res.Rejected)
	assert.NotEmpty(t, res.RejectedReason)

	got := idx.Get(ids.UID(1))
	require.NotNil(t, got)
	assert.True(t, got.IsDir, "type must remain unchanged after a rejected upsert")
}

func TestUpsert_LivenessIsSticky(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a", IsLive: true})

	// A plain upsert that omits IsLive must not clear it.
	res := idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a", IsLive: false})

	assert.True(t, res.Node.IsLive)

	n := idx.MarkNotLive(ids.UID(1))
	require.NotNil(t, n)
	assert.False(t, n.IsLive)
}

func TestUpsert_AllChildrenFetchedIsStickyUpward(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "dir", IsDir: true, AllChildrenFetched: true})

	res := idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "dir", IsDir: true, AllChildrenFetched: false})
	assert.True(t, res.Node.AllChildrenFetched)

	idx.ResetChildrenFetched(ids.UID(1))
	assert.False(t, idx.Get(ids.UID(1)).AllChildrenFetched)
}

func TestUpsert_HashCopiedForwardWhenSizeAndMTimeMatch(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt", Size: 10, MTime: 100, Hash: "h1"})

	// Metadata-only rescan: same size/mtime, no hash supplied.
	res := idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt", Size: 10, MTime: 100})
	assert.Equal(t, "h1", res.Node.Hash)
	assert.False(t, res.PresentationChange)

	// A real content change (different mtime) must not carry the hash forward.
	res = idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt", Size: 10, MTime: 200})
	assert.Empty(t, res.Node.Hash)
	assert.True(t, res.PresentationChange)
}

func TestRemoveNode_RefusesNonEmptyDirectory(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "dir", IsDir: true})
	idx.Upsert(&Node{UID: ids.UID(2), ParentUIDs: []ids.UID{ids.UID(1)}, Name: "child.txt"})

	err := idx.RemoveNode(ids.UID(1))
	assert.Error(t, err)

	require.NoError(t, idx.RemoveNode(ids.UID(2)))
	require.NoError(t, idx.RemoveNode(ids.UID(1)))
	assert.Nil(t, idx.Get(ids.UID(1)))
}

func TestChildren_SortedByName(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "root", IsDir: true})
	idx.Upsert(&Node{UID: ids.UID(2), ParentUIDs: []ids.UID{ids.UID(1)}, Name: "zeta.txt"})
	idx.Upsert(&Node{UID: ids.UID(3), ParentUIDs: []ids.UID{ids.UID(1)}, Name: "alpha.txt"})

	children := idx.Children(ids.UID(1))
	require.Len(t, children, 2)
	assert.Equal(t, "alpha.txt", children[0].Name)
	assert.Equal(t, "zeta.txt", children[1].Name)
}

func TestNodesWithHash_TracksDuplicates(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt", Hash: "dup"})
	idx.Upsert(&Node{UID: ids.UID(2), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "b.txt", Hash: "dup"})

	assert.Len(t, idx.NodesWithHash("dup"), 2)

	idx.MarkNotLive(ids.UID(1))
	require.NoError(t, idx.RemoveNode(ids.UID(1)))

	assert.Len(t, idx.NodesWithHash("dup"), 1)
}

func TestMultiParent_ChildAppearsUnderEachParent(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "folder-a", IsDir: true})
	idx.Upsert(&Node{UID: ids.UID(2), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "folder-b", IsDir: true})

	shared := &Node{UID: ids.UID(3), ParentUIDs: []ids.UID{ids.UID(1), ids.UID(2)}, Name: "shared.txt"}
	res := idx.Upsert(shared)
	assert.True(t, res.StructuralChange)

	assert.Len(t, idx.Children(ids.UID(1)), 1)
	assert.Len(t, idx.Children(ids.UID(2)), 1)

	// Re-parenting to a single parent is a structural change.
	res = idx.Upsert(&Node{UID: ids.UID(3), ParentUIDs: []ids.UID{ids.UID(1)}, Name: "shared.txt"})
	assert.True(t, res.StructuralChange)
	assert.Empty(t, idx.Children(ids.UID(2)))
}

func TestGetByPath(t *testing.T) {
	idx := New()

	idx.Upsert(&Node{UID: ids.UID(1), ParentUIDs: []ids.UID{ids.UID(0)}, Name: "a.txt", Path: "/a.txt"})

	got := idx.GetByPath("/a.txt")
	require.NotNil(t, got)
	assert.Equal(t, ids.UID(1), got.UID)

	assert.Nil(t, idx.GetByPath("/missing.txt"))
}
