package memindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/treesync/treesync/internal/ids"
)

// Index is a concurrency-safe in-memory snapshot of one tree. It keeps
// four views over the same nodes — by uid, by parent, by content hash,
// and (for single-parent trees) by path — so the scanner and the diff
// engine can each query the shape they need without re-deriving it.
//
// The four views generalize a flat single-parent baseline table into a
// multi-parent DAG.
type Index struct {
	mu sync.RWMutex

	byUID    map[ids.UID]*Node
	byParent map[ids.UID]map[ids.UID]struct{} // parent uid -> set of child uids
	byHash   map[string]map[ids.UID]struct{}  // hash -> set of uids sharing it
	byPath   map[string]ids.UID               // local single-parent trees only
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byUID:    make(map[ids.UID]*Node),
		byParent: make(map[ids.UID]map[ids.UID]struct{}),
		byHash:   make(map[string]map[ids.UID]struct{}),
		byPath:   make(map[string]ids.UID),
	}
}

// Get returns the node for uid, or nil if absent. The returned Node is a
// copy; mutating it does not affect the index.
func (idx *Index) Get(uid ids.UID) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.byUID[uid].clone()
}

// GetByPath returns the node at path on a single-parent tree, or nil.
func (idx *Index) GetByPath(path string) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	uid, ok := idx.byPath[path]
	if !ok {
		return nil
	}

	return idx.byUID[uid].clone()
}

// Children returns the current children of parentUID, in name order.
func (idx *Index) Children(parentUID ids.UID) []*Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set := idx.byParent[parentUID]
	out := make([]*Node, 0, len(set))

	for uid := range set {
		out = append(out, idx.byUID[uid].clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// NodesWithHash returns every node currently sharing the given content
// hash, the building block for duplicate-content detection in the diff
// engine.
func (idx *Index) NodesWithHash(hash string) []*Node {
	if hash == "" {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set := idx.byHash[hash]
	out := make([]*Node, 0, len(set))

	for uid := range set {
		out = append(out, idx.byUID[uid].clone())
	}

	return out
}

// All returns every node in the index, including nodes marked not-live;
// callers that want only live nodes check IsLive. Used by the diff engine to
// build its working set; callers needing a stable order should sort the
// result themselves.
func (idx *Index) All() []*Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*Node, 0, len(idx.byUID))
	for _, n := range idx.byUID {
		out = append(out, n.clone())
	}

	return out
}

// Upsert merges incoming into the index under the following merge rules:
//
//   - a directory/file type change is rejected outright (that is really
//     a delete+create, not an update);
//   - AllChildrenFetched only ever moves false->true through Upsert; use
//     ResetChildrenFetched to clear it explicitly;
//   - IsLive only ever moves false->true through Upsert; use MarkNotLive
//     to clear it;
//   - when incoming's Size and MTime exactly match the existing node's,
//     and incoming carries no hash, the existing hash is carried forward
//     rather than discarded, so a caller that didn't recompute a hash
//     (e.g. a cheap metadata-only rescan) doesn't lose it.
func (idx *Index) Upsert(incoming *Node) UpdateResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, had := idx.byUID[incoming.UID]

	if had && existing.IsDir != incoming.IsDir {
		return UpdateResult{
			Node:             existing.clone(),
			StructuralChange: true,
			Rejected:         true,
			RejectedReason: fmt.Sprintf("refusing to change node type for uid %d (dir=%v -> dir=%v)", uint64(incoming.UID), existing.IsDir, incoming.IsDir),
		}
	}

	next := incoming.clone()

	var structural, presentation bool

	if !had {
		structural = true
		presentation = true
	} else {
		structural = !sameParents(existing.ParentUIDs, next.ParentUIDs) || existing.Name != next.Name

		if next.AllChildrenFetched || existing.AllChildrenFetched {
			next.AllChildrenFetched = true
		}

		if existing.IsLive {
			next.IsLive = true
		}

		if next.Hash == "" && existing.Size == next.Size && existing.MTime == next.MTime {
			next.Hash = existing.Hash
			next.HashAlgo = existing.HashAlgo
		}

		presentation = existing.Size != next.Size ||
			existing.MTime != next.MTime ||
			existing.Hash != next.Hash ||
			existing.IsLive != next.IsLive ||
			existing.ETag != next.ETag
	}

	idx.storeLocked(existing, next)

	return UpdateResult{
		Node:               next.clone(),
		StructuralChange:   structural,
		PresentationChange: presentation,
	}
}

// ResetChildrenFetched explicitly clears AllChildrenFetched for uid, used
// when a fresh scan of that directory begins and its prior "fully
// fetched" status can no longer be trusted.
func (idx *Index) ResetChildrenFetched(uid ids.UID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if n, ok := idx.byUID[uid]; ok {
		n.AllChildrenFetched = false
	}
}

// MarkNotLive flips IsLive to false for uid, the only path by which
// liveness ever moves in that direction.
func (idx *Index) MarkNotLive(uid ids.UID) *Node {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.byUID[uid]
	if !ok {
		return nil
	}

	n.IsLive = false

	return n.clone()
}

// RemoveNode deletes uid from the index. Removing a directory that still
// has children is refused — the caller must remove or relocate the
// children first — because a dangling child reference would corrupt
// every other view the index maintains.
func (idx *Index) RemoveNode(uid ids.UID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.byUID[uid]
	if !ok {
		return nil
	}

	if n.IsDir {
		if children := idx.byParent[uid]; len(children) > 0 {
			return fmt.Errorf("memindex: refusing to remove non-empty directory uid %d (%d children)", uint64(uid), len(children))
		}
	}

	idx.removeLocked(n)

	return nil
}

// storeLocked installs next into all views, removing stale entries left
// by existing first. Caller must hold idx.mu.
func (idx *Index) storeLocked(existing, next *Node) {
	if existing != nil {
		idx.removeFromSecondaryLocked(existing)
	}

	idx.byUID[next.UID] = next

	for _, parent := range next.ParentUIDs {
		set, ok := idx.byParent[parent]
		if !ok {
			set = make(map[ids.UID]struct{})
			idx.byParent[parent] = set
		}

		set[next.UID] = struct{}{}
	}

	if next.Hash != "" {
		set, ok := idx.byHash[next.Hash]
		if !ok {
			set = make(map[ids.UID]struct{})
			idx.byHash[next.Hash] = set
		}

		set[next.UID] = struct{}{}
	}

	if next.Path != "" {
		idx.byPath[next.Path] = next.UID
	}
}

// removeLocked fully removes n from every view. Caller must hold idx.mu.
func (idx *Index) removeLocked(n *Node) {
	idx.removeFromSecondaryLocked(n)
	delete(idx.byUID, n.UID)
	delete(idx.byParent, n.UID) // a removed directory owns no children set anymore
}

func (idx *Index) removeFromSecondaryLocked(n *Node) {
	for _, parent := range n.ParentUIDs {
		if set, ok := idx.byParent[parent]; ok {
			delete(set, n.UID)

			if len(set) == 0 {
				delete(idx.byParent, parent)
			}
		}
	}

	if n.Hash != "" {
		if set, ok := idx.byHash[n.Hash]; ok {
			delete(set, n.UID)

			if len(set) == 0 {
				delete(idx.byHash, n.Hash)
			}
		}
	}

	if n.Path != "" {
		delete(idx.byPath, n.Path)
	}
}

func sameParents(a, b []ids.UID) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[ids.UID]struct{}, len(a))
	for _, uid := range a {
		seen[uid] = struct{}{}
	}

	for _, uid := range b {
		if _, ok := seen[uid]; !ok {
			return false
		}
	}

	return true
}
