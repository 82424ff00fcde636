// Package diffengine implements the DiffEngine component: a
// content-hash-union diff over two memindex.Index snapshots that emits
// categorized node pairs (Added, Deleted, Updated, Moved, Unchanged,
// Ignored).
//
// The algorithm unions both sides' content-hash signature sets and
// position-pairs duplicates within a hash group, structured as small,
// named classification functions per decision-matrix row rather than one
// large branch.
package diffengine

import (
	"path"
	"sort"
	"strings"

	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
)

// Category is a mutable classification kept separate from the Node
// proper, as a tag rather than a node subtype, so the same node can be
// reclassified across repeated diff runs without touching its identity.
type Category string

const (
	NA       Category = "NA"
	Ignored  Category = "IGNORED"
	Added    Category = "ADDED"
	Deleted  Category = "DELETED"
	Updated  Category = "UPDATED"
	Moved    Category = "MOVED"
	Unchanged Category = "UNCHANGED"
)

// Side identifies which input tree an Entry belongs to.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Entry is one categorized node as produced for one side of the diff. A
// ghost Deleted entry is a copy of the matching
// node from the other side, attributed to this side at the path the other
// side's node would occupy here.
type Entry struct {
	Side     Side
	Node     *memindex.Node
	Category Category

	// PrevPath is set on MOVED entries: the path this node occupied before
	// the move, for rollback accounting.
	PrevPath string

	// Ghost is true for a Deleted entry synthesized to represent the
	// other side's node rather than a real node on this side.
	Ghost bool
}

// IgnorePredicate reports whether a node should be excluded from diff
// matching entirely.
type IgnorePredicate func(n *memindex.Node) bool

// Options controls the diff algorithm's two path-aware heuristics.
type Options struct {
	// ComparePaths enables path-equivalence pairing for nodes that share a
	// content hash across both sides (step 2's "compare_paths_also").
	ComparePaths bool

	// UseModifyTimes, when true and ComparePaths is set, uses the side
	// with the newer ModifyTs as the destination of a detected rename.
	// Default false: both sides are marked MOVED symmetrically and the
	// caller arbitrates.
	UseModifyTimes bool

	// LeftRoot/RightRoot are stripped from each side's path before
	// path-equivalence comparison, so "leftRoot/rel" matches
	// "rightRoot/rel".
	LeftRoot  string
	RightRoot string

	// Ignore, when non-nil, marks matching nodes IGNORED instead of
	// diffing them.
	Ignore IgnorePredicate
}

// DuplicateGroup is the full set of nodes sharing one content hash across
// both sides, surfaced in addition to the greedily-paired Entries so a
// caller can inspect every copy rather than only the pair the algorithm
// picked.
type DuplicateGroup struct {
	Hash  string
	Left  []*memindex.Node
	Right []*memindex.Node
}

// Result is the full diff output: every entry on each side, plus the raw
// duplicate groups for hashes with more than one node on either side.
type Result struct {
	Left       []Entry
	Right      []Entry
	Duplicates []DuplicateGroup
}

// Diff compares two MemoryIndex snapshots and returns the categorized
// node pairs on each side. left and right may be the same tree type or
// different tree types (local vs. cloud) — the algorithm only looks at
// content hashes and paths, never tree-type-specific fields.
func Diff(left, right *memindex.Index, opts Options) *Result {
	leftActive, leftIgnored := partitionIgnored(left.All(), opts.Ignore)
	rightActive, rightIgnored := partitionIgnored(right.All(), opts.Ignore)

	res := &Result{}

	for _, n := range leftIgnored {
		res.Left = append(res.Left, Entry{Side: Left, Node: n, Category: Ignored})
	}

	for _, n := range rightIgnored {
		res.Right = append(res.Right, Entry{Side: Right, Node: n, Category: Ignored})
	}

	// Step 4 runs before the hash-union loop below: a same-path,
	// different-hash pair lands in two disjoint single-node hash buckets
	// (one per hash), so the per-hash loop alone can never see them as
	// related — it would emit Added on one side and a ghost Deleted on
	// the other, for both hashes. Matching by path first and removing the
	// matched nodes from the active sets keeps the hash-union loop from
	// ever encountering them.
	leftActive, rightActive = classifyUpdatedByPath(res, leftActive, rightActive, opts)

	leftByHash := groupByHash(leftActive)
	rightByHash := groupByHash(rightActive)

	hashes := unionHashes(leftByHash, rightByHash)

	for _, h := range hashes {
		lefts := leftByHash[h]
		rights := rightByHash[h]

		if len(lefts) > 1 || len(rights) > 1 {
			res.Duplicates = append(res.Duplicates, DuplicateGroup{Hash: h, Left: lefts, Right: rights})
		}

		switch {
		case len(lefts) == 0:
			addAddedWithGhostDelete(res, rights, Right, Left, opts)
		case len(rights) == 0:
			addAddedWithGhostDelete(res, lefts, Left, Right, opts)
		case opts.ComparePaths:
			pairAndClassify(res, lefts, rights, opts)
		default:
			classifyUpdatedPairs(res, lefts, rights)
		}
	}

	sort.Slice(res.Duplicates, func(i, j int) bool { return res.Duplicates[i].Hash < res.Duplicates[j].Hash })

	return res
}

// partitionIgnored splits nodes into those excluded from diff matching by
// the configured ignore predicate and everything else.
func partitionIgnored(nodes []*memindex.Node, ignore IgnorePredicate) (active, ignored []*memindex.Node) {
	for _, n := range nodes {
		if ignore != nil && ignore(n) {
			ignored = append(ignored, n)
			continue
		}

		active = append(active, n)
	}

	return active, ignored
}

// groupByHash partitions nodes into a hash -> []Node map, skipping nodes
// with no hash (directories, or files whose hash hasn't been computed
// yet) so they never participate in pairing.
func groupByHash(nodes []*memindex.Node) map[string][]*memindex.Node {
	byHash := make(map[string][]*memindex.Node)

	for _, n := range nodes {
		if n.Hash == "" {
			continue
		}

		byHash[n.Hash] = append(byHash[n.Hash], n)
	}

	return byHash
}

// classifyUpdatedByPath marks every path present on both sides with
// differing content hashes as UPDATED. This runs independently of the
// per-hash loop (and of
// opts.ComparePaths, which only gates the duplicate-pairing heuristic
// within a shared hash group) because the two hashes here never share a
// hash bucket in the first place. Matched nodes are removed from the
// returned slices so the hash-union loop downstream never re-classifies
// them as Added/Deleted.
func classifyUpdatedByPath(res *Result, leftNodes, rightNodes []*memindex.Node, opts Options) ([]*memindex.Node, []*memindex.Node) {
	rightByPath := make(map[string]*memindex.Node, len(rightNodes))

	for _, r := range rightNodes {
		if r.Hash == "" {
			continue
		}

		rightByPath[remapPath(r.Path, opts.RightRoot, "")] = r
	}

	updatedRight := make(map[ids.UID]bool)
	remainingLeft := make([]*memindex.Node, 0, len(leftNodes))

	for _, l := range leftNodes {
		if l.Hash == "" {
			remainingLeft = append(remainingLeft, l)
			continue
		}

		r, ok := rightByPath[remapPath(l.Path, opts.LeftRoot, "")]
		if !ok || r.Hash == l.Hash {
			remainingLeft = append(remainingLeft, l)
			continue
		}

		appendEntry(res, Left, Entry{Side: Left, Node: l, Category: Updated})
		appendEntry(res, Right, Entry{Side: Right, Node: r, Category: Updated})
		updatedRight[r.UID] = true
	}

	remainingRight := make([]*memindex.Node, 0, len(rightNodes))

	for _, r := range rightNodes {
		if updatedRight[r.UID] {
			continue
		}

		remainingRight = append(remainingRight, r)
	}

	return remainingLeft, remainingRight
}

func unionHashes(a, b map[string][]*memindex.Node) []string {
	seen := make(map[string]struct{}, len(a)+len(b))

	for h := range a {
		seen[h] = struct{}{}
	}

	for h := range b {
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	sort.Strings(out)

	return out
}

// addAddedWithGhostDelete handles the empty-side case: every node on the
// present side is ADDED there, and a ghost DELETED entry (a copy of that
// node) is recorded on the empty side at the root-remapped path.
func addAddedWithGhostDelete(res *Result, present []*memindex.Node, presentSide, emptySide Side, opts Options) {
	for _, n := range present {
		appendEntry(res, presentSide, Entry{Side: presentSide, Node: n, Category: Added})

		ghost := n.Clone()
		ghost.Path = remapPath(n.Path, rootFor(presentSide, opts), rootFor(emptySide, opts))
		appendEntry(res, emptySide, Entry{Side: emptySide, Node: ghost, Category: Deleted, Ghost: true})
	}
}

func rootFor(side Side, opts Options) string {
	if side == Left {
		return opts.LeftRoot
	}

	return opts.RightRoot
}

// remapPath rewrites a path rooted at fromRoot to be rooted at toRoot,
// for cross-tree path comparison.
func remapPath(p, fromRoot, toRoot string) string {
	if fromRoot == "" && toRoot == "" {
		return p
	}

	rel := strings.TrimPrefix(p, fromRoot)
	rel = strings.TrimPrefix(rel, "/")

	if toRoot == "" {
		toRoot = "/"
	}

	return path.Join(toRoot, rel)
}

// pairAndClassify implements _compare_paths_for_same_sig: orphan detection
// by path lookup, then position-paired comparison of any remaining nodes,
// classifying each pair as Moved (different remapped path) or Unchanged
// (same path — equal hash within this group plus equal path), or an
// Added/Deleted duplicate-attribution pair for an unmatched remainder.
// Updated pairs never reach here: classifyUpdatedByPath already pulled
// same-path different-hash nodes out of the active sets before hash
// grouping.
func pairAndClassify(res *Result, lefts, rights []*memindex.Node, opts Options) {
	var orphanLeft, orphanRight []*memindex.Node

	rightByPath := indexByRemappedPath(rights, opts.RightRoot)
	leftByPath := indexByRemappedPath(lefts, opts.LeftRoot)

	for _, l := range lefts {
		lp := remapPath(l.Path, opts.LeftRoot, "")
		if r, ok := rightByPath[lp]; !ok {
			orphanLeft = append(orphanLeft, l)
		} else {
			// Same content hash, same root-remapped path: truly unchanged
			// on both sides.
			appendEntry(res, Left, Entry{Side: Left, Node: l, Category: Unchanged})
			appendEntry(res, Right, Entry{Side: Right, Node: r, Category: Unchanged})
		}
	}

	for _, r := range rights {
		rp := remapPath(r.Path, opts.RightRoot, "")
		if _, ok := leftByPath[rp]; !ok {
			orphanRight = append(orphanRight, r)
		}
	}

	sortByPath(orphanLeft)
	sortByPath(orphanRight)

	n := len(orphanLeft)
	if len(orphanRight) < n {
		n = len(orphanRight)
	}

	for i := 0; i < n; i++ {
		classifyMovedPair(res, orphanLeft[i], orphanRight[i], opts)
	}

	for i := n; i < len(orphanLeft); i++ {
		// Left has an extra copy with this signature: a duplicate with no
		// counterpart path on the right (best-guess attribution).
		appendEntry(res, Left, Entry{Side: Left, Node: orphanLeft[i], Category: Added})

		ghost := orphanLeft[i].Clone()
		ghost.Path = remapPath(orphanLeft[i].Path, opts.LeftRoot, opts.RightRoot)
		appendEntry(res, Right, Entry{Side: Right, Node: ghost, Category: Deleted, Ghost: true})
	}

	for i := n; i < len(orphanRight); i++ {
		appendEntry(res, Right, Entry{Side: Right, Node: orphanRight[i], Category: Added})

		ghost := orphanRight[i].Clone()
		ghost.Path = remapPath(orphanRight[i].Path, opts.RightRoot, opts.LeftRoot)
		appendEntry(res, Left, Entry{Side: Left, Node: ghost, Category: Deleted, Ghost: true})
	}
}

// classifyMovedPair handles a left/right pair that share a content hash
// but occupy different (root-remapped) paths.
func classifyMovedPair(res *Result, l, r *memindex.Node, opts Options) {
	lp := remapPath(l.Path, opts.LeftRoot, opts.RightRoot)
	rp := r.Path

	if lp == rp {
		// Same location after remapping: not a move, nothing further to
		// report for this pair (equal hash, equal path => Unchanged).
		appendEntry(res, Left, Entry{Side: Left, Node: l, Category: Unchanged})
		appendEntry(res, Right, Entry{Side: Right, Node: r, Category: Unchanged})

		return
	}

	if !opts.UseModifyTimes {
		// Symmetric marking: both sides recorded as Moved, caller
		// arbitrates which is the true destination.
		appendEntry(res, Left, Entry{Side: Left, Node: l, Category: Moved, PrevPath: r.Path})
		appendEntry(res, Right, Entry{Side: Right, Node: r, Category: Moved, PrevPath: l.Path})

		return
	}

	if l.MTime > r.MTime {
		appendEntry(res, Left, Entry{Side: Left, Node: l, Category: Moved, PrevPath: r.Path})
	} else {
		appendEntry(res, Right, Entry{Side: Right, Node: r, Category: Moved, PrevPath: l.Path})
	}
}

// classifyUpdatedPairs handles the !ComparePaths branch: every left/right
// node sharing a hash is considered matched regardless of path, so no
// Moved/Added/Deleted distinction is drawn — they're simply Unchanged
// (equal hash implies equal content; without path comparison there is no
// further classification to do within one hash bucket).
func classifyUpdatedPairs(res *Result, lefts, rights []*memindex.Node) {
	for _, l := range lefts {
		appendEntry(res, Left, Entry{Side: Left, Node: l, Category: Unchanged})
	}

	for _, r := range rights {
		appendEntry(res, Right, Entry{Side: Right, Node: r, Category: Unchanged})
	}
}

func indexByRemappedPath(nodes []*memindex.Node, root string) map[string]*memindex.Node {
	out := make(map[string]*memindex.Node, len(nodes))
	for _, n := range nodes {
		out[remapPath(n.Path, root, "")] = n
	}

	return out
}

func sortByPath(nodes []*memindex.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
}

func appendEntry(res *Result, side Side, e Entry) {
	if side == Left {
		res.Left = append(res.Left, e)
	} else {
		res.Right = append(res.Right, e)
	}
}
