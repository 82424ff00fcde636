package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/treesync/treesync/internal/diffengine"
	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/opgraph"
	"github.com/treesync/treesync/internal/uidregistry"
)

// syncSide bundles everything the translator needs about one side of a
// diff: which tree implementation it addresses, the snapshot diffengine
// classified, and enough identity to resolve a not-yet-existing
// destination node.
type syncSide struct {
	Kind   executor.TreeKind
	Device ids.Device
	Root   string // root-relative path base; unused for Cloud
	Index  *memindex.Index

	// RootUID is the UID of this side's own root node (ids.ZeroUID's
	// sibling within this device's namespace, not the cross-device
	// sentinel), the starting point for walking a relative path down
	// through Index's parent/child maps.
	RootUID ids.UID

	// RootExternalID is the cloud rootID this side was scanned from,
	// used as the parent ref for a destination file landing at
	// top level on the cloud side. Unused for Local.
	RootExternalID string
}

// pendingUIDPrefix marks the synthetic external key used to pre-allocate
// a UID for a cloud destination node that does not exist yet: its real
// provider ID is unknown until the upload completes, so the uid this
// batch assigns is purely for opgraph dependency/exclusivity bookkeeping
// and is superseded by the real mapping the next cloud scan records.
const pendingUIDPrefix = "treesync-pending:"

// entrySelection controls which diffengine categories buildOps stages.
type entrySelection struct {
	Added bool
	Moved bool
}

// buildOps translates a diffengine.Result into opgraph.Op values that
// converge dest toward source's current state. Only ADDED (content
// exists on source, missing on dest) and MOVED (content renamed on
// source relative to dest) entries are actionable; DELETED entries are
// always ghost placeholders paired with an ADDED entry elsewhere in the
// result, and UNCHANGED/IGNORED never produce an op.
//
// ADDED entries whose destination parent directory does not yet exist on
// the cloud side are skipped (diffengine classifies files only — see its
// package doc — so a missing destination directory is never itself
// surfaced as an op this translator could create first). skipped counts
// these so the caller can report them rather than silently dropping
// work.
func buildOps(
	ctx context.Context,
	registry *uidregistry.Registry,
	source, dest syncSide,
	result *diffengine.Result,
	sel entrySelection,
	moveSymmetric bool,
) ([]opgraph.Op, int, error) {
	var ops []opgraph.Op

	skipped := 0

	for _, e := range append(append([]diffengine.Entry{}, result.Left...), result.Right...) {
		switch e.Category {
		case diffengine.Added:
			if e.Ghost {
				continue
			}

			if !sel.Added {
				skipped++
				continue
			}

			op, built, err := addedCopyOp(ctx, registry, source, dest, e)
			if err != nil {
				return nil, 0, err
			}

			if !built {
				skipped++
				continue
			}

			ops = append(ops, op)

		case diffengine.Moved:
			if !sel.Moved {
				skipped++
				continue
			}

			if !moveSymmetric {
				// Asymmetric (--use-mtime) marking only tags the newer
				// side; without re-deriving both mtimes here there is no
				// safe way to tell whether e belongs to source or dest,
				// so moves are reported but never staged in that mode.
				skipped++
				continue
			}

			op, built := movedRenameOp(e, dest)
			if !built {
				skipped++
				continue
			}

			ops = append(ops, op)

		default:
			// Deleted (always ghost), Unchanged, Ignored, NA: nothing to
			// stage.
		}
	}

	return ops, skipped, nil
}

// addedCopyOp builds a CP op copying e's node from source to dest, when
// e's node actually lives on source (an ADDED entry can be tagged on
// either side depending on which side holds the content) and dest's
// parent directory can be resolved.
func addedCopyOp(
	ctx context.Context,
	registry *uidregistry.Registry,
	source, dest syncSide,
	e diffengine.Entry,
) (opgraph.Op, bool, error) {
	// e.Side tells us which physical tree (Left/Right of the diff) holds
	// the content; translate that back to source vs dest by checking
	// which side's index actually scanned this UID. An ADDED entry whose
	// content lives on dest needs no copy toward dest.
	if !sideOwnsDevice(source, e) {
		return opgraph.Op{}, false, nil
	}

	relPath, ok := nodePath(source, e.Node)
	if !ok {
		return opgraph.Op{}, false, nil
	}

	srcRef, err := source.externalRef(ctx, registry, e.Node)
	if err != nil {
		return opgraph.Op{}, false, fmt.Errorf("resolving source ref for %s: %w", relPath, err)
	}

	dstTarget, dstPayload, ok, err := dest.resolveDestination(ctx, registry, relPath)
	if err != nil {
		return opgraph.Op{}, false, fmt.Errorf("resolving destination for %s: %w", relPath, err)
	}

	if !ok {
		return opgraph.Op{}, false, nil
	}

	srcTarget := opgraph.Target{Device: source.Device, UID: e.Node.UID}

	payload := executor.Payload{
		SrcKind: source.Kind,
		DstKind: dest.Kind,
		SrcPath: srcRef,
		DstPath: dstPayload.path,
		Name:    dstPayload.name,
		Size:    e.Node.Size,
		Hash:    e.Node.Hash,
	}

	op := opgraph.Op{
		Type:    opgraph.OpCPOnto,
		Target:  dstTarget,
		Src:     &srcTarget,
		Payload: payload,
	}

	// Plain CP (not CP_ONTO) when the destination doesn't exist yet at
	// all, so the exclusivity/ordering rules treat it as a fresh write
	// rather than an overwrite-in-place.
	if dstPayload.isNew {
		op.Type = opgraph.OpCP
	}

	return op, true, nil
}

// sideOwnsDevice reports whether e's node was classified against s's
// device. diffengine.Entry carries no device field directly, but every
// node in a side's memindex.Index.All() was scanned under exactly one
// device, so looking the UID up in s.Index settles it.
func sideOwnsDevice(s syncSide, e diffengine.Entry) bool {
	if s.Index == nil {
		return false
	}

	return s.Index.Get(e.Node.UID) != nil
}

// destResolution is the destination-side detail resolveDestination
// produces: the path/ref and name fields a Payload needs, plus whether
// the destination node is brand new (drives CP vs CP_ONTO selection).
type destResolution struct {
	path  string
	name  string
	isNew bool
}

// resolveDestination finds (or provisionally allocates) the destination
// node at relPath within s. For Local, the parent directory need not be
// resolved up front — the filesystem write fails loudly if it's missing,
// same as a manual cp would. For Cloud, the parent must already be
// present in s.Index (diffengine only classifies files, so any missing
// destination directory is never itself staged — see buildOps's doc);
// when it isn't, ok is false and the caller counts this entry skipped.
func (s syncSide) resolveDestination(
	ctx context.Context, registry *uidregistry.Registry, relPath string,
) (opgraph.Target, destResolution, bool, error) {
	segments := strings.Split(relPath, "/")
	leaf := segments[len(segments)-1]
	parentSegments := segments[:len(segments)-1]

	existing := s.Index.GetByPath(relPath)
	if existing == nil && s.Kind == executor.Cloud {
		existing = resolveByPath(s.Index, s.RootUID, segments)
	}

	if existing != nil {
		uid := existing.UID
		target := opgraph.Target{Device: s.Device, UID: uid}

		if s.Kind == executor.Local {
			return target, destResolution{path: relPath, name: leaf}, true, nil
		}

		parentRef, err := s.parentRefFor(ctx, registry, parentSegments)
		if err != nil {
			return opgraph.Target{}, destResolution{}, false, err
		}

		return target, destResolution{path: parentRef, name: leaf}, true, nil
	}

	if s.Kind == executor.Local {
		uid, err := registry.UIDForExternalID(ctx, s.Device, relPath)
		if err != nil {
			return opgraph.Target{}, destResolution{}, false, err
		}

		return opgraph.Target{Device: s.Device, UID: uid}, destResolution{path: relPath, name: leaf, isNew: true}, true, nil
	}

	parentRef, err := s.parentRefFor(ctx, registry, parentSegments)
	if err != nil {
		return opgraph.Target{}, destResolution{}, false, err
	}

	if parentRef == "" {
		// Neither the root nor any intermediate segment resolved: the
		// destination directory genuinely doesn't exist yet.
		return opgraph.Target{}, destResolution{}, false, nil
	}

	uid, err := registry.UIDForExternalID(ctx, s.Device, pendingUIDPrefix+relPath)
	if err != nil {
		return opgraph.Target{}, destResolution{}, false, err
	}

	return opgraph.Target{Device: s.Device, UID: uid}, destResolution{path: parentRef, name: leaf, isNew: true}, true, nil
}

// parentRefFor resolves the external ref (provider ID) of a cloud
// directory at parentSegments, returning s.RootExternalID when
// parentSegments is empty (the file lands at the configured root).
func (s syncSide) parentRefFor(ctx context.Context, registry *uidregistry.Registry, parentSegments []string) (string, error) {
	if len(parentSegments) == 0 {
		return s.RootExternalID, nil
	}

	node := resolveByPath(s.Index, s.RootUID, parentSegments)
	if node == nil {
		return "", nil
	}

	return registry.PathForUID(ctx, s.Device, node.UID)
}

// resolveByPath walks segments down through idx's parent/child maps
// starting at rootUID, matching one name per level. It is the
// multi-parent-safe equivalent of Index.GetByPath for trees (cloud) that
// never populate the single-parent path index.
func resolveByPath(idx *memindex.Index, rootUID ids.UID, segments []string) *memindex.Node {
	cur := rootUID

	var node *memindex.Node

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		found := false

		for _, child := range idx.Children(cur) {
			if child.Name == seg {
				node = child
				cur = child.UID
				found = true

				break
			}
		}

		if !found {
			return nil
		}
	}

	return node
}

// nodePath returns node's root-relative path within s: its stored Path
// for Local (single-parent trees populate it directly), or a walk up
// node.ParentUIDs for Cloud (multi-parent trees never store Path, see
// memindex.Node's doc). ok is false if a cloud node's ancestry can't be
// walked back to s.RootUID (an inconsistent snapshot).
func nodePath(s syncSide, node *memindex.Node) (string, bool) {
	if s.Kind == executor.Local {
		return node.Path, true
	}

	var segments []string

	cur := node

	for cur.UID != s.RootUID {
		if len(cur.ParentUIDs) == 0 {
			return "", false
		}

		segments = append([]string{cur.Name}, segments...)

		parent := s.Index.Get(cur.ParentUIDs[0])
		if parent == nil {
			return "", false
		}

		cur = parent
	}

	return strings.Join(segments, "/"), true
}

// externalRef returns the string a Payload field uses to address node on
// s: its stored root-relative path for Local, its provider ID for Cloud.
func (s syncSide) externalRef(ctx context.Context, registry *uidregistry.Registry, node *memindex.Node) (string, error) {
	if s.Kind == executor.Local {
		return node.Path, nil
	}

	return registry.PathForUID(ctx, s.Device, node.UID)
}

// remapToRoot strips root from p the same way diffengine.Options does
// internally, yielding a root-relative path usable against either side.
func remapToRoot(p, root string) string {
	if root == "" {
		return p
	}

	rel := strings.TrimPrefix(p, root)
	rel = strings.TrimPrefix(rel, "/")

	return rel
}

// movedRenameOp builds an MV op on dest's tree when e is the Moved entry
// recorded on dest's own side (dest is authoritative about its current,
// stale path; e.PrevPath carries source's raw path, which is what dest
// should rename itself to match).
func movedRenameOp(e diffengine.Entry, dest syncSide) (opgraph.Op, bool) {
	if !sideOwnsDevice(dest, e) {
		return opgraph.Op{}, false
	}

	newRel := remapToRoot(e.PrevPath, dest.Root)
	oldRel := e.Node.Path

	if dest.Kind != executor.Local {
		// MOVED staging is scoped to the local destination case: a
		// cloud rename needs the new parent's provider ID resolved the
		// same way resolveDestination does, which duplicates enough
		// logic that it's deferred until a caller actually needs it.
		return opgraph.Op{}, false
	}

	target := opgraph.Target{Device: dest.Device, UID: e.Node.UID}

	op := opgraph.Op{
		Type:   opgraph.OpMV,
		Target: target,
		Payload: executor.Payload{
			SrcKind: dest.Kind,
			DstKind: dest.Kind,
			SrcPath: oldRel,
			DstPath: newRel,
			Name:    path.Base(newRel),
		},
	}

	return op, true
}
