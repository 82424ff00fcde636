// Package executor implements the Executor component: the single
// long-lived consumer of the OpGraph that materializes operations on
// local and cloud trees.
//
// Dispatch is phased: one handler per operation kind, errors classified
// into tiers, successes written back through the index. Handlers are
// keyed by (op type, source tree kind, destination tree kind) rather than
// by op type alone, since this engine moves content between two
// arbitrary trees rather than always syncing local against one remote.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/opgraph"
	"github.com/treesync/treesync/internal/pindex"
)

// TreeKind distinguishes which implementation a Target's device resolves
// to, since opgraph.Op carries no tree identity of its own.
type TreeKind string

const (
	Local TreeKind = "local"
	Cloud TreeKind = "cloud"
)

// Payload is the concrete op data the graph carries opaquely in
// opgraph.Op.Payload. Whatever builds the graph (the diff-to-ops
// translator, the CLI's apply path) is responsible for populating one of
// these per enqueued op.
type Payload struct {
	SrcKind TreeKind
	DstKind TreeKind

	// SrcPath/DstPath are local filesystem paths when the corresponding
	// Kind is Local; for Cloud they are informational only (logging), the
	// cloud side is addressed by UID through Target/Src.
	SrcPath string
	DstPath string

	// Name is the new leaf name for MV/rename ops and the name to create
	// on MKDIR/CP destinations.
	Name string

	Size int64
	Hash string
}

// ErrIdenticalFileExists is the dedicated soft error a CP implementation
// returns when the destination already holds byte-identical content;
// dispatch treats it as a no-op success rather than an error.
var ErrIdenticalFileExists = errors.New("executor: identical file already exists at destination")

// pendingExternalIDPrefix marks the placeholder external id an executor
// writeback records for a cloud node it just created, mirroring the CLI's
// own pendingUIDPrefix convention: the provider's real id for a brand-new
// node isn't known until the next cloud scan observes it, so this
// placeholder is superseded then rather than ever being load-bearing
// itself.
const pendingExternalIDPrefix = "executor-pending:"

// ErrorTier classifies a failed op for recovery purposes.
type ErrorTier int

const (
	ErrorSkip ErrorTier = iota
	ErrorRetryable
	ErrorFatal
)

func (t ErrorTier) String() string {
	switch t {
	case ErrorFatal:
		return "fatal"
	case ErrorRetryable:
		return "retryable"
	default:
		return "skip"
	}
}

// classifyError maps an error to a tier. Context cancellation always
// aborts; everything else defaults to skip so one bad op never stops the
// whole run.
func classifyError(err error) ErrorTier {
	if err == nil {
		return ErrorSkip
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorFatal
	}

	if errors.Is(err, ErrTransient) {
		return ErrorRetryable
	}

	return ErrorSkip
}

// ErrTransient is wrapped around errors callers want retried with backoff
// (rate limits, connection resets) before being classified. Handlers that
// know a failure is transient should return fmt.Errorf("...: %w",
// ErrTransient) (or join it via errors.Join) so classifyError and the
// retry wrapper both recognize it.
var ErrTransient = errors.New("executor: transient error")

// dispatchKey identifies one cell of the (op, srcKind, dstKind) dispatch
// table.
type dispatchKey struct {
	Op      opgraph.OpType
	SrcKind TreeKind
	DstKind TreeKind
}

type handlerFunc func(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error

// Registry resolves the uid an external key (a local path, a cloud
// provider ref) maps to, assigning one if this is the first time the key
// has been seen. internal/uidregistry provides the real implementation.
type Registry interface {
	UIDForExternalID(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error)
}

// LocalIndexWriter is the PersistentIndex subset the executor needs to
// write local-tree rows back after a successful op.
type LocalIndexWriter interface {
	UpsertDir(ctx context.Context, row pindex.DirRow) error
	UpsertFile(ctx context.Context, row pindex.FileRow) error
	MarkDirLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error
	MarkFileLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error
}

// CloudIndexWriter is the PersistentIndex subset the executor needs to
// write cloud-tree rows and parent edges back after a successful op.
type CloudIndexWriter interface {
	UpsertCloudDir(ctx context.Context, row pindex.DirRow) error
	UpsertCloudFile(ctx context.Context, row pindex.FileRow) error
	MarkCloudDirLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error
	MarkCloudFileLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error
	ReplaceParentEdges(ctx context.Context, device ids.Device, childUID ids.UID, edges []pindex.ParentEdge) error
}

// Executor consumes opgraph nodes one at a time and dispatches them to
// tree-specific handlers, pausable via a boolean gate.
type Executor struct {
	graph *opgraph.Graph
	local LocalTree
	cloud CloudTree

	bus    *eventbus.Bus
	logger *slog.Logger

	opTimeout time.Duration

	paused  atomic.Bool
	stopped atomic.Bool

	handlers map[dispatchKey]handlerFunc

	// registry, localIndex/localStore and cloudIndex/cloudStore are nil
	// unless wired via WithLocalWriteback/WithCloudWriteback; a nil
	// index/store simply skips the corresponding writeback, so callers
	// that only care about dispatch (most of executor_test.go) need not
	// set them up.
	registry   Registry
	localIndex *memindex.Index
	localStore LocalIndexWriter
	cloudIndex *memindex.Index
	cloudStore CloudIndexWriter

	succeeded atomic.Int64
	failed    atomic.Int64
	errsMu    stdsync.Mutex
	errs      []OpError
}

// Option configures optional Executor collaborators at construction time.
type Option func(*Executor)

// WithLocalWriteback wires the local MemoryIndex and PersistentIndex so
// successful local-tree ops are reflected in both after dispatch.
func WithLocalWriteback(index *memindex.Index, store LocalIndexWriter) Option {
	return func(e *Executor) {
		e.localIndex = index
		e.localStore = store
	}
}

// WithCloudWriteback wires the cloud MemoryIndex and PersistentIndex, plus
// the uid registry needed to resolve parent uids for cloud destinations
// that don't carry an explicit ParentTarget.
func WithCloudWriteback(index *memindex.Index, store CloudIndexWriter, registry Registry) Option {
	return func(e *Executor) {
		e.cloudIndex = index
		e.cloudStore = store
		e.registry = registry
	}
}

// WithRegistry wires the uid registry independently of cloud writeback,
// for the local-only case where parent uids for a bare local ParentTarget
// still need path-based resolution.
func WithRegistry(registry Registry) Option {
	return func(e *Executor) { e.registry = registry }
}

// OpError records one failed op for the final report.
type OpError struct {
	NodeID string
	OpType opgraph.OpType
	Err    error
	Tier   ErrorTier
}

// LocalTree is the subset of local-filesystem operations the executor
// needs; internal/localtree provides the real implementation.
type LocalTree interface {
	Mkdir(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	Move(ctx context.Context, srcPath, dstPath string) error

	// StageCopy copies srcPath into this tree's staging area and returns
	// the staged path plus the content hash computed while copying.
	StageCopy(ctx context.Context, srcPath string) (stagedPath, hash string, err error)

	// CommitStagedCopy verifies stagedHash against the source hash,
	// checks for an identical existing file at dstPath (returning
	// ErrIdenticalFileExists if so), then atomically renames into place.
	CommitStagedCopy(ctx context.Context, stagedPath, dstPath, wantHash string) error

	Hash(ctx context.Context, path string) (string, error)
}

// CloudTree is the subset of remote operations the executor needs;
// internal/clouddrive provides the real implementation.
type CloudTree interface {
	Mkdir(ctx context.Context, parentPath, name string) error
	Remove(ctx context.Context, path string) error
	Move(ctx context.Context, srcPath, dstParentPath, newName string) error

	// Download streams remote content for srcPath into the local staging
	// area and returns the staged path plus verified hash.
	Download(ctx context.Context, srcPath string) (stagedPath, hash string, err error)

	// Upload streams the local file at stagedPath to dstParentPath/name
	// and returns the file's content hash (clouddrive.Tree computes it
	// locally before sending).
	Upload(ctx context.Context, stagedPath, dstParentPath, name string) (hash string, err error)

	Hash(ctx context.Context, path string) (string, error)
}

// New constructs an Executor wired to a graph and the two tree
// implementations, with the full dispatch table pre-registered. Pass
// WithLocalWriteback/WithCloudWriteback to have successful ops reflected
// back into the MemoryIndex and PersistentIndex; without them the
// executor dispatches ops but leaves index writeback to the caller.
func New(graph *opgraph.Graph, local LocalTree, cloud CloudTree, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Executor{
		graph:     graph,
		local:     local,
		cloud:     cloud,
		bus:       bus,
		logger:    logger,
		opTimeout: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.handlers = e.buildDispatchTable()

	return e
}

func (e *Executor) buildDispatchTable() map[dispatchKey]handlerFunc {
	return map[dispatchKey]handlerFunc{
		{opgraph.OpMkdir, Local, Local}: handleMkdirLocal,
		{opgraph.OpMkdir, Cloud, Cloud}: handleMkdirCloud,

		{opgraph.OpRM, Local, Local}: handleRMLocal,
		{opgraph.OpRM, Cloud, Cloud}: handleRMCloud,

		{opgraph.OpCP, Local, Local}: handleCPLocalLocal,
		{opgraph.OpCP, Cloud, Cloud}: handleCPCloudCloud,
		{opgraph.OpCP, Local, Cloud}: handleCPLocalToCloud,
		{opgraph.OpCP, Cloud, Local}: handleCPCloudToLocal,

		{opgraph.OpMV, Local, Local}: handleMVLocal,
		{opgraph.OpMV, Cloud, Cloud}: handleMVCloud,

		// Cross-tree moves are CP-then-RM at the caller's translation
		// layer; the graph never receives a cross-tree MV node directly.

		{opgraph.OpCPOnto, Local, Local}: handleCPLocalLocal,
		{opgraph.OpCPOnto, Cloud, Cloud}: handleCPCloudCloud,
		{opgraph.OpCPOnto, Local, Cloud}: handleCPLocalToCloud,
		{opgraph.OpCPOnto, Cloud, Local}: handleCPCloudToLocal,

		{opgraph.OpMVOnto, Local, Local}: handleMVLocal,
		{opgraph.OpMVOnto, Cloud, Cloud}: handleMVCloud,

		{opgraph.OpStartDirCP, Local, Local}:  handleNoopMarker,
		{opgraph.OpStartDirCP, Cloud, Cloud}:  handleNoopMarker,
		{opgraph.OpStartDirCP, Local, Cloud}:  handleNoopMarker,
		{opgraph.OpStartDirCP, Cloud, Local}:  handleNoopMarker,
		{opgraph.OpFinishDirCP, Local, Local}: handleNoopMarker,
		{opgraph.OpFinishDirCP, Cloud, Cloud}: handleNoopMarker,
		{opgraph.OpFinishDirCP, Local, Cloud}: handleNoopMarker,
		{opgraph.OpFinishDirCP, Cloud, Local}: handleNoopMarker,
	}
}

// Pause gates the run loop; dispatch of already-popped ops completes, but
// GetNextCommand is not called again until Resume. Fires
// OpExecutionStateChanged on the bus.
func (e *Executor) Pause() {
	if !e.paused.Swap(true) {
		e.bus.Publish(eventbus.OpExecutionStateChanged, ExecutionState{Paused: true})
	}
}

// Resume clears the pause gate.
func (e *Executor) Resume() {
	if e.paused.Swap(false) {
		e.bus.Publish(eventbus.OpExecutionStateChanged, ExecutionState{Paused: false})
	}
}

// Stop requests the run loop exit after its current op.
func (e *Executor) Stop() { e.stopped.Store(true) }

// ExecutionState is the payload published on OpExecutionStateChanged.
type ExecutionState struct {
	Paused bool
}

// Run is the executor's main loop: pop the next ready node, dispatch it,
// mark it complete, repeat until ctx is cancelled or Stop is called. A
// single consumer drives dispatch entirely off the graph rather than
// fixed phases.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if e.stopped.Load() {
			return nil
		}

		if e.paused.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		node, err := e.graph.GetNextCommand(ctx)
		if err != nil {
			return err
		}

		result := e.dispatch(ctx, node)
		e.graph.MarkCompleted(node, result)

		if result.Err != nil {
			tier := classifyError(result.Err)

			e.failed.Add(1)
			e.recordError(OpError{NodeID: node.ID, OpType: node.Op.Type, Err: result.Err, Tier: tier})

			if tier == ErrorFatal {
				e.Pause()
			}

			e.bus.Publish(eventbus.ErrorOccurred, OpError{NodeID: node.ID, OpType: node.Op.Type, Err: result.Err, Tier: tier})
		} else {
			e.succeeded.Add(1)
			e.applySuccess(ctx, node)
		}
	}
}

func (e *Executor) recordError(oe OpError) {
	e.errsMu.Lock()
	defer e.errsMu.Unlock()

	e.errs = append(e.errs, oe)
}

// dispatch resolves the handler for node's (op, srcKind, dstKind) cell and
// runs it with a per-command timeout, retrying transient failures with
// bounded backoff.
func (e *Executor) dispatch(ctx context.Context, node *opgraph.Node) opgraph.Result {
	payload, ok := node.Op.Payload.(Payload)
	if !ok {
		return opgraph.Result{Err: fmt.Errorf("executor: node %s has no executor.Payload", node.ID)}
	}

	handler, ok := e.handlers[dispatchKey{node.Op.Type, payload.SrcKind, payload.DstKind}]
	if !ok {
		return opgraph.Result{Err: fmt.Errorf(
			"executor: no dispatch handler for op=%s src=%s dst=%s", node.Op.Type, payload.SrcKind, payload.DstKind)}
	}

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))

	err := retry.Do(opCtx, backoff, func(rctx context.Context) error {
		runErr := handler(rctx, e, node, payload)
		if errors.Is(runErr, ErrIdenticalFileExists) {
			return nil
		}

		if errors.Is(runErr, ErrTransient) {
			return retry.RetryableError(runErr)
		}

		return runErr
	})

	return opgraph.Result{Err: err}
}

// applySuccess reflects a successfully dispatched node back into the
// MemoryIndex and PersistentIndex for whichever tree it landed on,
// publishing the matching destination signal. A missing writer (not
// wired via WithLocalWriteback/WithCloudWriteback) is silently skipped,
// and any persistence error is logged rather than surfaced, since the op
// itself already succeeded — the next scan reconciles a writeback that
// didn't stick.
func (e *Executor) applySuccess(ctx context.Context, node *opgraph.Node) {
	payload, ok := node.Op.Payload.(Payload)
	if !ok {
		return
	}

	if node.Op.Type == opgraph.OpRM {
		e.applyRemoval(ctx, payload.SrcKind, node.Op.Target)
		return
	}

	e.applyUpsert(ctx, node, payload)
}

// applyUpsert records the destination side of a MKDIR/CP/MV success.
func (e *Executor) applyUpsert(ctx context.Context, node *opgraph.Node, payload Payload) {
	target := node.Op.Target

	parentUID, ok := e.resolveParentUID(ctx, payload.DstKind, target.Device, node.Op.ParentTarget, payload)
	if !ok {
		return
	}

	isDir := node.Op.Type == opgraph.OpMkdir

	name := payload.Name
	if name == "" {
		name = path.Base(payload.DstPath)
	}

	n := &memindex.Node{
		UID:        target.UID,
		ParentUIDs: []ids.UID{parentUID},
		Name:       name,
		IsDir:      isDir,
		IsLive:     true,
		Size:       payload.Size,
		Hash:       payload.Hash,
	}

	now := time.Now().UnixNano()

	switch payload.DstKind {
	case Local:
		e.applyLocalUpsert(ctx, n, target, parentUID, name, payload, isDir, now)
	case Cloud:
		e.applyCloudUpsert(ctx, n, target, parentUID, name, payload, isDir, now)
	}
}

func (e *Executor) applyLocalUpsert(ctx context.Context, n *memindex.Node, target opgraph.Target, parentUID ids.UID, name string, payload Payload, isDir bool, now int64) {
	if e.localIndex != nil {
		result := e.localIndex.Upsert(n)
		e.bus.Publish(eventbus.NodeUpserted, result.Node)
	}

	if e.localStore == nil {
		return
	}

	var err error

	if isDir {
		err = e.localStore.UpsertDir(ctx, pindex.DirRow{
			Device: target.Device, UID: target.UID, ParentUID: parentUID,
			Name: name, Path: payload.DstPath, IsLive: true, CreatedAt: now, UpdatedAt: now,
		})
	} else {
		err = e.localStore.UpsertFile(ctx, pindex.FileRow{
			Device: target.Device, UID: target.UID, ParentUID: parentUID,
			Name: name, Path: payload.DstPath, Size: payload.Size, Hash: payload.Hash,
			IsLive: true, CreatedAt: now, UpdatedAt: now,
		})
	}

	if err != nil {
		e.logger.Warn("executor: persist local writeback failed", "path", payload.DstPath, "error", err)
	}
}

func (e *Executor) applyCloudUpsert(ctx context.Context, n *memindex.Node, target opgraph.Target, parentUID ids.UID, name string, payload Payload, isDir bool, now int64) {
	if e.cloudIndex != nil {
		result := e.cloudIndex.Upsert(n)
		e.bus.Publish(eventbus.NodeUpserted, result.Node)
	}

	if e.cloudStore == nil {
		return
	}

	kind := "file"
	if isDir {
		kind = "dir"
	}

	edges := []pindex.ParentEdge{{Device: target.Device, ChildUID: target.UID, NodeKind: kind, ParentUID: parentUID, PathIndex: 0}}
	if err := e.cloudStore.ReplaceParentEdges(ctx, target.Device, target.UID, edges); err != nil {
		e.logger.Warn("executor: persist cloud parent edge failed", "uid", target.UID, "error", err)
	}

	var err error

	if isDir {
		err = e.cloudStore.UpsertCloudDir(ctx, pindex.DirRow{
			Device: target.Device, UID: target.UID, Name: name,
			ExternalID: pendingExternalIDPrefix + name, AllChildrenFetched: true,
			IsLive: true, CreatedAt: now, UpdatedAt: now,
		})
	} else {
		err = e.cloudStore.UpsertCloudFile(ctx, pindex.FileRow{
			Device: target.Device, UID: target.UID, Name: name,
			ExternalID: pendingExternalIDPrefix + name, Size: payload.Size, Hash: payload.Hash,
			IsLive: true, CreatedAt: now, UpdatedAt: now,
		})
	}

	if err != nil {
		e.logger.Warn("executor: persist cloud writeback failed", "uid", target.UID, "error", err)
	}
}

// applyRemoval marks a removed node not-live in the index and store for
// whichever tree it was removed from. The payload carries no dir/file
// distinction, so both the dir and file liveness writers are called;
// whichever table doesn't hold the uid simply updates zero rows.
func (e *Executor) applyRemoval(ctx context.Context, kind TreeKind, target opgraph.Target) {
	now := time.Now().UnixNano()

	var idx *memindex.Index

	switch kind {
	case Local:
		idx = e.localIndex
	case Cloud:
		idx = e.cloudIndex
	}

	if idx != nil {
		if n := idx.MarkNotLive(target.UID); n != nil {
			e.bus.Publish(eventbus.NodeRemoved, target.UID)
		}
	}

	switch kind {
	case Local:
		if e.localStore == nil {
			return
		}

		if err := e.localStore.MarkDirLiveness(ctx, target.Device, target.UID, false, now); err != nil {
			e.logger.Warn("executor: mark local dir not-live failed", "uid", target.UID, "error", err)
		}

		if err := e.localStore.MarkFileLiveness(ctx, target.Device, target.UID, false, now); err != nil {
			e.logger.Warn("executor: mark local file not-live failed", "uid", target.UID, "error", err)
		}

	case Cloud:
		if e.cloudStore == nil {
			return
		}

		if err := e.cloudStore.MarkCloudDirLiveness(ctx, target.Device, target.UID, false, now); err != nil {
			e.logger.Warn("executor: mark cloud dir not-live failed", "uid", target.UID, "error", err)
		}

		if err := e.cloudStore.MarkCloudFileLiveness(ctx, target.Device, target.UID, false, now); err != nil {
			e.logger.Warn("executor: mark cloud file not-live failed", "uid", target.UID, "error", err)
		}
	}
}

// resolveParentUID returns the uid of the destination's parent directory.
// ParentTarget is authoritative when the op carries one (MKDIR always
// does); otherwise it's derived from the payload: for Cloud, DstPath is
// already the parent's external ref (handlers pass it straight through to
// Mkdir/Upload/Move); for Local, DstPath is the destination's own full
// path, so its parent is one directory up.
func (e *Executor) resolveParentUID(ctx context.Context, kind TreeKind, device ids.Device, parentTarget *opgraph.Target, payload Payload) (ids.UID, bool) {
	if parentTarget != nil {
		return parentTarget.UID, true
	}

	if e.registry == nil {
		return ids.ZeroUID, false
	}

	externalKey := payload.DstPath

	if kind == Local {
		parentPath := path.Dir(payload.DstPath)
		if parentPath == "." {
			parentPath = ""
		}

		externalKey = parentPath
	}

	uid, err := e.registry.UIDForExternalID(ctx, device, externalKey)
	if err != nil {
		e.logger.Warn("executor: resolving parent uid failed", "kind", kind, "external_key", externalKey, "error", err)
		return ids.ZeroUID, false
	}

	return uid, true
}

// Errors returns the ops that failed during this run, for the CLI's
// non-zero exit path, aggregated via multierr.
func (e *Executor) Errors() error {
	e.errsMu.Lock()
	defer e.errsMu.Unlock()

	var combined error
	for _, oe := range e.errs {
		combined = multierr.Append(combined, fmt.Errorf("%s %s: %w", oe.OpType, oe.NodeID, oe.Err))
	}

	return combined
}

// Stats reports run totals.
type Stats struct {
	Succeeded int64
	Failed    int64
}

func (e *Executor) Stats() Stats {
	return Stats{Succeeded: e.succeeded.Load(), Failed: e.failed.Load()}
}

func handleNoopMarker(_ context.Context, _ *Executor, _ *opgraph.Node, _ Payload) error {
	return nil
}
