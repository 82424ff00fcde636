// Package localtree implements the local half of the Scanner component
// plus the LocalTree write-side the executor consumes.
//
// NFC-normalized path tracking drives orphan detection, a `.nosync` guard
// file at the sync root refuses the whole scan, and symlink resolution is
// bounded-depth. The
// walk itself is structured as FIFO work-queue batching rather than
// one-shot recursive descent, so a long scan yields to internal/taskrunner
// instead of blocking a worker goroutine to completion.
package localtree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
	"github.com/treesync/treesync/internal/taskrunner"
	"github.com/treesync/treesync/pkg/contenthash"
)

// ErrNosyncGuard is returned when a .nosync guard file sits at the sync
// root, preventing a scan against an empty or unmounted volume from being
// mistaken for mass deletion.
var ErrNosyncGuard = errors.New("localtree: .nosync guard file found at sync root")

const nosyncFileName = ".nosync"

// defaultBatchSize is the number of work-queue items a single scan tick
// processes before yielding.
const defaultBatchSize = 5000

// defaultMaxSymlinkDepth bounds symlink chain resolution before the
// scanner gives up on an entry.
const defaultMaxSymlinkDepth = 5

// Registry is the subset of uidregistry.Registry the scanner needs: a
// stable UID per external key (here, the NFC-normalized relative path).
type Registry interface {
	UIDForExternalID(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error)
}

// PersistentWriter is the subset of pindex.Store the scanner writes
// through to, one call per entry; writes are not batched per directory.
type PersistentWriter interface {
	UpsertDir(ctx context.Context, row pindex.DirRow) error
	UpsertFile(ctx context.Context, row pindex.FileRow) error
}

// StaleRecorder is the subset of pindex.Store the scanner uses to record
// files a filter change excluded while they still exist on disk.
type StaleRecorder interface {
	GetFileByPath(ctx context.Context, device ids.Device, path string) (pindex.FileRow, error)
	RecordStaleFile(ctx context.Context, row pindex.StaleRow) error
}

type workItem struct {
	fsPath    string
	dbPath    string
	parentUID ids.UID
	isRoot    bool
}

// Scanner walks one local directory tree, issuing UIDs, hashing file
// content, and upserting every node into a MemoryIndex (and, entry by
// entry, the PersistentIndex).
type Scanner struct {
	root     string
	device   ids.Device
	registry Registry
	index    *memindex.Index
	store    PersistentWriter
	logger   *slog.Logger

	batchSize       int
	maxSymlinkDepth int
	hashAlgo        contenthash.Algorithm
	filter          *Filter
	stale           StaleRecorder

	queue   []workItem
	visited map[string]bool
	started bool
	done    bool
}

// Option configures a Scanner at construction.
type Option func(*Scanner)

// WithBatchSize overrides the default per-tick entry budget.
func WithBatchSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithHashAlgo overrides the default content-hash algorithm (MD5).
func WithHashAlgo(a contenthash.Algorithm) Option {
	return func(s *Scanner) { s.hashAlgo = a }
}

// WithFilter makes the scanner skip entries the filter cascade excludes.
func WithFilter(f *Filter) Option {
	return func(s *Scanner) { s.filter = f }
}

// WithStaleRecorder records previously-indexed files the current filter
// excludes, so a filter change surfaces them instead of silently
// orphaning them.
func WithStaleRecorder(rec StaleRecorder) Option {
	return func(s *Scanner) { s.stale = rec }
}

// New constructs a Scanner rooted at root, identified by device (the
// device every issued UID and upserted node is scoped to).
func New(root string, device ids.Device, registry Registry, index *memindex.Index, store PersistentWriter, logger *slog.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Scanner{
		root:            root,
		device:          device,
		registry:        registry,
		index:           index,
		store:           store,
		logger:          logger,
		batchSize:       defaultBatchSize,
		maxSymlinkDepth: defaultMaxSymlinkDepth,
		hashAlgo:        contenthash.MD5,
		visited:         make(map[string]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Scan drives the scanner synchronously to completion, for callers (tests,
// `treesync scan`) that don't need cooperative yielding.
func (s *Scanner) Scan(ctx context.Context) error {
	for {
		done, err := s.Tick(ctx)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}
}

// NewTask wraps the scanner in a taskrunner.Task that processes one batch
// per invocation and re-enqueues itself with the remaining queue until the
// scan completes, following a "process up to N entries then yield" rule.
func (s *Scanner) NewTask(priority taskrunner.Priority) *taskrunner.Task {
	var self func() *taskrunner.Task

	self = func() *taskrunner.Task {
		return &taskrunner.Task{
			Priority: priority,
			Label:    "localtree-scan:" + s.root,
			Run: func(ctx context.Context) (*taskrunner.Task, error) {
				done, err := s.Tick(ctx)
				if err != nil || done {
					return nil, err
				}

				return self(), nil
			},
		}
	}

	return self()
}

// Tick processes up to batchSize work-queue items and reports whether the
// scan has completed (queue drained and orphans marked).
func (s *Scanner) Tick(ctx context.Context) (done bool, err error) {
	if s.done {
		return true, nil
	}

	if !s.started {
		if err := s.checkNosyncGuard(); err != nil {
			return false, err
		}

		s.queue = []workItem{{fsPath: s.root, dbPath: "", isRoot: true}}
		s.started = true
	}

	processed := 0

	for processed < s.batchSize && len(s.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		item := s.queue[0]
		s.queue = s.queue[1:]

		n, err := s.expandDir(ctx, item)
		if err != nil {
			return false, err
		}

		processed += n
	}

	if len(s.queue) > 0 {
		return false, nil
	}

	if err := s.detectOrphans(); err != nil {
		return false, err
	}

	s.done = true

	return true, nil
}

// checkNosyncGuard refuses to scan a tree carrying the guard file at its
// root.
func (s *Scanner) checkNosyncGuard() error {
	_, err := os.Stat(filepath.Join(s.root, nosyncFileName))
	if err == nil {
		return ErrNosyncGuard
	}

	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("localtree: checking .nosync: %w", err)
	}

	return nil
}

// expandDir reads one directory's entries, upserting each as a node and
// enqueueing subdirectories for later expansion. Returns the number of
// entries processed (for batch accounting).
func (s *Scanner) expandDir(ctx context.Context, item workItem) (int, error) {
	parentUID := item.parentUID

	if item.isRoot {
		uid, err := s.registry.UIDForExternalID(ctx, s.device, "/")
		if err != nil {
			return 0, fmt.Errorf("localtree: uid for root: %w", err)
		}

		parentUID = uid
		s.visited[""] = true

		s.index.Upsert(&memindex.Node{
			UID: uid, Name: "", Path: "", IsDir: true, IsLive: true, AllChildrenFetched: false,
		})
	}

	entries, err := os.ReadDir(item.fsPath)
	if err != nil {
		s.logger.Warn("localtree: reading directory failed", "path", item.fsPath, "error", err)
		return 1, nil
	}

	count := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		if err := s.processEntry(ctx, item.fsPath, item.dbPath, parentUID, entry, 0); err != nil {
			s.logger.Warn("localtree: skipping entry", "path", filepath.Join(item.fsPath, entry.Name()), "error", err)
		}

		count++
	}

	if uid := parentUID; !uid.IsZero() {
		if n := s.index.Get(uid); n != nil {
			n.AllChildrenFetched = true
			s.index.Upsert(n)
		}
	}

	return count, nil
}

// processEntry normalizes and classifies one directory entry, resolving
// symlinks up to maxSymlinkDepth before giving up.
func (s *Scanner) processEntry(ctx context.Context, fsParent, dbParent string, parentUID ids.UID, entry os.DirEntry, depth int) error {
	originalName := entry.Name()
	normalizedName := norm.NFC.String(originalName)

	fsPath := filepath.Join(fsParent, originalName)
	dbPath := filepath.Join(dbParent, normalizedName)

	info, err := s.resolveEntry(fsPath, entry, depth)
	if err != nil {
		return err
	}

	if info == nil {
		return nil // broken or too-deep symlink; already logged
	}

	if s.filter != nil {
		if d := s.filter.Decide(dbPath, info.IsDir(), info.Size()); !d.Include {
			// Leave the path unvisited: an excluded entry that was indexed
			// by an earlier, more permissive filter gets orphan-marked
			// not-live, and the stale record preserves why.
			s.recordStaleIfIndexed(ctx, dbPath, d.Reason, info.Size(), info.IsDir())
			return nil
		}
	}

	s.visited[dbPath] = true

	uid, err := s.registry.UIDForExternalID(ctx, s.device, dbPath)
	if err != nil {
		return fmt.Errorf("uid for %s: %w", dbPath, err)
	}

	now := time.Now().UnixNano()

	if info.IsDir() {
		s.index.Upsert(&memindex.Node{
			UID: uid, ParentUIDs: []ids.UID{parentUID}, Name: normalizedName, Path: dbPath,
			IsDir: true, IsLive: true,
		})

		if s.store != nil {
			if err := s.store.UpsertDir(ctx, pindex.DirRow{
				Device: s.device, UID: uid, ParentUID: parentUID,
				Name: normalizedName, Path: dbPath, IsLive: true,
				CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("persist dir %s: %w", dbPath, err)
			}
		}

		s.queue = append(s.queue, workItem{fsPath: fsPath, dbPath: dbPath, parentUID: uid})

		return nil
	}

	hash, err := contenthash.SumFile(fsPath, s.hashAlgo)
	if err != nil {
		s.logger.Warn("localtree: hashing failed, recording null hash", "path", fsPath, "error", err)
	}

	mtime := info.ModTime().UnixNano()

	s.index.Upsert(&memindex.Node{
		UID: uid, ParentUIDs: []ids.UID{parentUID}, Name: normalizedName, Path: dbPath,
		IsDir: false, IsLive: true, Size: info.Size(), MTime: mtime,
		Hash: hash, HashAlgo: string(s.hashAlgo),
	})

	if s.store != nil {
		if err := s.store.UpsertFile(ctx, pindex.FileRow{
			Device: s.device, UID: uid, ParentUID: parentUID,
			Name: normalizedName, Path: dbPath, Size: info.Size(), MTime: mtime,
			Hash: hash, HashAlgo: string(s.hashAlgo), IsLive: true,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("persist file %s: %w", dbPath, err)
		}
	}

	return nil
}

// recordStaleIfIndexed writes a stale-file record for an excluded path,
// but only when the persistent index holds a live file row for it — a
// never-indexed exclusion is ordinary filtering, not staleness.
func (s *Scanner) recordStaleIfIndexed(ctx context.Context, dbPath, reason string, size int64, isDir bool) {
	if s.stale == nil || isDir {
		return
	}

	row, err := s.stale.GetFileByPath(ctx, s.device, dbPath)
	if err != nil || !row.IsLive {
		return
	}

	if err := s.stale.RecordStaleFile(ctx, pindex.StaleRow{
		ID:         uuid.NewString(),
		Device:     s.device,
		Path:       dbPath,
		Reason:     reason,
		Size:       size,
		DetectedAt: time.Now().UnixNano(),
	}); err != nil {
		s.logger.Warn("localtree: recording stale file failed", "path", dbPath, "error", err)
	}
}

// resolveEntry returns entry's os.FileInfo, following up to
// maxSymlinkDepth symlinks, or nil if it is broken or exceeds that depth.
func (s *Scanner) resolveEntry(fsPath string, entry os.DirEntry, depth int) (os.FileInfo, error) {
	info, err := entry.Info()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return info, nil
	}

	// Follow the chain one link at a time so its length can be bounded.
	target := fsPath
	for hops := depth; hops < s.maxSymlinkDepth; hops++ {
		link, err := os.Readlink(target)
		if err == nil && !filepath.IsAbs(link) {
			link = filepath.Join(filepath.Dir(target), link)
		}

		var next os.FileInfo
		if err == nil {
			next, err = os.Lstat(link)
		}

		if err != nil {
			s.logger.Warn("localtree: broken symlink, skipping", "path", fsPath, "error", err)
			return nil, nil
		}

		if next.Mode()&os.ModeSymlink == 0 {
			return next, nil
		}

		target = link
	}

	s.logger.Warn("localtree: symlink exceeds max depth, skipping", "path", fsPath, "depth", s.maxSymlinkDepth)
	return nil, nil
}

// detectOrphans marks any previously-live node under this root that the
// walk did not visit as not-live, using a visited-path map that is robust
// to NFC/NFD path mismatches.
func (s *Scanner) detectOrphans() error {
	for _, n := range s.index.All() {
		if !n.IsLive {
			continue
		}

		if s.visited[n.Path] {
			continue
		}

		s.index.MarkNotLive(n.UID)
	}

	return nil
}
