// Package livemonitor implements the LiveMonitor component: a long-lived
// watch over a local filesystem root, converging on the same
// MemoryIndex/event-bus application path a cold Scanner uses. The cloud
// side's change-token poller is clouddrive.ChangePoller, not this package.
//
// fsnotify drives watch-add-on-create and watch-remove-on-delete, with an
// event/error select loop feeding a debounced path-coalescing
// apply step that writes straight into a memindex.Index the way
// localtree.Scanner does. An explicit PreRegisterMove/ExpectRename API
// lets the executor suppress the watch events a move it issued itself
// would otherwise generate.
package livemonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/localtree"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/pkg/contenthash"
)

// ErrNosyncGuard is returned when a .nosync guard file sits at the
// watched root, the same safety rationale as localtree.Scanner.
var ErrNosyncGuard = errors.New("livemonitor: .nosync guard file present at watch root")

const nosyncFileName = ".nosync"

// defaultDebounceWindow is the quiet period LiveMonitor waits after the
// last event on a path before applying it, coalescing bursts of
// create/write/rename events.
const defaultDebounceWindow = 500 * time.Millisecond

// rootExternalKey is the uidregistry external key for a tree's root
// node, matching localtree.Scanner's "/" sentinel (every other node
// uses its relative path as its external key).
const rootExternalKey = "/"

// FsWatcher abstracts filesystem event monitoring so tests can inject a
// fake; satisfied by *fsnotify.Watcher via fsWatcherAdapter.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsWatcherAdapter struct{ w *fsnotify.Watcher }

func (a *fsWatcherAdapter) Add(name string) error         { return a.w.Add(name) }
func (a *fsWatcherAdapter) Remove(name string) error      { return a.w.Remove(name) }
func (a *fsWatcherAdapter) Close() error                  { return a.w.Close() }
func (a *fsWatcherAdapter) Events() <-chan fsnotify.Event { return a.w.Events }
func (a *fsWatcherAdapter) Errors() <-chan error          { return a.w.Errors }

func newFsWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsWatcherAdapter{w: w}, nil
}

// Monitor drives zero or more local root watches, each refcounted so
// several callers watching the same root share one fsnotify.Watcher, and
// applies every observed change to a MemoryIndex (writing through to a
// PersistentIndex), publishing NodeUpserted/NodeRemoved on an
// eventbus.Bus exactly like a Scanner does.
type Monitor struct {
	registry localtree.Registry
	index    *memindex.Index
	store    localtree.PersistentWriter
	bus      *eventbus.Bus
	logger   *slog.Logger

	debounceWindow time.Duration
	watcherFactory func() (FsWatcher, error)

	mu     sync.Mutex
	roots  map[string]*rootWatch // keyed by cleaned root path
	expect expectedMoves
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithDebounceWindow overrides the default 500ms quiet period.
func WithDebounceWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounceWindow = d
		}
	}
}

// New constructs a Monitor. bus may be nil, in which case publications
// are simply dropped (useful for tests that only assert index state).
func New(registry localtree.Registry, index *memindex.Index, store localtree.PersistentWriter, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Monitor{
		registry:       registry,
		index:          index,
		store:          store,
		bus:            bus,
		logger:         logger,
		debounceWindow: defaultDebounceWindow,
		watcherFactory: newFsWatcher,
		roots:          make(map[string]*rootWatch),
		expect:         newExpectedMoves(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// rootWatch is the shared state for every caller watching the same root.
type rootWatch struct {
	root     string
	device   ids.Device
	watcher  FsWatcher
	refCount int
	cancel   context.CancelFunc
	done     chan struct{}

	pendingMu sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer
}

// Watch starts (or joins) a watch over root for device, returning a
// release function the caller must invoke exactly once when done. The
// underlying fsnotify.Watcher is closed once the last caller releases.
func (m *Monitor) Watch(ctx context.Context, device ids.Device, root string) (func(), error) {
	root = filepath.Clean(root)

	m.mu.Lock()

	if rw, ok := m.roots[root]; ok {
		rw.refCount++
		m.mu.Unlock()

		return m.releaseFunc(root), nil
	}

	if _, err := os.Stat(filepath.Join(root, nosyncFileName)); err == nil {
		m.mu.Unlock()
		return nil, ErrNosyncGuard
	}

	watcher, err := m.watcherFactory()
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("livemonitor: creating filesystem watcher: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)

	rw := &rootWatch{
		root: root, device: device, watcher: watcher, refCount: 1,
		cancel: cancel, done: make(chan struct{}), pending: make(map[string]struct{}),
	}

	m.roots[root] = rw
	m.mu.Unlock()

	if err := m.addWatchesRecursive(watcher, root); err != nil {
		cancel()
		watcher.Close()

		m.mu.Lock()
		delete(m.roots, root)
		m.mu.Unlock()

		return nil, fmt.Errorf("livemonitor: adding initial watches under %s: %w", root, err)
	}

	go m.watchLoop(watchCtx, rw)

	return m.releaseFunc(root), nil
}

func (m *Monitor) releaseFunc(root string) func() {
	return func() {
		m.mu.Lock()
		rw, ok := m.roots[root]
		if !ok {
			m.mu.Unlock()
			return
		}

		rw.refCount--
		if rw.refCount > 0 {
			m.mu.Unlock()
			return
		}

		delete(m.roots, root)
		m.mu.Unlock()

		rw.cancel()
		<-rw.done
		rw.watcher.Close()
	}
}

func (m *Monitor) addWatchesRecursive(watcher FsWatcher, root string) error {
	return filepath.WalkDir(root, func(fsPath string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			m.logger.Warn("livemonitor: walk error during watch setup", "path", fsPath, "error", walkErr)
			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		if addErr := watcher.Add(fsPath); addErr != nil {
			m.logger.Warn("livemonitor: failed to add watch", "path", fsPath, "error", addErr)
		}

		return nil
	})
}

func skipEntry(d os.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}

func nfcNormalize(s string) string { return norm.NFC.String(s) }

// uidExternalKey maps a tree-relative path to the external key the
// uidregistry was issued under, matching localtree.Scanner's root
// sentinel.
func uidExternalKey(dbPath string) string {
	if dbPath == "" {
		return rootExternalKey
	}

	return dbPath
}

func (m *Monitor) hashFile(fsPath string) (string, error) {
	return contenthash.SumFile(fsPath, contenthash.MD5)
}
