package livemonitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
)

// watchErrInitBackoff/watchErrMaxBackoff bound the retry delay after a
// watcher-level error (kernel buffer overflow, etc.).
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// watchLoop is the per-root select loop: fsnotify events feed the
// debouncer, watcher errors back off exponentially, and ctx cancellation
// tears the watch down.
func (m *Monitor) watchLoop(ctx context.Context, rw *rootWatch) {
	defer close(rw.done)

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			rw.pendingMu.Lock()
			if rw.timer != nil {
				rw.timer.Stop()
			}
			rw.pendingMu.Unlock()

			return

		case ev, ok := <-rw.watcher.Events():
			if !ok {
				return
			}

			m.handleFsEvent(rw, ev)
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-rw.watcher.Errors():
			if !ok {
				return
			}

			m.logger.Warn("livemonitor: filesystem watcher error", "root", rw.root, "error", watchErr, "backoff", errBackoff)

			select {
			case <-time.After(errBackoff):
			case <-ctx.Done():
				return
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// handleFsEvent classifies one raw fsnotify event: directories get an
// immediate watch add/remove (so nested events aren't missed while
// waiting out the debounce window), and every event schedules its path
// for debounced application.
func (m *Monitor) handleFsEvent(rw *rootWatch, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if m.expect.consume(ev.Name) {
		m.logger.Debug("livemonitor: suppressing self-inflicted event", "path", ev.Name)
		return
	}

	relPath, err := filepath.Rel(rw.root, ev.Name)
	if err != nil {
		m.logger.Warn("livemonitor: computing relative path failed", "path", ev.Name, "error", err)
		return
	}

	dbPath := nfcNormalize(filepath.ToSlash(relPath))
	if dbPath == "." {
		dbPath = ""
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, statErr := os.Lstat(ev.Name); statErr == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			if addErr := rw.watcher.Add(ev.Name); addErr != nil {
				m.logger.Warn("livemonitor: failed to add watch on new directory", "path", ev.Name, "error", addErr)
			}
		}

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		_ = rw.watcher.Remove(ev.Name) // benign if already gone or never a directory
	}

	m.schedule(rw, dbPath)
}

// schedule adds dbPath to the pending set and (re)arms the quiet timer,
// coalescing bursts of events on the same or different paths into one
// apply pass per debounce window.
func (m *Monitor) schedule(rw *rootWatch, dbPath string) {
	rw.pendingMu.Lock()
	defer rw.pendingMu.Unlock()

	rw.pending[dbPath] = struct{}{}

	if rw.timer != nil {
		rw.timer.Stop()
	}

	rw.timer = time.AfterFunc(m.debounceWindow, func() { m.flush(rw) })
}

// flush applies every path accumulated since the last quiet period.
func (m *Monitor) flush(rw *rootWatch) {
	rw.pendingMu.Lock()
	paths := rw.pending
	rw.pending = make(map[string]struct{})
	rw.pendingMu.Unlock()

	ctx := context.Background()

	for dbPath := range paths {
		if err := m.apply(ctx, rw, dbPath); err != nil {
			m.logger.Warn("livemonitor: applying change failed", "path", dbPath, "error", err)
		}
	}
}

// apply re-stats dbPath under rw.root and upserts (or removes) the
// corresponding node, the same write-through shape localtree.Scanner
// uses for a cold scan, so a live watch and a scan converge on identical
// index/store state.
func (m *Monitor) apply(ctx context.Context, rw *rootWatch, dbPath string) error {
	fsPath := filepath.Join(rw.root, filepath.FromSlash(dbPath))

	uid, err := m.registry.UIDForExternalID(ctx, rw.device, uidExternalKey(dbPath))
	if err != nil {
		return fmt.Errorf("livemonitor: uid for %s: %w", dbPath, err)
	}

	info, err := os.Lstat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m.applyRemoval(rw, uid)
		}

		return fmt.Errorf("livemonitor: stat %s: %w", fsPath, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		m.logger.Debug("livemonitor: skipping symlink", "path", dbPath)
		return nil
	}

	parentDbPath := nfcNormalize(filepath.ToSlash(filepath.Dir(dbPath)))
	if parentDbPath == "." {
		parentDbPath = ""
	}

	parentUID, err := m.registry.UIDForExternalID(ctx, rw.device, uidExternalKey(parentDbPath))
	if err != nil {
		return fmt.Errorf("livemonitor: uid for parent of %s: %w", dbPath, err)
	}

	name := nfcNormalize(filepath.Base(dbPath))
	now := time.Now().UnixNano()

	if info.IsDir() {
		result := m.index.Upsert(&memindex.Node{
			UID: uid, ParentUIDs: []ids.UID{parentUID}, Name: name, Path: dbPath,
			IsDir: true, IsLive: true,
		})

		if m.store != nil {
			if err := m.store.UpsertDir(ctx, pindex.DirRow{
				Device: rw.device, UID: uid, ParentUID: parentUID, Name: name, Path: dbPath,
				IsLive: true, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("livemonitor: persist dir %s: %w", dbPath, err)
			}
		}

		m.publish(eventbus.NodeUpserted, result.Node)

		return nil
	}

	hash, err := m.hashFile(fsPath)
	if err != nil {
		m.logger.Warn("livemonitor: hashing failed, recording null hash", "path", dbPath, "error", err)
	}

	result := m.index.Upsert(&memindex.Node{
		UID: uid, ParentUIDs: []ids.UID{parentUID}, Name: name, Path: dbPath,
		IsDir: false, IsLive: true, Size: info.Size(), MTime: info.ModTime().UnixNano(), Hash: hash,
	})

	if m.store != nil {
		if err := m.store.UpsertFile(ctx, pindex.FileRow{
			Device: rw.device, UID: uid, ParentUID: parentUID, Name: name, Path: dbPath,
			Size: info.Size(), MTime: info.ModTime().UnixNano(), Hash: hash, IsLive: true,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("livemonitor: persist file %s: %w", dbPath, err)
		}
	}

	m.publish(eventbus.NodeUpserted, result.Node)

	return nil
}

func (m *Monitor) applyRemoval(rw *rootWatch, uid ids.UID) error {
	m.index.MarkNotLive(uid)
	m.publish(eventbus.NodeRemoved, uid)

	return nil
}

func (m *Monitor) publish(topic eventbus.Topic, payload any) {
	if m.bus == nil {
		return
	}

	m.bus.Publish(topic, payload)
}
