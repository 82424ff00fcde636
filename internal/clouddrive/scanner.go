package clouddrive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
)

// State is one stage of the resumable cold-start enumeration state
// machine, persisted after every transition so a crash
// mid-scan resumes rather than starting over.
type State string

const (
	NotStarted     State = "NOT_STARTED"
	GettingRoot    State = "GETTING_ROOT"
	GettingDirs    State = "GETTING_DIRS"
	GettingFiles   State = "GETTING_FILES"
	ReadyToCompile State = "READY_TO_COMPILE"
	Complete       State = "COMPLETE"
)

// API is the subset of Client operations the scanner needs, narrowed so
// tests can supply a fake.
type API interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	ListChildren(ctx context.Context, parentID string) ([]Item, error)
}

// StateStore persists the resumable scan checkpoint, matching
// pindex.Store's DownloadState rows.
type StateStore interface {
	GetDownloadState(ctx context.Context, device ids.Device) (pindex.DownloadState, error)
	UpsertDownloadState(ctx context.Context, st pindex.DownloadState) error
}

// PersistentWriter is the subset of pindex.Store the cloud scanner writes
// through to, mirroring localtree.PersistentWriter but for the
// multi-parent cloud tables.
type PersistentWriter interface {
	UpsertCloudDir(ctx context.Context, row pindex.DirRow) error
	UpsertCloudFile(ctx context.Context, row pindex.FileRow) error
	ReplaceParentEdges(ctx context.Context, device ids.Device, childUID ids.UID, edges []pindex.ParentEdge) error

	// ListCloudDirs and MarkCloudDirChildrenFetched let a freshly
	// constructed Scanner rebuild its work frontier from what a prior,
	// possibly crashed, run already persisted rather than from in-memory
	// state that died with that run.
	ListCloudDirs(ctx context.Context, device ids.Device) ([]pindex.DirRow, error)
	MarkCloudDirChildrenFetched(ctx context.Context, device ids.Device, uid ids.UID, updatedAt int64) error
}

// Registry issues the stable per-device UID for a remote item ID.
type Registry interface {
	UIDForExternalID(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error)
}

// Scanner drives the cold-start cloud enumeration state machine: fetch
// the root, then every directory (each directory's children persisted,
// and its parent edges resolved, as soon as they're fetched, so a crash
// resumes instead of restarting), then a READY_TO_COMPILE pass marks the
// scan complete.
//
// Unlike a single-parent tree, a cloud item's parent set is already fully
// known the moment it's listed as some directory's child — ParentIDs
// comes straight off the wire item — so parent edges are resolved
// per-item in upsertItem rather than deferred to a separate pass.
type Scanner struct {
	device   ids.Device
	rootID   string
	api      API
	registry Registry
	index    *memindex.Index
	store    PersistentWriter
	states   StateStore
	logger   *slog.Logger

	dirQueue []string // directory IDs awaiting ListChildren

	// dirQueueLoaded is true once dirQueue has been seeded for this
	// Scanner instance's run, either freshly (GettingRoot) or
	// reconstructed from the store (a Scanner resuming mid-GettingDirs,
	// whose dirQueue starts out empty because the prior run's in-memory
	// queue died with it).
	dirQueueLoaded bool
}

// New constructs a cloud Scanner for device, starting enumeration at
// rootID (the cloud API's root folder identifier).
func New(device ids.Device, rootID string, api API, registry Registry, index *memindex.Index, store PersistentWriter, states StateStore, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Scanner{
		device: device, rootID: rootID, api: api, registry: registry,
		index: index, store: store, states: states, logger: logger,
	}
}

// Run drives the state machine to COMPLETE, persisting a checkpoint
// after each transition.
func (s *Scanner) Run(ctx context.Context) error {
	st, err := s.currentState(ctx)
	if err != nil {
		return err
	}

	for st.State != string(Complete) {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := s.step(ctx, State(st.State))
		if err != nil {
			return err
		}

		next.Device = s.device
		next.UpdatedAt = time.Now().UnixNano()

		if st.State == string(NotStarted) {
			next.StartedAt = next.UpdatedAt
		} else {
			next.StartedAt = st.StartedAt
		}

		if err := s.states.UpsertDownloadState(ctx, next); err != nil {
			return fmt.Errorf("clouddrive: persisting scan state: %w", err)
		}

		st = next
	}

	return nil
}

func (s *Scanner) currentState(ctx context.Context) (pindex.DownloadState, error) {
	st, err := s.states.GetDownloadState(ctx, s.device)
	if err != nil {
		return pindex.DownloadState{Device: s.device, State: string(NotStarted)}, nil //nolint:nilerr // no prior scan is the common case, not a failure
	}

	return st, nil
}

// step executes one state transition and returns the next checkpoint.
func (s *Scanner) step(ctx context.Context, current State) (pindex.DownloadState, error) {
	switch current {
	case NotStarted:
		return pindex.DownloadState{State: string(GettingRoot)}, nil

	case GettingRoot:
		root, err := s.api.GetItem(ctx, s.rootID)
		if err != nil {
			return pindex.DownloadState{}, fmt.Errorf("clouddrive: fetching root: %w", err)
		}

		if err := s.upsertItem(ctx, *root); err != nil {
			return pindex.DownloadState{}, err
		}

		s.dirQueue = []string{s.rootID}
		s.dirQueueLoaded = true

		return pindex.DownloadState{State: string(GettingDirs)}, nil

	case GettingDirs:
		return s.stepGettingDirs(ctx)

	case GettingFiles:
		return pindex.DownloadState{State: string(ReadyToCompile)}, nil

	case ReadyToCompile:
		return pindex.DownloadState{State: string(Complete)}, nil

	default:
		return pindex.DownloadState{}, fmt.Errorf("clouddrive: unknown scan state %q", current)
	}
}

// stepGettingDirs expands one queued directory per call, so a crash
// resumes at the next un-expanded directory. A freshly constructed
// Scanner that resumes mid-GETTING_DIRS starts with an empty in-memory
// dirQueue, so the first call here rebuilds it from whatever the prior
// run already persisted: every cloud_dir row not yet marked
// all_children_fetched still has work pending. UpsertCloudDir/File are
// idempotent, so re-listing a directory whose children were partially
// persisted before a crash is safe.
func (s *Scanner) stepGettingDirs(ctx context.Context) (pindex.DownloadState, error) {
	if !s.dirQueueLoaded {
		if err := s.reloadDirQueue(ctx); err != nil {
			return pindex.DownloadState{}, err
		}
	}

	if len(s.dirQueue) == 0 {
		return pindex.DownloadState{State: string(GettingFiles)}, nil
	}

	dirID := s.dirQueue[0]
	s.dirQueue = s.dirQueue[1:]

	children, err := s.api.ListChildren(ctx, dirID)
	if err != nil {
		return pindex.DownloadState{}, fmt.Errorf("clouddrive: listing children of %s: %w", dirID, err)
	}

	for _, child := range children {
		if err := s.upsertItem(ctx, child); err != nil {
			return pindex.DownloadState{}, err
		}

		if child.IsFolder {
			s.dirQueue = append(s.dirQueue, child.ID)
		}
	}

	if s.store != nil {
		dirUID, err := s.registry.UIDForExternalID(ctx, s.device, dirID)
		if err != nil {
			return pindex.DownloadState{}, fmt.Errorf("clouddrive: uid for %s: %w", dirID, err)
		}

		if err := s.store.MarkCloudDirChildrenFetched(ctx, s.device, dirUID, time.Now().UnixNano()); err != nil {
			return pindex.DownloadState{}, fmt.Errorf("clouddrive: marking %s children fetched: %w", dirID, err)
		}
	}

	if len(s.dirQueue) > 0 {
		return pindex.DownloadState{State: string(GettingDirs)}, nil
	}

	return pindex.DownloadState{State: string(GettingFiles)}, nil
}

// reloadDirQueue rebuilds the work frontier from persisted cloud_dir rows,
// used when a Scanner resumes mid-GETTING_DIRS after a crash took the
// previous run's in-memory queue with it. Rows are sorted by external ID
// so repeated resumes walk directories in a stable order.
func (s *Scanner) reloadDirQueue(ctx context.Context) error {
	s.dirQueueLoaded = true

	if s.store == nil {
		return nil
	}

	rows, err := s.store.ListCloudDirs(ctx, s.device)
	if err != nil {
		return fmt.Errorf("clouddrive: listing cloud dirs to resume scan: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ExternalID < rows[j].ExternalID })

	for _, row := range rows {
		if !row.AllChildrenFetched {
			s.dirQueue = append(s.dirQueue, row.ExternalID)
		}
	}

	return nil
}

func (s *Scanner) upsertItem(ctx context.Context, item Item) error {
	uid, err := s.registry.UIDForExternalID(ctx, s.device, item.ID)
	if err != nil {
		return fmt.Errorf("clouddrive: uid for %s: %w", item.ID, err)
	}

	parentUIDs := make([]ids.UID, 0, len(item.ParentIDs))

	for _, pid := range item.ParentIDs {
		puid, err := s.registry.UIDForExternalID(ctx, s.device, pid)
		if err != nil {
			return fmt.Errorf("clouddrive: uid for parent %s: %w", pid, err)
		}

		parentUIDs = append(parentUIDs, puid)
	}

	now := time.Now().UnixNano()

	if item.IsFolder {
		s.index.Upsert(&memindex.Node{
			UID: uid, ParentUIDs: parentUIDs, Name: item.Name, IsDir: true, IsLive: true, ETag: item.ETag,
		})

		if s.store != nil {
			if err := s.store.UpsertCloudDir(ctx, pindex.DirRow{
				Device: s.device, UID: uid, ExternalID: item.ID, Name: item.Name,
				IsLive: true, ETag: item.ETag, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("clouddrive: persist cloud dir %s: %w", item.ID, err)
			}
		}
	} else {
		s.index.Upsert(&memindex.Node{
			UID: uid, ParentUIDs: parentUIDs, Name: item.Name, IsDir: false, IsLive: true,
			Size: item.Size, MTime: item.ModifiedAt.UnixNano(), Hash: item.Hash, HashAlgo: item.HashAlgo, ETag: item.ETag,
		})

		if s.store != nil {
			if err := s.store.UpsertCloudFile(ctx, pindex.FileRow{
				Device: s.device, UID: uid, ExternalID: item.ID, Name: item.Name,
				Size: item.Size, MTime: item.ModifiedAt.UnixNano(), Hash: item.Hash, HashAlgo: item.HashAlgo,
				ETag: item.ETag, IsLive: true, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("clouddrive: persist cloud file %s: %w", item.ID, err)
			}
		}
	}

	if s.store != nil {
		kind := "file"
		if item.IsFolder {
			kind = "dir"
		}

		edges := make([]pindex.ParentEdge, 0, len(parentUIDs))

		for i, puid := range parentUIDs {
			edges = append(edges, pindex.ParentEdge{
				Device: s.device, ChildUID: uid, NodeKind: kind, ParentUID: puid, PathIndex: i,
			})
		}

		if err := s.store.ReplaceParentEdges(ctx, s.device, uid, edges); err != nil {
			return fmt.Errorf("clouddrive: replacing parent edges for %s: %w", item.ID, err)
		}
	}

	return nil
}
