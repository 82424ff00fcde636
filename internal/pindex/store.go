// Package pindex implements the PersistentIndex component:
// durable, crash-safe storage for both tree snapshots, the uid registry,
// and in-flight transfer state, backed by SQLite.
package pindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/treesync/treesync/internal/ids"
)

// walJournalSizeLimit bounds WAL file growth between checkpoints.
const walJournalSizeLimit = 64 * 1024 * 1024

// Store is the PersistentIndex: a single SQLite database holding both the
// local and cloud tree snapshots, the uid registry, and resumable
// download/upload session state.
//
// Callers must serialize writes: the pool is capped at one open
// connection (below) so SQLite's single-writer constraint never produces
// SQLITE_BUSY under WAL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts statements
}

type statements struct {
	upsertDir, getDir, deleteDir, listDirChildren, markDirLiveness *sql.Stmt

	upsertFile, getFile, deleteFile, listFileChildren, markFileLiveness *sql.Stmt

	upsertCloudDir, getCloudDir, deleteCloudDir, markCloudDirLiveness *sql.Stmt
	listCloudDirs, markCloudDirChildrenFetched                        *sql.Stmt

	upsertCloudFile, getCloudFile, deleteCloudFile, markCloudFileLiveness *sql.Stmt

	upsertParentEdge, deleteParentEdgesForChild, listParentsOf, listChildrenOf *sql.Stmt

	upsertUIDMapping, getUIDByKey, getKeyByUID *sql.Stmt
	getNextUID, advanceNextUID                 *sql.Stmt

	getDownloadState, upsertDownloadState *sql.Stmt

	upsertUploadSession, getUploadSession, deleteUploadSession, listExpiredUploads *sql.Stmt

	upsertConflict, listConflicts, resolveConflict *sql.Stmt

	recordStaleFile, listStaleFiles, removeStaleFile *sql.Stmt
	getFileByPath, countLiveItems                    *sql.Stmt
}

// Open creates or opens the PersistentIndex database at dbPath ("file:..."
// DSNs and ":memory:" both work), applies pending migrations, and
// prepares all statements.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening persistent index", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("pindex: open sqlite: %w", err)
	}

	// SQLite allows exactly one writer; capping the pool avoids
	// SQLITE_BUSY retries under concurrent access from multiple
	// goroutines.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pindex: prepare statements: %w", err)
	}

	logger.Info("persistent index ready", "path", dbPath)

	return s, nil
}

// Close releases the database handle and all prepared statements.
func (s *Store) Close() error {
	return s.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("pindex: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	prep := func(query string) (*sql.Stmt, error) {
		stmt, err := s.db.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("preparing %q: %w", query, err)
		}

		return stmt, nil
	}

	type target struct {
		dst **sql.Stmt
		sql string
	}

	targets := []target{
		{&s.stmts.upsertDir, sqlUpsertDir},
		{&s.stmts.getDir, sqlGetDir},
		{&s.stmts.deleteDir, sqlDeleteDir},
		{&s.stmts.listDirChildren, sqlListDirChildren},
		{&s.stmts.markDirLiveness, sqlMarkDirLiveness},

		{&s.stmts.upsertFile, sqlUpsertFile},
		{&s.stmts.getFile, sqlGetFile},
		{&s.stmts.deleteFile, sqlDeleteFile},
		{&s.stmts.listFileChildren, sqlListFileChildren},
		{&s.stmts.markFileLiveness, sqlMarkFileLiveness},

		{&s.stmts.upsertCloudDir, sqlUpsertCloudDir},
		{&s.stmts.getCloudDir, sqlGetCloudDir},
		{&s.stmts.deleteCloudDir, sqlDeleteCloudDir},
		{&s.stmts.markCloudDirLiveness, sqlMarkCloudDirLiveness},
		{&s.stmts.listCloudDirs, sqlListCloudDirs},
		{&s.stmts.markCloudDirChildrenFetched, sqlMarkCloudDirChildrenFetched},

		{&s.stmts.upsertCloudFile, sqlUpsertCloudFile},
		{&s.stmts.getCloudFile, sqlGetCloudFile},
		{&s.stmts.deleteCloudFile, sqlDeleteCloudFile},
		{&s.stmts.markCloudFileLiveness, sqlMarkCloudFileLiveness},

		{&s.stmts.upsertParentEdge, sqlUpsertParentEdge},
		{&s.stmts.deleteParentEdgesForChild, sqlDeleteParentEdgesForChild},
		{&s.stmts.listParentsOf, sqlListParentsOf},
		{&s.stmts.listChildrenOf, sqlListChildrenOf},

		{&s.stmts.upsertUIDMapping, sqlUpsertUIDMapping},
		{&s.stmts.getUIDByKey, sqlGetUIDByKey},
		{&s.stmts.getKeyByUID, sqlGetKeyByUID},
		{&s.stmts.getNextUID, sqlGetNextUID},
		{&s.stmts.advanceNextUID, sqlAdvanceNextUID},

		{&s.stmts.getDownloadState, sqlGetDownloadState},
		{&s.stmts.upsertDownloadState, sqlUpsertDownloadState},

		{&s.stmts.upsertUploadSession, sqlUpsertUploadSession},
		{&s.stmts.getUploadSession, sqlGetUploadSession},
		{&s.stmts.deleteUploadSession, sqlDeleteUploadSession},
		{&s.stmts.listExpiredUploads, sqlListExpiredUploads},

		{&s.stmts.upsertConflict, sqlUpsertConflict},
		{&s.stmts.listConflicts, sqlListConflicts},
		{&s.stmts.resolveConflict, sqlResolveConflict},

		{&s.stmts.recordStaleFile, sqlRecordStaleFile},
		{&s.stmts.listStaleFiles, sqlListStaleFiles},
		{&s.stmts.removeStaleFile, sqlRemoveStaleFile},
		{&s.stmts.getFileByPath, sqlGetFileByPath},
		{&s.stmts.countLiveItems, sqlCountLiveItems},
	}

	for _, t := range targets {
		stmt, err := prep(t.sql)
		if err != nil {
			return err
		}

		*t.dst = stmt
	}

	return nil
}

// Checkpoint forces a WAL checkpoint, truncating the journal. Callers
// invoke this after a large batch of writes (e.g. at the end of a scan).
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("pindex: checkpoint: %w", err)
	}

	return nil
}

// DirRow is a PersistentIndex row for a directory node on either tree.
type DirRow struct {
	Device             ids.Device
	UID                ids.UID
	ParentUID          ids.UID // zero for the root
	Name               string
	Path               string // local tree only; empty for cloud rows
	ExternalID         string // cloud tree only; empty for local rows
	AllChildrenFetched bool
	IsLive             bool
	ETag               string
	CreatedAt          int64
	UpdatedAt          int64
}

// FileRow is a PersistentIndex row for a file node on either tree.
type FileRow struct {
	Device     ids.Device
	UID        ids.UID
	ParentUID  ids.UID
	Name       string
	Path       string
	ExternalID string
	Size       int64
	MTime      int64
	Hash       string
	HashAlgo   string
	ETag       string
	IsLive     bool
	CreatedAt  int64
	UpdatedAt  int64
}

// ParentEdge is one (child, parent) edge in the cloud tree's DAG.
type ParentEdge struct {
	Device    ids.Device
	ChildUID  ids.UID
	NodeKind  string // "file" or "dir"
	ParentUID ids.UID
	PathIndex int
}

// DownloadState is the resumable cloud-scan checkpoint for a device.
type DownloadState struct {
	Device      ids.Device
	State       string
	PageToken   string
	ChangeToken string
	StartedAt   int64
	UpdatedAt   int64
}

// UploadSessionRow is a resumable cloud upload session.
type UploadSessionRow struct {
	Device     ids.Device
	Path       string
	UploadURL  string
	Size       int64
	BytesSent  int64
	ExpiresAt  int64
	CreatedAt  int64
	UpdatedAt  int64
}
