package pindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treesync/treesync/internal/ids"
)

// UpsertCloudDir inserts or updates a cloud directory row. Parent
// relationships are NOT stored here — see UpsertParentEdge — because a
// cloud directory may have more than one parent.
func (s *Store) UpsertCloudDir(ctx context.Context, row DirRow) error {
	_, err := s.stmts.upsertCloudDir.ExecContext(ctx,
		row.Device, row.UID, row.ExternalID, row.Name, row.AllChildrenFetched,
		row.IsLive, nullableString(row.ETag), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert cloud dir %s: %w", row.ExternalID, err)
	}

	return nil
}

// GetCloudDir fetches a single cloud directory row by device+uid.
func (s *Store) GetCloudDir(ctx context.Context, device ids.Device, uid ids.UID) (DirRow, error) {
	var (
		row  DirRow
		etag sql.NullString
	)

	err := s.stmts.getCloudDir.QueryRowContext(ctx, device, uid).Scan(
		&row.Device, &row.UID, &row.ExternalID, &row.Name, &row.AllChildrenFetched,
		&row.IsLive, &etag, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DirRow{}, ErrNotFound
	}

	if err != nil {
		return DirRow{}, fmt.Errorf("pindex: get cloud dir: %w", err)
	}

	row.ETag = etag.String

	return row, nil
}

// DeleteCloudDir removes a cloud directory row.
func (s *Store) DeleteCloudDir(ctx context.Context, device ids.Device, uid ids.UID) error {
	if _, err := s.stmts.deleteCloudDir.ExecContext(ctx, device, uid); err != nil {
		return fmt.Errorf("pindex: delete cloud dir: %w", err)
	}

	return nil
}

// MarkCloudDirLiveness flips the is_live flag for a cloud directory.
func (s *Store) MarkCloudDirLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error {
	if _, err := s.stmts.markCloudDirLiveness.ExecContext(ctx, live, updatedAt, device, uid); err != nil {
		return fmt.Errorf("pindex: mark cloud dir liveness: %w", err)
	}

	return nil
}

// ListCloudDirs returns every cloud directory row for device, used to
// rebuild a scanner's work frontier after a crash: rows not yet marked
// all_children_fetched still have children left to enumerate.
func (s *Store) ListCloudDirs(ctx context.Context, device ids.Device) ([]DirRow, error) {
	rows, err := s.stmts.listCloudDirs.QueryContext(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("pindex: list cloud dirs: %w", err)
	}
	defer rows.Close()

	var out []DirRow

	for rows.Next() {
		var (
			row  DirRow
			etag sql.NullString
		)

		if err := rows.Scan(&row.Device, &row.UID, &row.ExternalID, &row.Name,
			&row.AllChildrenFetched, &row.IsLive, &etag, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pindex: scan cloud dir: %w", err)
		}

		row.ETag = etag.String
		out = append(out, row)
	}

	return out, rows.Err()
}

// MarkCloudDirChildrenFetched records that every child of uid has been
// listed and persisted, so a resumed scan does not re-walk it.
func (s *Store) MarkCloudDirChildrenFetched(ctx context.Context, device ids.Device, uid ids.UID, updatedAt int64) error {
	if _, err := s.stmts.markCloudDirChildrenFetched.ExecContext(ctx, updatedAt, device, uid); err != nil {
		return fmt.Errorf("pindex: mark cloud dir children fetched: %w", err)
	}

	return nil
}

// UpsertCloudFile inserts or updates a cloud file row.
func (s *Store) UpsertCloudFile(ctx context.Context, row FileRow) error {
	_, err := s.stmts.upsertCloudFile.ExecContext(ctx,
		row.Device, row.UID, row.ExternalID, row.Name, row.Size, row.MTime,
		nullableString(row.Hash), nullableString(row.HashAlgo), nullableString(row.ETag),
		row.IsLive, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert cloud file %s: %w", row.ExternalID, err)
	}

	return nil
}

// GetCloudFile fetches a single cloud file row by device+uid.
func (s *Store) GetCloudFile(ctx context.Context, device ids.Device, uid ids.UID) (FileRow, error) {
	var (
		row                  FileRow
		hash, hashAlgo, etag sql.NullString
	)

	err := s.stmts.getCloudFile.QueryRowContext(ctx, device, uid).Scan(
		&row.Device, &row.UID, &row.ExternalID, &row.Name, &row.Size, &row.MTime,
		&hash, &hashAlgo, &etag, &row.IsLive, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrNotFound
	}

	if err != nil {
		return FileRow{}, fmt.Errorf("pindex: get cloud file: %w", err)
	}

	row.Hash = hash.String
	row.HashAlgo = hashAlgo.String
	row.ETag = etag.String

	return row, nil
}

// DeleteCloudFile removes a cloud file row.
func (s *Store) DeleteCloudFile(ctx context.Context, device ids.Device, uid ids.UID) error {
	if _, err := s.stmts.deleteCloudFile.ExecContext(ctx, device, uid); err != nil {
		return fmt.Errorf("pindex: delete cloud file: %w", err)
	}

	return nil
}

// MarkCloudFileLiveness flips the is_live flag for a cloud file.
func (s *Store) MarkCloudFileLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error {
	if _, err := s.stmts.markCloudFileLiveness.ExecContext(ctx, live, updatedAt, device, uid); err != nil {
		return fmt.Errorf("pindex: mark cloud file liveness: %w", err)
	}

	return nil
}

// UpsertParentEdge records or updates one (child, parent) edge in the
// cloud DAG. Cloud nodes may be linked under several parents at once
//; each edge carries its own
// path_index so callers can derive a stable GUID per path.
func (s *Store) UpsertParentEdge(ctx context.Context, edge ParentEdge) error {
	_, err := s.stmts.upsertParentEdge.ExecContext(ctx,
		edge.Device, edge.ChildUID, edge.NodeKind, edge.ParentUID, edge.PathIndex)
	if err != nil {
		return fmt.Errorf("pindex: upsert parent edge: %w", err)
	}

	return nil
}

// ReplaceParentEdges atomically replaces all parent edges for a child
// with the given set, used when a cloud rescan reports a node's current
// parent set wholesale.
func (s *Store) ReplaceParentEdges(ctx context.Context, device ids.Device, childUID ids.UID, edges []ParentEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pindex: begin replace parent edges: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	if _, err := tx.StmtContext(ctx, s.stmts.deleteParentEdgesForChild).ExecContext(ctx, device, childUID); err != nil {
		return fmt.Errorf("pindex: clear parent edges: %w", err)
	}

	for _, edge := range edges {
		if _, err := tx.StmtContext(ctx, s.stmts.upsertParentEdge).ExecContext(ctx,
			edge.Device, edge.ChildUID, edge.NodeKind, edge.ParentUID, edge.PathIndex); err != nil {
			return fmt.Errorf("pindex: insert parent edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pindex: commit replace parent edges: %w", err)
	}

	return nil
}

// ListParentsOf returns every parent edge for childUID, ordered by
// path_index.
func (s *Store) ListParentsOf(ctx context.Context, device ids.Device, childUID ids.UID) ([]ParentEdge, error) {
	return s.scanParentEdges(s.stmts.listParentsOf.QueryContext(ctx, device, childUID))
}

// ListChildrenOf returns every parent edge whose parent is parentUID.
func (s *Store) ListChildrenOf(ctx context.Context, device ids.Device, parentUID ids.UID) ([]ParentEdge, error) {
	return s.scanParentEdges(s.stmts.listChildrenOf.QueryContext(ctx, device, parentUID))
}

func (s *Store) scanParentEdges(rows *sql.Rows, queryErr error) ([]ParentEdge, error) {
	if queryErr != nil {
		return nil, fmt.Errorf("pindex: query parent edges: %w", queryErr)
	}
	defer rows.Close()

	var out []ParentEdge

	for rows.Next() {
		var e ParentEdge

		if err := rows.Scan(&e.Device, &e.ChildUID, &e.NodeKind, &e.ParentUID, &e.PathIndex); err != nil {
			return nil, fmt.Errorf("pindex: scan parent edge: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}
