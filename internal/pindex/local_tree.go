package pindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treesync/treesync/internal/ids"
)

// ErrNotFound is returned by Get-style lookups when no row matches.
var ErrNotFound = errors.New("pindex: not found")

// UpsertDir inserts or updates a local directory row.
func (s *Store) UpsertDir(ctx context.Context, row DirRow) error {
	_, err := s.stmts.upsertDir.ExecContext(ctx,
		row.Device, row.UID, nullableUID(row.ParentUID), row.Name, row.Path,
		row.AllChildrenFetched, row.IsLive, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert dir %s: %w", row.Path, err)
	}

	return nil
}

// GetDir fetches a single local directory row by device+uid.
func (s *Store) GetDir(ctx context.Context, device ids.Device, uid ids.UID) (DirRow, error) {
	var row DirRow

	var parentUID sql.NullInt64

	err := s.stmts.getDir.QueryRowContext(ctx, device, uid).Scan(
		&row.Device, &row.UID, &parentUID, &row.Name, &row.Path,
		&row.AllChildrenFetched, &row.IsLive, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DirRow{}, ErrNotFound
	}

	if err != nil {
		return DirRow{}, fmt.Errorf("pindex: get dir: %w", err)
	}

	if parentUID.Valid {
		row.ParentUID = ids.UID(parentUID.Int64) //nolint:gosec // persisted uid always fits
	}

	return row, nil
}

// DeleteDir removes a local directory row.
func (s *Store) DeleteDir(ctx context.Context, device ids.Device, uid ids.UID) error {
	if _, err := s.stmts.deleteDir.ExecContext(ctx, device, uid); err != nil {
		return fmt.Errorf("pindex: delete dir: %w", err)
	}

	return nil
}

// ListDirChildren returns every directory whose parent is parentUID.
func (s *Store) ListDirChildren(ctx context.Context, device ids.Device, parentUID ids.UID) ([]DirRow, error) {
	rows, err := s.stmts.listDirChildren.QueryContext(ctx, device, parentUID)
	if err != nil {
		return nil, fmt.Errorf("pindex: list dir children: %w", err)
	}
	defer rows.Close()

	var out []DirRow

	for rows.Next() {
		var row DirRow

		var parentUID sql.NullInt64

		if err := rows.Scan(&row.Device, &row.UID, &parentUID, &row.Name, &row.Path,
			&row.AllChildrenFetched, &row.IsLive, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pindex: scan dir child: %w", err)
		}

		if parentUID.Valid {
			row.ParentUID = ids.UID(parentUID.Int64) //nolint:gosec // persisted uid always fits
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// MarkDirLiveness flips the is_live flag for a directory, used by the
// executor to tombstone a local directory after deleting it.
func (s *Store) MarkDirLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error {
	if _, err := s.stmts.markDirLiveness.ExecContext(ctx, live, updatedAt, device, uid); err != nil {
		return fmt.Errorf("pindex: mark dir liveness: %w", err)
	}

	return nil
}

// UpsertFile inserts or updates a local file row.
func (s *Store) UpsertFile(ctx context.Context, row FileRow) error {
	_, err := s.stmts.upsertFile.ExecContext(ctx,
		row.Device, row.UID, row.ParentUID, row.Name, row.Path, row.Size, row.MTime,
		nullableString(row.Hash), nullableString(row.HashAlgo), row.IsLive, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert file %s: %w", row.Path, err)
	}

	return nil
}

// GetFile fetches a single local file row by device+uid.
func (s *Store) GetFile(ctx context.Context, device ids.Device, uid ids.UID) (FileRow, error) {
	var (
		row            FileRow
		hash, hashAlgo sql.NullString
	)

	err := s.stmts.getFile.QueryRowContext(ctx, device, uid).Scan(
		&row.Device, &row.UID, &row.ParentUID, &row.Name, &row.Path, &row.Size, &row.MTime,
		&hash, &hashAlgo, &row.IsLive, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrNotFound
	}

	if err != nil {
		return FileRow{}, fmt.Errorf("pindex: get file: %w", err)
	}

	row.Hash = hash.String
	row.HashAlgo = hashAlgo.String

	return row, nil
}

// GetFileByPath fetches a single local file row by its normalized
// root-relative path, used by the scanner to distinguish "newly excluded
// by filter" from "never indexed".
func (s *Store) GetFileByPath(ctx context.Context, device ids.Device, path string) (FileRow, error) {
	var (
		row            FileRow
		hash, hashAlgo sql.NullString
	)

	err := s.stmts.getFileByPath.QueryRowContext(ctx, device, path).Scan(
		&row.Device, &row.UID, &row.ParentUID, &row.Name, &row.Path, &row.Size, &row.MTime,
		&hash, &hashAlgo, &row.IsLive, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrNotFound
	}

	if err != nil {
		return FileRow{}, fmt.Errorf("pindex: get file by path: %w", err)
	}

	row.Hash = hash.String
	row.HashAlgo = hashAlgo.String

	return row, nil
}

// CountLiveItems returns the number of live file rows across both trees,
// the denominator for big-delete protection.
func (s *Store) CountLiveItems(ctx context.Context) (int, error) {
	var count int
	if err := s.stmts.countLiveItems.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("pindex: count live items: %w", err)
	}

	return count, nil
}

// DeleteFile removes a local file row.
func (s *Store) DeleteFile(ctx context.Context, device ids.Device, uid ids.UID) error {
	if _, err := s.stmts.deleteFile.ExecContext(ctx, device, uid); err != nil {
		return fmt.Errorf("pindex: delete file: %w", err)
	}

	return nil
}

// ListFileChildren returns every file whose parent is parentUID.
func (s *Store) ListFileChildren(ctx context.Context, device ids.Device, parentUID ids.UID) ([]FileRow, error) {
	rows, err := s.stmts.listFileChildren.QueryContext(ctx, device, parentUID)
	if err != nil {
		return nil, fmt.Errorf("pindex: list file children: %w", err)
	}
	defer rows.Close()

	var out []FileRow

	for rows.Next() {
		var (
			row            FileRow
			hash, hashAlgo sql.NullString
		)

		if err := rows.Scan(&row.Device, &row.UID, &row.ParentUID, &row.Name, &row.Path, &row.Size, &row.MTime,
			&hash, &hashAlgo, &row.IsLive, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pindex: scan file child: %w", err)
		}

		row.Hash = hash.String
		row.HashAlgo = hashAlgo.String
		out = append(out, row)
	}

	return out, rows.Err()
}

// MarkFileLiveness flips the is_live flag for a file.
func (s *Store) MarkFileLiveness(ctx context.Context, device ids.Device, uid ids.UID, live bool, updatedAt int64) error {
	if _, err := s.stmts.markFileLiveness.ExecContext(ctx, live, updatedAt, device, uid); err != nil {
		return fmt.Errorf("pindex: mark file liveness: %w", err)
	}

	return nil
}

func nullableUID(u ids.UID) any {
	if u.IsZero() {
		return nil
	}

	return u
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
