package pindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treesync/treesync/internal/ids"
)

// UpsertUploadSession persists a resumable cloud upload session's
// progress in this single index rather than a standalone session store.
func (s *Store) UpsertUploadSession(ctx context.Context, row UploadSessionRow) error {
	_, err := s.stmts.upsertUploadSession.ExecContext(ctx,
		row.Device, row.Path, row.UploadURL, row.Size, row.BytesSent,
		row.ExpiresAt, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert upload session %s: %w", row.Path, err)
	}

	return nil
}

// GetUploadSession fetches the in-flight upload session for path, if any.
func (s *Store) GetUploadSession(ctx context.Context, device ids.Device, path string) (UploadSessionRow, error) {
	var row UploadSessionRow

	err := s.stmts.getUploadSession.QueryRowContext(ctx, device, path).Scan(
		&row.Device, &row.Path, &row.UploadURL, &row.Size, &row.BytesSent,
		&row.ExpiresAt, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UploadSessionRow{}, ErrNotFound
	}

	if err != nil {
		return UploadSessionRow{}, fmt.Errorf("pindex: get upload session: %w", err)
	}

	return row, nil
}

// DeleteUploadSession removes a completed or abandoned upload session.
func (s *Store) DeleteUploadSession(ctx context.Context, device ids.Device, path string) error {
	if _, err := s.stmts.deleteUploadSession.ExecContext(ctx, device, path); err != nil {
		return fmt.Errorf("pindex: delete upload session: %w", err)
	}

	return nil
}

// ListExpiredUploadSessions returns every upload session whose
// expires_at is before nowUnix, so callers can discard sessions the
// cloud provider will no longer accept bytes against.
func (s *Store) ListExpiredUploadSessions(ctx context.Context, nowUnix int64) ([]UploadSessionRow, error) {
	rows, err := s.stmts.listExpiredUploads.QueryContext(ctx, nowUnix)
	if err != nil {
		return nil, fmt.Errorf("pindex: list expired upload sessions: %w", err)
	}
	defer rows.Close()

	var out []UploadSessionRow

	for rows.Next() {
		var row UploadSessionRow

		if err := rows.Scan(&row.Device, &row.Path, &row.UploadURL, &row.Size, &row.BytesSent,
			&row.ExpiresAt, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pindex: scan expired upload session: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}
