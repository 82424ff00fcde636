package pindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treesync/treesync/internal/ids"
)

// GetDownloadState returns the resumable cloud-scan checkpoint for
// device. ErrNotFound means no scan has ever started.
func (s *Store) GetDownloadState(ctx context.Context, device ids.Device) (DownloadState, error) {
	var (
		st                     DownloadState
		pageToken, changeToken sql.NullString
	)

	err := s.stmts.getDownloadState.QueryRowContext(ctx, device).Scan(
		&st.Device, &st.State, &pageToken, &changeToken, &st.StartedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadState{}, ErrNotFound
	}

	if err != nil {
		return DownloadState{}, fmt.Errorf("pindex: get download state: %w", err)
	}

	st.PageToken = pageToken.String
	st.ChangeToken = changeToken.String

	return st, nil
}

// UpsertDownloadState persists the current scan checkpoint, so a crash
// mid-scan resumes from the last recorded state instead of starting
// over.
func (s *Store) UpsertDownloadState(ctx context.Context, st DownloadState) error {
	_, err := s.stmts.upsertDownloadState.ExecContext(ctx,
		st.Device, st.State, nullableString(st.PageToken), nullableString(st.ChangeToken),
		st.StartedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert download state: %w", err)
	}

	return nil
}
