package pindex

import (
	"context"
	"fmt"

	"github.com/treesync/treesync/internal/ids"
)

// StaleRow is one filter-excluded-but-still-present file: the scanner
// records it when a path it previously indexed is skipped by the current
// filter configuration.
type StaleRow struct {
	ID         string
	Device     ids.Device
	Path       string
	Reason     string
	Size       int64
	DetectedAt int64
}

// RecordStaleFile inserts or refreshes a stale-file record. A repeat
// observation of the same (device, path) keeps the original ID and
// updates the reason, size, and detection time.
func (s *Store) RecordStaleFile(ctx context.Context, row StaleRow) error {
	s.logger.Info("recording stale file", "path", row.Path, "reason", row.Reason)

	_, err := s.stmts.recordStaleFile.ExecContext(ctx,
		row.ID, row.Device, row.Path, row.Reason, row.Size, row.DetectedAt)
	if err != nil {
		return fmt.Errorf("pindex: record stale file %s: %w", row.Path, err)
	}

	return nil
}

// ListStaleFiles returns every stale-file record, oldest first.
func (s *Store) ListStaleFiles(ctx context.Context) ([]StaleRow, error) {
	rows, err := s.stmts.listStaleFiles.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("pindex: list stale files: %w", err)
	}
	defer rows.Close()

	var out []StaleRow

	for rows.Next() {
		var row StaleRow

		if err := rows.Scan(&row.ID, &row.Device, &row.Path, &row.Reason, &row.Size, &row.DetectedAt); err != nil {
			return nil, fmt.Errorf("pindex: scan stale file: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// RemoveStaleFile deletes a stale-file record by ID. Only tests call it;
// no engine code removes stale-file records.
func (s *Store) RemoveStaleFile(ctx context.Context, id string) error {
	if _, err := s.stmts.removeStaleFile.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("pindex: remove stale file %s: %w", id, err)
	}

	return nil
}
