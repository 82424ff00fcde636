package pindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/treesync/treesync/internal/ids"
)

// ConflictRow is one recorded conflict ledger entry, keyed by an ID the
// caller derives from the left/right GUIDs so re-diffing the same pairing
// upserts rather than duplicates.
type ConflictRow struct {
	ID          string
	LeftDevice  ids.Device
	LeftUID     ids.UID
	RightDevice ids.Device
	RightUID    ids.UID
	Path        string
	Category    string
	DetectedAt  int64
	Resolved    bool
	ResolvedAt  int64
}

// UpsertConflict records or refreshes a conflict ledger entry.
func (s *Store) UpsertConflict(ctx context.Context, row ConflictRow) error {
	_, err := s.stmts.upsertConflict.ExecContext(ctx,
		row.ID, row.LeftDevice, row.LeftUID, row.RightDevice, row.RightUID,
		row.Path, row.Category, row.DetectedAt)
	if err != nil {
		return fmt.Errorf("pindex: upsert conflict %s: %w", row.ID, err)
	}

	return nil
}

// ListConflicts returns every conflict with the given resolved state,
// oldest first.
func (s *Store) ListConflicts(ctx context.Context, resolved bool) ([]ConflictRow, error) {
	rows, err := s.stmts.listConflicts.QueryContext(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("pindex: list conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRow

	for rows.Next() {
		var (
			row        ConflictRow
			resolvedAt sql.NullInt64
		)

		if err := rows.Scan(&row.ID, &row.LeftDevice, &row.LeftUID, &row.RightDevice, &row.RightUID,
			&row.Path, &row.Category, &row.DetectedAt, &row.Resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("pindex: scan conflict: %w", err)
		}

		row.ResolvedAt = resolvedAt.Int64
		out = append(out, row)
	}

	return out, rows.Err()
}

// ResolveConflict marks a conflict resolved, used by
// `treesync conflicts resolve <id>`.
func (s *Store) ResolveConflict(ctx context.Context, id string, resolvedAt int64) error {
	if _, err := s.stmts.resolveConflict.ExecContext(ctx, resolvedAt, id); err != nil {
		return fmt.Errorf("pindex: resolve conflict %s: %w", id, err)
	}

	return nil
}
