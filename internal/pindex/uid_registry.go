package pindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/treesync/treesync/internal/ids"
)

// UpsertUIDMapping binds externalKey to uid for device, overwriting any
// prior binding for that key (the uidregistry package is responsible for
// deciding when overwriting is and isn't safe; this layer just persists).
func (s *Store) UpsertUIDMapping(ctx context.Context, device ids.Device, externalKey string, uid ids.UID) error {
	_, err := s.stmts.upsertUIDMapping.ExecContext(ctx, device, externalKey, uid, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("pindex: upsert uid mapping: %w", err)
	}

	return nil
}

// UIDForKey looks up the uid bound to externalKey, if any.
func (s *Store) UIDForKey(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error) {
	var uid ids.UID

	err := s.stmts.getUIDByKey.QueryRowContext(ctx, device, externalKey).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return ids.ZeroUID, ErrNotFound
	}

	if err != nil {
		return ids.ZeroUID, fmt.Errorf("pindex: lookup uid for key: %w", err)
	}

	return uid, nil
}

// KeyForUID looks up the external key bound to uid, if any.
func (s *Store) KeyForUID(ctx context.Context, device ids.Device, uid ids.UID) (string, error) {
	var key string

	err := s.stmts.getKeyByUID.QueryRowContext(ctx, device, uid).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("pindex: lookup key for uid: %w", err)
	}

	return key, nil
}

// NextUID returns the next unissued uid for device, or 1 if the device
// has never issued one (uids start at 1; 0 is the reserved zero value).
func (s *Store) NextUID(ctx context.Context, device ids.Device) (ids.UID, error) {
	var next ids.UID

	err := s.stmts.getNextUID.QueryRowContext(ctx, device).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return ids.UID(1), nil
	}

	if err != nil {
		return ids.ZeroUID, fmt.Errorf("pindex: read next uid: %w", err)
	}

	return next, nil
}

// EnsureNextGreaterThan persists that device's next-uid counter must
// exceed floor, issuing it only if it would otherwise stay at or below
// floor. This is how the uidregistry guarantees it never reissues a uid
// already bound in uid_registry, even after a crash between "issue uid"
// and "persist next counter".
func (s *Store) EnsureNextGreaterThan(ctx context.Context, device ids.Device, floor ids.UID) error {
	_, err := s.stmts.advanceNextUID.ExecContext(ctx, device, uint64(floor)+1)
	if err != nil {
		return fmt.Errorf("pindex: advance next uid: %w", err)
	}

	return nil
}
