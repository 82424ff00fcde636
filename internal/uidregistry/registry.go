// Package uidregistry implements the UidRegistry component: a persistent,
// per-device, monotonically increasing mapping from a tree-native external
// key (a normalized local path, or a cloud provider's node ID) to the
// stable internal UID the rest of the engine uses to name that node.
package uidregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/pindex"
)

// Store is the persistence dependency a Registry needs. *pindex.Store
// satisfies it; tests may supply a fake.
type Store interface {
	NextUID(ctx context.Context, device ids.Device) (ids.UID, error)
	EnsureNextGreaterThan(ctx context.Context, device ids.Device, floor ids.UID) error
	UpsertUIDMapping(ctx context.Context, device ids.Device, externalKey string, uid ids.UID) error
	UIDForKey(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error)
	KeyForUID(ctx context.Context, device ids.Device, uid ids.UID) (string, error)
}

// Registry is the in-process façade over the persisted uid mapping. It
// caches both directions of the mapping in memory so repeated lookups
// during a scan don't round-trip to SQLite.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu        sync.Mutex
	byKey     map[registryKey]ids.UID
	byUID     map[ids.ItemKey]string
	nextUID   map[ids.Device]ids.UID
}

type registryKey struct {
	device ids.Device
	key    string
}

// New constructs a Registry backed by store.
func New(store Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		byKey:   make(map[registryKey]ids.UID),
		byUID:   make(map[ids.ItemKey]string),
		nextUID: make(map[ids.Device]ids.UID),
	}
}

// UIDForExternalID returns the UID bound to externalKey on device,
// issuing a fresh one and persisting the binding if none exists yet.
// This is the registry's core operation: every scanner call for a node
// it has not seen before routes through here.
func (r *Registry) UIDForExternalID(ctx context.Context, device ids.Device, externalKey string) (ids.UID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rk := registryKey{device: device, key: externalKey}

	if uid, ok := r.byKey[rk]; ok {
		return uid, nil
	}

	uid, err := r.store.UIDForKey(ctx, device, externalKey)
	if err == nil {
		r.cacheLocked(device, externalKey, uid)
		return uid, nil
	}

	if !errors.Is(err, pindex.ErrNotFound) {
		return ids.ZeroUID, fmt.Errorf("uidregistry: lookup %s: %w", externalKey, err)
	}

	uid, err = r.issueLocked(ctx, device)
	if err != nil {
		return ids.ZeroUID, err
	}

	if err := r.store.UpsertUIDMapping(ctx, device, externalKey, uid); err != nil {
		return ids.ZeroUID, fmt.Errorf("uidregistry: persist mapping for %s: %w", externalKey, err)
	}

	r.cacheLocked(device, externalKey, uid)

	r.logger.Debug("issued uid", "device", device.String(), "external_key", externalKey, "uid", uint64(uid))

	return uid, nil
}

// PathForUID returns the external key currently bound to uid, if any.
func (r *Registry) PathForUID(ctx context.Context, device ids.Device, uid ids.UID) (string, error) {
	r.mu.Lock()

	if key, ok := r.byUID[ids.NewItemKey(device, uid)]; ok {
		r.mu.Unlock()
		return key, nil
	}

	r.mu.Unlock()

	key, err := r.store.KeyForUID(ctx, device, uid)
	if err != nil {
		return "", fmt.Errorf("uidregistry: lookup key for uid %d: %w", uint64(uid), err)
	}

	r.mu.Lock()
	r.cacheLocked(device, key, uid)
	r.mu.Unlock()

	return key, nil
}

// SuggestUID registers a caller-proposed uid for externalKey (used when
// importing a uid that originated elsewhere, e.g. a restored backup). If
// the key is already bound, the suggestion is ignored and a warning is
// logged rather than overwriting a live binding — the registry's
// monotonicity guarantee matters more than honoring an import hint.
func (r *Registry) SuggestUID(ctx context.Context, device ids.Device, externalKey string, suggested ids.UID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[registryKey{device: device, key: externalKey}]; ok {
		if existing != suggested {
			r.logger.Warn("uidregistry: ignoring uid suggestion for already-bound key",
				"device", device.String(), "external_key", externalKey,
				"existing_uid", uint64(existing), "suggested_uid", uint64(suggested))
		}

		return nil
	}

	if _, err := r.store.UIDForKey(ctx, device, externalKey); err == nil {
		r.logger.Warn("uidregistry: ignoring uid suggestion for already-bound key",
			"device", device.String(), "external_key", externalKey, "suggested_uid", uint64(suggested))

		return nil
	}

	if err := r.store.EnsureNextGreaterThan(ctx, device, suggested); err != nil {
		return fmt.Errorf("uidregistry: reserve suggested uid: %w", err)
	}

	if err := r.store.UpsertUIDMapping(ctx, device, externalKey, suggested); err != nil {
		return fmt.Errorf("uidregistry: persist suggested mapping: %w", err)
	}

	r.cacheLocked(device, externalKey, suggested)
	delete(r.nextUID, device) // force a fresh read next issue

	return nil
}

// issueLocked allocates the next uid for device, advancing the
// persisted counter so it is never reissued. Caller must hold r.mu.
func (r *Registry) issueLocked(ctx context.Context, device ids.Device) (ids.UID, error) {
	next, ok := r.nextUID[device]
	if !ok {
		persisted, err := r.store.NextUID(ctx, device)
		if err != nil {
			return ids.ZeroUID, fmt.Errorf("uidregistry: read next uid counter: %w", err)
		}

		next = persisted
	}

	if err := r.store.EnsureNextGreaterThan(ctx, device, next); err != nil {
		return ids.ZeroUID, fmt.Errorf("uidregistry: persist next uid counter: %w", err)
	}

	r.nextUID[device] = next + 1

	return next, nil
}

func (r *Registry) cacheLocked(device ids.Device, externalKey string, uid ids.UID) {
	r.byKey[registryKey{device: device, key: externalKey}] = uid
	r.byUID[ids.NewItemKey(device, uid)] = externalKey
}
