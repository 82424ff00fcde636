// Package ids provides the type-safe identity values the core engine uses
// to name trees, nodes, and globally stable references.
//
// Three types cover the engine's identity needs:
//   - Device: a normalized tree namespace identifier (a local volume or a
//     cloud account)
//   - UID: a monotonic per-device node identifier issued by the uidregistry
//   - GUID: a globally stable "device:uid:pathIndex" reference
//
// This is a leaf package with zero external dependencies beyond stdlib.
package ids

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Device identifies a tree namespace: a local volume or a cloud account.
// The zero value represents an absent/unknown device.
type Device struct {
	value string
}

// NewDevice normalizes a raw device identifier (lowercased, trimmed).
// Empty input returns the zero Device.
func NewDevice(raw string) Device {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Device{}
	}

	return Device{value: strings.ToLower(raw)}
}

// String returns the normalized device string.
func (d Device) String() string { return d.value }

// IsZero reports whether this is the zero-value Device.
func (d Device) IsZero() bool { return d.value == "" }

// Equal reports whether two devices are identical.
func (d Device) Equal(other Device) bool { return d.value == other.value }

// Value implements driver.Valuer for direct use as a SQLite column.
func (d Device) Value() (driver.Value, error) { return d.value, nil }

// Scan implements sql.Scanner.
func (d *Device) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Device{}
	case string:
		*d = Device{value: v}
	case []byte:
		*d = Device{value: string(v)}
	default:
		return fmt.Errorf("ids: cannot scan %T into Device", src)
	}

	return nil
}

// UID is a monotonic 64-bit identifier assigned by the uidregistry, unique
// within a single Device.
type UID uint64

// ZeroUID is the sentinel value for "no uid assigned".
const ZeroUID UID = 0

// IsZero reports whether this is the unassigned UID.
func (u UID) IsZero() bool { return u == ZeroUID }

// GUID is the globally unique identifier derived from device, uid, and a
// path index. Local nodes always use path index 0 (they have exactly one
// path); cloud nodes with multiple parents get one GUID per path.
type GUID struct {
	Device    Device
	UID       UID
	PathIndex int
}

// NewGUID constructs a GUID for the given device/uid/path-index triple.
func NewGUID(device Device, uid UID, pathIndex int) GUID {
	return GUID{Device: device, UID: uid, PathIndex: pathIndex}
}

// String renders "device:uid:pathIndex", the canonical external form.
func (g GUID) String() string {
	return g.Device.String() + ":" + strconv.FormatUint(uint64(g.UID), 10) + ":" + strconv.Itoa(g.PathIndex)
}

// IsZero reports whether this is the zero-value GUID.
func (g GUID) IsZero() bool { return g.Device.IsZero() && g.UID.IsZero() }

// ItemKey is a composite (Device, UID) pair used as a map key throughout
// the memory and persistent indices. Comparable: both fields are
// comparable, so ItemKey supports == and map keying directly.
type ItemKey struct {
	Device Device
	UID    UID
}

// NewItemKey creates an ItemKey from a device and uid.
func NewItemKey(device Device, uid UID) ItemKey {
	return ItemKey{Device: device, UID: uid}
}

// String returns the "device:uid" representation, for logging.
func (k ItemKey) String() string {
	return k.Device.String() + ":" + strconv.FormatUint(uint64(k.UID), 10)
}

// IsZero reports whether both components are zero/absent.
func (k ItemKey) IsZero() bool { return k.Device.IsZero() && k.UID.IsZero() }
