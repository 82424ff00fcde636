package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDevice_Normalizes(t *testing.T) {
	d := NewDevice("  LocalVolume  ")
	assert.Equal(t, "localvolume", d.String())
	assert.False(t, d.IsZero())
}

func TestNewDevice_Empty(t *testing.T) {
	assert.True(t, NewDevice("").IsZero())
	assert.True(t, NewDevice("   ").IsZero())
	assert.True(t, Device{}.IsZero())
}

func TestDevice_Equal(t *testing.T) {
	a := NewDevice("Drive1")
	b := NewDevice("drive1")
	c := NewDevice("drive2")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestDevice_ScanValue(t *testing.T) {
	d := NewDevice("cloud-account-1")

	v, err := d.Value()
	assert.NoError(t, err)
	assert.Equal(t, "cloud-account-1", v)

	var scanned Device
	assert.NoError(t, scanned.Scan("cloud-account-1"))
	assert.True(t, scanned.Equal(d))

	assert.NoError(t, scanned.Scan([]byte("other-device")))
	assert.Equal(t, "other-device", scanned.String())

	assert.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	assert.Error(t, scanned.Scan(42))
}

func TestUID_IsZero(t *testing.T) {
	assert.True(t, ZeroUID.IsZero())
	assert.True(t, UID(0).IsZero())
	assert.False(t, UID(1).IsZero())
}

func TestGUID_String(t *testing.T) {
	g := NewGUID(NewDevice("local1"), UID(42), 0)
	assert.Equal(t, "local1:42:0", g.String())
}

func TestGUID_IsZero(t *testing.T) {
	assert.True(t, GUID{}.IsZero())
	assert.False(t, NewGUID(NewDevice("local1"), UID(1), 0).IsZero())
	// A zero uid with a non-zero device is still considered zero overall
	// only when both the device and uid are zero.
	assert.False(t, NewGUID(NewDevice("local1"), ZeroUID, 0).IsZero())
}

func TestGUID_MultiParentPathIndex(t *testing.T) {
	device := NewDevice("cloud1")
	g0 := NewGUID(device, UID(7), 0)
	g1 := NewGUID(device, UID(7), 1)

	assert.NotEqual(t, g0.String(), g1.String())
	assert.Equal(t, "cloud1:7:0", g0.String())
	assert.Equal(t, "cloud1:7:1", g1.String())
}

func TestItemKey_String(t *testing.T) {
	k := NewItemKey(NewDevice("local1"), UID(9))
	assert.Equal(t, "local1:9", k.String())
}

func TestItemKey_IsZero(t *testing.T) {
	tests := []struct {
		name string
		key  ItemKey
		want bool
	}{
		{"zero value", ItemKey{}, true},
		{"only device set", ItemKey{Device: NewDevice("local1")}, false},
		{"only uid set", ItemKey{UID: UID(1)}, false},
		{"both set", NewItemKey(NewDevice("local1"), UID(1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.IsZero())
		})
	}
}

func TestItemKey_MapKey(t *testing.T) {
	key1 := NewItemKey(NewDevice("Local1"), UID(1))
	key2 := NewItemKey(NewDevice("local1"), UID(1)) // same after normalization
	key3 := NewItemKey(NewDevice("local1"), UID(2)) // different uid

	m := map[ItemKey]string{
		key1: "first",
	}

	got, ok := m[key2]
	assert.True(t, ok)
	assert.Equal(t, "first", got)

	_, ok = m[key3]
	assert.False(t, ok)
}
