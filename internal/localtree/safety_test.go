package localtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/config"
)

func testSafetyConfig() config.SafetyConfig {
	return config.SafetyConfig{
		BigDeleteThreshold:  10,
		BigDeletePercentage: 50,
		BigDeleteMinItems:   5,
		MinFreeSpace:        "1MB",
	}
}

func newTestGate(t *testing.T, cfg config.SafetyConfig, availableBytes uint64) *SafetyGate {
	t.Helper()

	gate := NewSafetyGate(cfg, t.TempDir(), nil)
	gate.statfsFunc = func(string) (uint64, error) { return availableBytes, nil }

	return gate
}

func TestBigDeleteBlocksOverAbsoluteThreshold(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 1<<40)

	err := gate.Check(BatchPlan{Deletes: 11, TotalItems: 1000}, false, false)
	require.ErrorIs(t, err, ErrBigDeleteBlocked)
}

func TestBigDeleteBlocksOverPercentageThreshold(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 1<<40)

	// 6 of 10 items is 60%, over the 50% threshold even though 6 < 10.
	err := gate.Check(BatchPlan{Deletes: 6, TotalItems: 10}, false, false)
	require.ErrorIs(t, err, ErrBigDeleteBlocked)
}

func TestBigDeleteAllowsUnderThresholds(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 1<<40)

	require.NoError(t, gate.Check(BatchPlan{Deletes: 5, TotalItems: 1000}, false, false))
}

func TestBigDeleteDisarmedBelowMinItems(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 1<<40)

	// 4 items total is below BigDeleteMinItems, so deleting all of them
	// passes even though it is 100%.
	require.NoError(t, gate.Check(BatchPlan{Deletes: 4, TotalItems: 4}, false, false))
}

func TestBigDeleteForceOverrides(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 1<<40)

	require.NoError(t, gate.Check(BatchPlan{Deletes: 500, TotalItems: 1000}, true, false))
}

func TestBigDeleteDryRunWarnsInsteadOfBlocking(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 1<<40)

	require.NoError(t, gate.Check(BatchPlan{Deletes: 500, TotalItems: 1000}, false, true))
}

func TestDiskSpaceBlocksWhenFloorWouldBeBreached(t *testing.T) {
	// 2 MB available, 1.5 MB of writes, 1 MB floor: would leave 0.5 MB.
	gate := newTestGate(t, testSafetyConfig(), 2_000_000)

	err := gate.Check(BatchPlan{LocalWriteBytes: 1_500_000}, false, false)
	require.ErrorIs(t, err, ErrInsufficientDiskSpace)
}

func TestDiskSpaceAllowsWhenFloorHolds(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 10_000_000)

	require.NoError(t, gate.Check(BatchPlan{LocalWriteBytes: 1_500_000}, false, false))
}

func TestDiskSpaceDisabledByZeroFloor(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MinFreeSpace = "0"

	gate := newTestGate(t, cfg, 100)

	require.NoError(t, gate.Check(BatchPlan{LocalWriteBytes: 1 << 30}, false, false))
}

func TestDiskSpaceSkippedWithNoLocalWrites(t *testing.T) {
	gate := newTestGate(t, testSafetyConfig(), 0)
	gate.statfsFunc = func(string) (uint64, error) {
		t.Fatal("statfs should not run for a write-free batch")
		return 0, nil
	}

	require.NoError(t, gate.Check(BatchPlan{Deletes: 1, TotalItems: 1000}, false, false))
}

func TestIsTempName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"report.pdf", false},
		{"download.partial", true},
		{"download.PARTIAL", true},
		{"scratch.tmp", true},
		{"~lockfile", true},
		{"tilde~inside", false},
		{"partial", false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, IsTempName(tc.name), "name %q", tc.name)
	}
}
