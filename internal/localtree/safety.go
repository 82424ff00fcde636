package localtree

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/treesync/treesync/internal/config"
)

// Safety gate error sentinels.
var (
	// ErrBigDeleteBlocked is returned when a staged batch would delete more
	// items than the configured thresholds allow. Use --force to override.
	ErrBigDeleteBlocked = errors.New("localtree: big-delete protection triggered")

	// ErrInsufficientDiskSpace is returned when materializing every staged
	// copy would leave less free space on the sync root's volume than the
	// configured minimum.
	ErrInsufficientDiskSpace = errors.New("localtree: insufficient disk space")
)

// percentMultiplier converts a count to a percentage (multiply before
// dividing to avoid integer truncation).
const percentMultiplier = 100

// tempNameSuffixes are leaf-name suffixes that mark in-progress or editor
// scratch files; a batch must never read one of these as a copy source.
var tempNameSuffixes = []string{".partial", ".tmp"}

// BatchPlan summarizes a staged operation batch for the pre-execution
// safety gate. The caller (the apply front end) computes the totals from
// the batch's ops; the gate never sees the ops themselves.
type BatchPlan struct {
	// Deletes is the number of RM operations in the batch.
	Deletes int

	// TotalItems is the number of live items currently indexed across the
	// engine's trees, the denominator for the percentage threshold.
	TotalItems int

	// LocalWriteBytes is the total size of content the batch will
	// materialize under the local sync root (copies and cross-tree moves
	// whose destination is the local device).
	LocalWriteBytes int64
}

// SafetyGate validates a BatchPlan against the configured protective
// thresholds before any destructive operation executes: big-delete
// protection and a free-disk-space floor.
type SafetyGate struct {
	cfg        config.SafetyConfig
	syncRoot   string
	logger     *slog.Logger
	statfsFunc func(path string) (uint64, error) // injectable for tests
}

// NewSafetyGate builds a gate for the given thresholds and sync root. The
// sync root names the volume the disk-space check statfs's.
func NewSafetyGate(cfg config.SafetyConfig, syncRoot string, logger *slog.Logger) *SafetyGate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &SafetyGate{
		cfg:        cfg,
		syncRoot:   syncRoot,
		logger:     logger,
		statfsFunc: getDiskSpace,
	}
}

// Check validates plan against every gate. force downgrades a big-delete
// violation to a warning; dryRun downgrades every violation to a warning.
func (g *SafetyGate) Check(plan BatchPlan, force, dryRun bool) error {
	if err := g.checkBigDelete(plan, force, dryRun); err != nil {
		return err
	}

	return g.checkDiskSpace(plan, dryRun)
}

// checkBigDelete blocks batches that would delete more items than either
// the absolute or the percentage threshold, unless the engine holds fewer
// items than the minimum that arms the check at all.
func (g *SafetyGate) checkBigDelete(plan BatchPlan, force, dryRun bool) error {
	if plan.Deletes == 0 {
		return nil
	}

	if plan.TotalItems < g.cfg.BigDeleteMinItems {
		g.logger.Debug("below min item count, big-delete check disarmed",
			"total_items", plan.TotalItems, "min_items", g.cfg.BigDeleteMinItems)

		return nil
	}

	countExceeded := plan.Deletes > g.cfg.BigDeleteThreshold

	var percentExceeded bool
	if plan.TotalItems > 0 {
		percentExceeded = (plan.Deletes*percentMultiplier)/plan.TotalItems > g.cfg.BigDeletePercentage
	}

	if !countExceeded && !percentExceeded {
		return nil
	}

	msg := fmt.Sprintf("batch deletes %d of %d items, thresholds: %d items or %d%%",
		plan.Deletes, plan.TotalItems, g.cfg.BigDeleteThreshold, g.cfg.BigDeletePercentage)

	switch {
	case force:
		g.logger.Warn("big-delete overridden via --force", "detail", msg)
		return nil
	case dryRun:
		g.logger.Warn("big-delete would block (dry-run)", "detail", msg)
		return nil
	}

	g.logger.Error("big-delete protection triggered", "detail", msg)

	return fmt.Errorf("%w: %s", ErrBigDeleteBlocked, msg)
}

// checkDiskSpace verifies that materializing every staged local write
// leaves at least min_free_space available on the sync root's volume.
func (g *SafetyGate) checkDiskSpace(plan BatchPlan, dryRun bool) error {
	if plan.LocalWriteBytes == 0 {
		return nil
	}

	minFree, err := config.ParseSize(g.cfg.MinFreeSpace)
	if err != nil {
		return fmt.Errorf("localtree: parse min_free_space %q: %w", g.cfg.MinFreeSpace, err)
	}

	if minFree == 0 {
		return nil // disabled
	}

	available, err := g.statfsFunc(g.syncRoot)
	if err != nil {
		return fmt.Errorf("localtree: disk space for %q: %w", g.syncRoot, err)
	}

	// Cap to int64 before subtracting so a huge volume can't overflow.
	availableI64 := int64(min(available, uint64(math.MaxInt64)))

	remaining := availableI64 - plan.LocalWriteBytes
	if remaining >= minFree {
		return nil
	}

	msg := fmt.Sprintf("writes need %d bytes, %d available, would leave %d (min %d required)",
		plan.LocalWriteBytes, available, remaining, minFree)

	if dryRun {
		g.logger.Warn("insufficient disk space (dry-run)", "detail", msg)
		return nil
	}

	g.logger.Error("insufficient disk space", "detail", msg)

	return fmt.Errorf("%w: %s", ErrInsufficientDiskSpace, msg)
}

// IsTempName reports whether a leaf name matches the temp/partial-file
// patterns (.partial, .tmp, ~ prefix) that must never be a copy source.
func IsTempName(name string) bool {
	lower := strings.ToLower(name)

	for _, suffix := range tempNameSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	return strings.HasPrefix(name, "~")
}
