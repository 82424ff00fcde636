package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/opgraph"
)

// storedTarget is opgraph.Target's on-disk form: ids.Device has no
// exported fields, so it can't round-trip through encoding/json directly.
type storedTarget struct {
	Device string `json:"device"`
	UID    uint64 `json:"uid"`
}

func toStoredTarget(t opgraph.Target) storedTarget {
	return storedTarget{Device: t.Device.String(), UID: uint64(t.UID)}
}

func (s storedTarget) target() opgraph.Target {
	return opgraph.Target{Device: ids.NewDevice(s.Device), UID: ids.UID(s.UID)}
}

// storedOp is opgraph.Op's on-disk form, with Payload narrowed from `any`
// to the one concrete type this CLI ever stages (executor.Payload).
type storedOp struct {
	Type         opgraph.OpType   `json:"type"`
	Target       storedTarget     `json:"target"`
	Src          *storedTarget    `json:"src,omitempty"`
	ParentTarget *storedTarget    `json:"parent_target,omitempty"`
	Payload      executor.Payload `json:"payload"`
}

func toStoredOp(op opgraph.Op) storedOp {
	s := storedOp{
		Type:    op.Type,
		Target:  toStoredTarget(op.Target),
		Payload: op.Payload.(executor.Payload),
	}

	if op.Src != nil {
		t := toStoredTarget(*op.Src)
		s.Src = &t
	}

	if op.ParentTarget != nil {
		t := toStoredTarget(*op.ParentTarget)
		s.ParentTarget = &t
	}

	return s
}

func (s storedOp) op() opgraph.Op {
	op := opgraph.Op{
		Type:    s.Type,
		Target:  s.Target.target(),
		Payload: s.Payload,
	}

	if s.Src != nil {
		t := s.Src.target()
		op.Src = &t
	}

	if s.ParentTarget != nil {
		t := s.ParentTarget.target()
		op.ParentTarget = &t
	}

	return op
}

// storedBatch is a diff's staged selection, persisted by `treesync diff
// --select` and consumed by `treesync apply`.
type storedBatch struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Profile   string     `json:"profile"`
	Label     string     `json:"label"`
	Skipped   int        `json:"skipped"`
	Ops       []storedOp `json:"ops"`
}

// batchDir returns the directory staged batches for profile are kept in,
// creating it if necessary.
func batchDir(profile string) (string, error) {
	cacheDir := config.DefaultCacheDir()
	if cacheDir == "" {
		return "", fmt.Errorf("could not determine cache directory")
	}

	dir := filepath.Join(cacheDir, "batches", profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating batch directory: %w", err)
	}

	return dir, nil
}

// saveBatch writes ops to a new batch file and returns its ID.
func saveBatch(profile, label string, ops []opgraph.Op, skipped int) (string, error) {
	dir, err := batchDir(profile)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	stored := storedBatch{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Profile:   profile,
		Label:     label,
		Skipped:   skipped,
		Ops:       make([]storedOp, len(ops)),
	}

	for i, op := range ops {
		stored.Ops[i] = toStoredOp(op)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding batch: %w", err)
	}

	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing batch: %w", err)
	}

	return id, nil
}

// loadBatch reads a previously staged batch by ID.
func loadBatch(profile, id string) (storedBatch, error) {
	dir, err := batchDir(profile)
	if err != nil {
		return storedBatch{}, err
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		return storedBatch{}, fmt.Errorf("reading batch %s: %w", id, err)
	}

	var stored storedBatch
	if err := json.Unmarshal(data, &stored); err != nil {
		return storedBatch{}, fmt.Errorf("decoding batch %s: %w", id, err)
	}

	return stored, nil
}

// deleteBatch removes a staged batch file after it has been applied.
func deleteBatch(profile, id string) error {
	dir, err := batchDir(profile)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing batch %s: %w", id, err)
	}

	return nil
}

// listPendingBatches returns the IDs of every batch staged but not yet
// applied for rp's profile, oldest first.
func listPendingBatches(rp *config.ResolvedProfile) ([]string, error) {
	dir, err := batchDir(rp.Name)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing batch directory: %w", err)
	}

	type entry struct {
		id      string
		modTime time.Time
	}

	var found []entry

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		found = append(found, entry{id: name[:len(name)-len(".json")], modTime: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime.Before(found[j].modTime) })

	ids := make([]string, len(found))
	for i, e := range found {
		ids[i] = e.id
	}

	return ids, nil
}
