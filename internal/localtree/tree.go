package localtree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/pkg/contenthash"
)

// stagingDirName names the staging directory
// (`<volume-root>/.<app-name>-staging/`), kept same-volume as the
// destination so the final commit is an atomic rename.
const stagingDirName = ".treesync-staging"

// dirPermissions is the Unix permission mode for directories this tree
// creates.
const dirPermissions = 0o755

// Tree implements executor.LocalTree against a real POSIX filesystem
// rooted at Root, using a stage-then-verify-then-rename pipeline for
// writes so a crash mid-transfer never leaves a partial file at its
// final path.
type Tree struct {
	Root     string
	HashAlgo contenthash.Algorithm
}

// NewTree returns a Tree rooted at root, using MD5 for copy verification
// unless overridden.
func NewTree(root string) *Tree {
	return &Tree{Root: root, HashAlgo: contenthash.MD5}
}

var _ executor.LocalTree = (*Tree)(nil)

func (t *Tree) abs(relPath string) string { return filepath.Join(t.Root, relPath) }

func (t *Tree) stagingDir() string { return filepath.Join(t.Root, stagingDirName) }

// StagingDir exposes this tree's staging directory so a cloud-to-local
// CP can stage its download there and commit via the same same-volume
// rename path the local-to-local path already uses.
func (t *Tree) StagingDir() string { return t.stagingDir() }

// Mkdir creates relPath (and any missing parents) under Root.
func (t *Tree) Mkdir(ctx context.Context, relPath string) error {
	if err := os.MkdirAll(t.abs(relPath), dirPermissions); err != nil {
		return fmt.Errorf("localtree: mkdir %s: %w", relPath, err)
	}

	return nil
}

// Remove deletes the file or empty directory at relPath.
func (t *Tree) Remove(ctx context.Context, relPath string) error {
	if err := os.Remove(t.abs(relPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("localtree: remove %s: %w", relPath, err)
	}

	return nil
}

// Move renames srcPath to dstPath within the tree, creating dstPath's
// parent directory if needed.
func (t *Tree) Move(ctx context.Context, srcPath, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(t.abs(dstPath)), dirPermissions); err != nil {
		return fmt.Errorf("localtree: mkdir parent for move to %s: %w", dstPath, err)
	}

	if err := os.Rename(t.abs(srcPath), t.abs(dstPath)); err != nil {
		return fmt.Errorf("localtree: move %s -> %s: %w", srcPath, dstPath, err)
	}

	return nil
}

// StageCopy copies srcPath into this tree's staging directory and returns
// the staged path plus the content hash computed while copying.
func (t *Tree) StageCopy(ctx context.Context, srcPath string) (string, string, error) {
	if err := os.MkdirAll(t.stagingDir(), dirPermissions); err != nil {
		return "", "", fmt.Errorf("localtree: mkdir staging dir: %w", err)
	}

	src, err := os.Open(t.abs(srcPath))
	if err != nil {
		return "", "", fmt.Errorf("localtree: open source %s: %w", srcPath, err)
	}
	defer src.Close()

	staged, err := os.CreateTemp(t.stagingDir(), "cp-*")
	if err != nil {
		return "", "", fmt.Errorf("localtree: create staging file: %w", err)
	}
	defer staged.Close()

	hasher, err := contenthash.Sum(io.TeeReader(src, staged), t.HashAlgo)
	if err != nil {
		_ = os.Remove(staged.Name())
		return "", "", fmt.Errorf("localtree: staging copy %s: %w", srcPath, err)
	}

	return staged.Name(), hasher, nil
}

// CommitStagedCopy verifies the staged file's hash against wantHash,
// short-circuits with ErrIdenticalFileExists if dstPath already holds
// byte-identical content, and otherwise atomically renames the staged
// file into place.
func (t *Tree) CommitStagedCopy(ctx context.Context, stagedPath, dstPath, wantHash string) error {
	defer os.Remove(stagedPath) //nolint:errcheck // best-effort cleanup; rename below may have already moved it

	stagedHash, err := contenthash.SumFile(stagedPath, t.HashAlgo)
	if err != nil {
		return fmt.Errorf("localtree: rehash staged copy: %w", err)
	}

	if wantHash != "" && stagedHash != wantHash {
		return fmt.Errorf("localtree: staged copy hash mismatch for %s: got %s want %s", dstPath, stagedHash, wantHash)
	}

	if existingHash, err := t.Hash(ctx, dstPath); err == nil && existingHash == stagedHash {
		return executor.ErrIdenticalFileExists
	}

	if err := os.MkdirAll(filepath.Dir(t.abs(dstPath)), dirPermissions); err != nil {
		return fmt.Errorf("localtree: mkdir parent for %s: %w", dstPath, err)
	}

	if err := os.Rename(stagedPath, t.abs(dstPath)); err != nil {
		return fmt.Errorf("localtree: commit staged copy to %s: %w", dstPath, err)
	}

	return nil
}

// Hash returns the content hash of relPath.
func (t *Tree) Hash(ctx context.Context, relPath string) (string, error) {
	return contenthash.SumFile(t.abs(relPath), t.HashAlgo)
}
