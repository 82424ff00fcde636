package localtree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/executor"
)

func TestMkdirCreatesNestedDirs(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)

	require.NoError(t, tree.Mkdir(context.Background(), filepath.Join("a", "b", "c")))

	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRemoveIsIdempotent(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))
	require.NoError(t, tree.Remove(context.Background(), "f.txt"))
	require.NoError(t, tree.Remove(context.Background(), "f.txt"))
}

func TestMoveRelocatesFile(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("hi"), 0o644))
	require.NoError(t, tree.Move(context.Background(), "src.txt", filepath.Join("nested", "dst.txt")))

	content, err := os.ReadFile(filepath.Join(root, "nested", "dst.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(content))

	_, err = os.Stat(filepath.Join(root, "src.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestStageCopyThenCommitMaterializesDestination(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("payload"), 0o644))

	staged, hash, err := tree.StageCopy(ctx, "src.txt")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	require.NoError(t, tree.CommitStagedCopy(ctx, staged, "dst.txt", hash))

	content, err := os.ReadFile(filepath.Join(root, "dst.txt"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(content))

	_, err = os.Stat(staged)
	require.True(t, os.IsNotExist(err), "staged file should be cleaned up after commit")
}

func TestCommitStagedCopyRejectsHashMismatch(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("payload"), 0o644))

	staged, _, err := tree.StageCopy(ctx, "src.txt")
	require.NoError(t, err)

	err = tree.CommitStagedCopy(ctx, staged, "dst.txt", "not-the-real-hash")
	require.Error(t, err)
	require.False(t, errors.Is(err, executor.ErrIdenticalFileExists))
}

func TestCommitStagedCopyShortCircuitsIdenticalDestination(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dst.txt"), []byte("same"), 0o644))

	staged, hash, err := tree.StageCopy(ctx, "src.txt")
	require.NoError(t, err)

	err = tree.CommitStagedCopy(ctx, staged, "dst.txt", hash)
	require.ErrorIs(t, err, executor.ErrIdenticalFileExists)
}

func TestHashMatchesStageCopyHash(t *testing.T) {
	root := t.TempDir()
	tree := NewTree(root)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("content"), 0o644))

	_, hash, err := tree.StageCopy(ctx, "src.txt")
	require.NoError(t, err)

	gotHash, err := tree.Hash(ctx, "src.txt")
	require.NoError(t, err)
	require.Equal(t, hash, gotHash)
}
