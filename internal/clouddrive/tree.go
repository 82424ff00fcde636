package clouddrive

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/pkg/contenthash"
)

// Tree implements executor.CloudTree against a Client, addressing items
// by remote ID the way the rest of this package does — "path" arguments
// in the executor.CloudTree interface are the remote item ID for this
// implementation (the engine's Payload carries only the ID it already
// resolved during diffing; see executor.Payload's doc comment).
type Tree struct {
	client     *Client
	stagingDir string
}

// NewTree constructs a Tree backed by client, staging downloads into
// stagingDir (typically the local tree's own staging directory, so a
// cloud-to-local CP commits via the same same-volume rename path).
func NewTree(client *Client, stagingDir string) *Tree {
	return &Tree{client: client, stagingDir: stagingDir}
}

var _ executor.CloudTree = (*Tree)(nil)

// Mkdir creates a folder named name under parentID.
func (t *Tree) Mkdir(ctx context.Context, parentID, name string) error {
	if _, err := t.client.CreateFolder(ctx, parentID, name); err != nil {
		return fmt.Errorf("clouddrive: mkdir %s/%s: %w", parentID, name, err)
	}

	return nil
}

// Remove deletes the item at id.
func (t *Tree) Remove(ctx context.Context, id string) error {
	if err := t.client.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("clouddrive: remove %s: %w", id, err)
	}

	return nil
}

// Move reparents/renames id.
func (t *Tree) Move(ctx context.Context, id, newParentID, newName string) error {
	if _, err := t.client.MoveItem(ctx, id, newParentID, newName); err != nil {
		return fmt.Errorf("clouddrive: move %s -> %s/%s: %w", id, newParentID, newName, err)
	}

	return nil
}

// Download streams id's content into a local staging file and returns
// its path plus the hash computed while copying, for the executor's
// stage-verify-commit pipeline.
func (t *Tree) Download(ctx context.Context, id string) (string, string, error) {
	item, err := t.client.GetItem(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("clouddrive: fetching metadata for download of %s: %w", id, err)
	}

	resp, err := t.client.Do(ctx, "GET", "/files/"+id+"/content", nil)
	if err != nil {
		return "", "", fmt.Errorf("clouddrive: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(t.stagingDir, 0o755); err != nil {
		return "", "", fmt.Errorf("clouddrive: mkdir staging dir: %w", err)
	}

	staged, err := os.CreateTemp(t.stagingDir, "dl-*")
	if err != nil {
		return "", "", fmt.Errorf("clouddrive: creating staging file: %w", err)
	}
	defer staged.Close()

	algo := contenthash.Algorithm(item.HashAlgo)

	hash, err := contenthash.Sum(io.TeeReader(resp.Body, staged), algo)
	if err != nil {
		_ = os.Remove(staged.Name())
		return "", "", fmt.Errorf("clouddrive: staging download of %s: %w", id, err)
	}

	return staged.Name(), hash, nil
}

// Upload streams the local file at stagedPath to parentID/name, returning
// the MD5 hash this side computed from the file before sending it; the
// response body is not read, so no remote-computed hash is returned.
func (t *Tree) Upload(ctx context.Context, stagedPath, parentID, name string) (string, error) {
	f, err := os.Open(stagedPath)
	if err != nil {
		return "", fmt.Errorf("clouddrive: opening %s for upload: %w", stagedPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("clouddrive: stat %s: %w", stagedPath, err)
	}

	hash, err := contenthash.SumFile(stagedPath, contenthash.MD5)
	if err != nil {
		return "", fmt.Errorf("clouddrive: hashing %s before upload: %w", stagedPath, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("clouddrive: rewinding %s: %w", stagedPath, err)
	}

	resp, err := t.client.Do(ctx, "POST", "/files?parent="+parentID+"&name="+name, f)
	if err != nil {
		return "", fmt.Errorf("clouddrive: uploading %s/%s (%d bytes): %w", parentID, name, info.Size(), err)
	}
	defer resp.Body.Close()

	return hash, nil
}

// Hash returns the content hash of id.
func (t *Tree) Hash(ctx context.Context, id string) (string, error) {
	item, err := t.client.GetItem(ctx, id)
	if err != nil {
		return "", fmt.Errorf("clouddrive: fetching hash for %s: %w", id, err)
	}

	return item.Hash, nil
}
