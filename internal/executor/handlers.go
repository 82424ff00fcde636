package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/treesync/treesync/internal/opgraph"
)

// handleMkdirLocal creates a directory on the local tree.
func handleMkdirLocal(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	if err := e.local.Mkdir(ctx, p.DstPath); err != nil {
		return fmt.Errorf("executor: mkdir local %s: %w", p.DstPath, err)
	}

	return nil
}

// handleMkdirCloud creates a directory on the cloud tree.
func handleMkdirCloud(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	if err := e.cloud.Mkdir(ctx, p.DstPath, p.Name); err != nil {
		return fmt.Errorf("executor: mkdir cloud %s/%s: %w", p.DstPath, p.Name, err)
	}

	return nil
}

// handleRMLocal removes a node from the local tree.
func handleRMLocal(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	if err := e.local.Remove(ctx, p.SrcPath); err != nil {
		return fmt.Errorf("executor: rm local %s: %w", p.SrcPath, err)
	}

	return nil
}

// handleRMCloud removes a node from the cloud tree.
func handleRMCloud(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	if err := e.cloud.Remove(ctx, p.SrcPath); err != nil {
		return fmt.Errorf("executor: rm cloud %s: %w", p.SrcPath, err)
	}

	return nil
}

// handleMVLocal renames/moves a node within the local tree.
func handleMVLocal(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	if err := e.local.Move(ctx, p.SrcPath, p.DstPath); err != nil {
		return fmt.Errorf("executor: mv local %s -> %s: %w", p.SrcPath, p.DstPath, err)
	}

	return nil
}

// handleMVCloud renames/moves a node within the cloud tree.
func handleMVCloud(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	if err := e.cloud.Move(ctx, p.SrcPath, p.DstPath, p.Name); err != nil {
		return fmt.Errorf("executor: mv cloud %s -> %s/%s: %w", p.SrcPath, p.DstPath, p.Name, err)
	}

	return nil
}

// handleCPLocalLocal stages a copy within the local tree, verifies its
// hash, then commits.
func handleCPLocalLocal(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	staged, hash, err := e.local.StageCopy(ctx, p.SrcPath)
	if err != nil {
		return fmt.Errorf("executor: stage local copy %s: %w", p.SrcPath, err)
	}

	if err := e.local.CommitStagedCopy(ctx, staged, p.DstPath, hash); err != nil {
		if errors.Is(err, ErrIdenticalFileExists) {
			return err
		}

		return fmt.Errorf("executor: commit local copy %s -> %s: %w", p.SrcPath, p.DstPath, err)
	}

	return nil
}

// handleCPCloudCloud stages a copy within the cloud tree the same way,
// via a local staging round-trip (download then upload), since most
// cloud-like APIs have no native same-account copy primitive this engine
// can rely on uniformly.
func handleCPCloudCloud(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	staged, hash, err := e.cloud.Download(ctx, p.SrcPath)
	if err != nil {
		return fmt.Errorf("executor: stage cloud->cloud copy %s: %w", p.SrcPath, err)
	}

	gotHash, err := e.cloud.Upload(ctx, staged, p.DstPath, p.Name)
	if err != nil {
		return fmt.Errorf("executor: upload cloud->cloud copy %s/%s: %w", p.DstPath, p.Name, err)
	}

	if hash != "" && gotHash != "" && hash != gotHash {
		return fmt.Errorf("executor: cloud->cloud copy hash mismatch for %s/%s: staged %s got %s",
			p.DstPath, p.Name, hash, gotHash)
	}

	return nil
}

// handleCPLocalToCloud uploads a local file to the cloud tree.
func handleCPLocalToCloud(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	existing, err := e.cloud.Hash(ctx, p.DstPath)
	if err == nil && existing != "" {
		wantHash, herr := e.local.Hash(ctx, p.SrcPath)
		if herr == nil && wantHash == existing {
			return ErrIdenticalFileExists
		}
	}

	gotHash, err := e.cloud.Upload(ctx, p.SrcPath, p.DstPath, p.Name)
	if err != nil {
		return fmt.Errorf("executor: upload %s -> %s/%s: %w", p.SrcPath, p.DstPath, p.Name, err)
	}

	if p.Hash != "" && gotHash != "" && p.Hash != gotHash {
		return fmt.Errorf("executor: upload hash mismatch for %s/%s: want %s got %s", p.DstPath, p.Name, p.Hash, gotHash)
	}

	return nil
}

// handleCPCloudToLocal downloads a remote file into the local tree.
func handleCPCloudToLocal(ctx context.Context, e *Executor, n *opgraph.Node, p Payload) error {
	staged, hash, err := e.cloud.Download(ctx, p.SrcPath)
	if err != nil {
		return fmt.Errorf("executor: download %s: %w", p.SrcPath, err)
	}

	if err := e.local.CommitStagedCopy(ctx, staged, p.DstPath, hash); err != nil {
		if errors.Is(err, ErrIdenticalFileExists) {
			return err
		}

		return fmt.Errorf("executor: commit download %s -> %s: %w", p.SrcPath, p.DstPath, err)
	}

	return nil
}
