package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/treesync/treesync/internal/clouddrive"
	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/localtree"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/opgraph"
)

// newApplyCmd implements `treesync apply <batch-id>`: drives a batch
// staged by `treesync diff --select` through the executor until every
// op in it has settled, then deletes the batch file.
func newApplyCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "apply <batch-id>",
		Short: "Apply a batch of operations staged by `diff --select`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			batchID := args[0]

			stored, err := loadBatch(cc.Profile.Name, batchID)
			if err != nil {
				return err
			}

			if dryRun {
				return printApplyPlan(cmd, stored)
			}

			lockDir := filepath.Join(config.DefaultDataDir(), "locks")

			release, err := acquireInstanceLock(lockDir, cc.Profile.Name)
			if err != nil {
				return err
			}
			defer release()

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			store, err := openStore(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			localT := localtree.NewTree(cc.Profile.LocalRoot)

			cloudClient, err := newCloudClient(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}

			cloudT := clouddrive.NewTree(cloudClient, localT.StagingDir())

			bus := newBus(cc.Logger)
			graph := opgraph.New()

			registry := newRegistry(store, cc.Logger)
			localIdx := memindex.New()
			cloudIdx := memindex.New()

			exec := executor.New(graph, localT, cloudT, bus, cc.Logger,
				executor.WithLocalWriteback(localIdx, store),
				executor.WithCloudWriteback(cloudIdx, store, registry))

			localDev := localDevice(cc.Profile)

			ops := make([]opgraph.Op, 0, len(stored.Ops))

			var plan localtree.BatchPlan

			for _, so := range stored.Ops {
				op := so.op()

				// A temp/partial file must never be a copy source; drop
				// the op rather than propagate an in-progress write.
				if isTempCopySource(op, so.Payload.SrcPath, localDev) {
					cc.Logger.Warn("skipping temp/partial copy source", "path", so.Payload.SrcPath)
					continue
				}

				switch op.Type {
				case opgraph.OpRM:
					plan.Deletes++
				case opgraph.OpCP, opgraph.OpMV, opgraph.OpCPOnto, opgraph.OpMVOnto:
					if op.Target.Device.Equal(localDev) {
						plan.LocalWriteBytes += so.Payload.Size
					}
				}

				ops = append(ops, op)
			}

			plan.TotalItems, err = store.CountLiveItems(ctx)
			if err != nil {
				return fmt.Errorf("counting live items: %w", err)
			}

			gate := localtree.NewSafetyGate(cc.Profile.Safety, cc.Profile.LocalRoot, cc.Logger)
			if err := gate.Check(plan, force, false); err != nil {
				return err
			}

			if _, _, err := graph.EnqueueBatch(ops, stored.ID); err != nil {
				return fmt.Errorf("enqueueing batch %s: %w", stored.ID, err)
			}

			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()

			go drainWhenDone(runCtx, cancelRun, graph)

			runErr := exec.Run(runCtx)
			if runErr != nil && ctx.Err() == nil && runCtx.Err() == context.Canceled {
				// Run stopped because the graph drained, not because the
				// caller's context was cancelled; this is the expected
				// completion path, not a failure.
				runErr = nil
			}

			stats := exec.Stats()

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "applied batch %s: %d succeeded, %d failed\n",
					stored.ID, stats.Succeeded, stats.Failed)
			}

			if err := deleteBatch(cc.Profile.Name, stored.ID); err != nil {
				cc.Logger.Warn("could not remove applied batch file", "batch", stored.ID, "error", err)
			}

			if opErrs := exec.Errors(); opErrs != nil {
				if stats.Succeeded > 0 {
					return fmt.Errorf("batch %s partially applied: %w", stored.ID, opErrs)
				}

				return fmt.Errorf("batch %s failed: %w", stored.ID, opErrs)
			}

			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the staged operations without applying them")
	cmd.Flags().BoolVar(&force, "force", false, "override big-delete protection for this batch")

	return cmd
}

// isTempCopySource reports whether op reads a temp/partial file from the
// local tree as its copy source.
func isTempCopySource(op opgraph.Op, srcPath string, localDev ids.Device) bool {
	switch op.Type {
	case opgraph.OpCP, opgraph.OpCPOnto:
	default:
		return false
	}

	return op.Src != nil && op.Src.Device.Equal(localDev) && localtree.IsTempName(filepath.Base(srcPath))
}

// drainWhenDone polls the graph for an empty queue and cancels cancel once
// it observes one, the one-shot equivalent of Executor.Stop for a command
// that has no other way to know the batch is finished: Run blocks on
// GetNextCommand forever once the graph is empty, so a one-shot apply
// needs something outside the run loop to end it.
func drainWhenDone(ctx context.Context, cancel context.CancelFunc, graph *opgraph.Graph) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if graph.Len() == 0 {
				cancel()
				return
			}
		}
	}
}

func printApplyPlan(cmd *cobra.Command, stored storedBatch) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "batch %s (%d ops, %d skipped during selection)\n", stored.ID, len(stored.Ops), stored.Skipped)

	rows := make([][]string, len(stored.Ops))
	for i, op := range stored.Ops {
		rows[i] = []string{string(op.Type), op.Payload.SrcPath, op.Payload.DstPath, op.Payload.Name}
	}

	printTable(w, []string{"OP", "SRC", "DST", "NAME"}, rows)

	return nil
}
