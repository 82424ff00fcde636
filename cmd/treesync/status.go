package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// healthColor is the engine summary's three-state signal: RED means the
// persistent index has never been populated, YELLOW means the index
// exists but there is outstanding work (unresolved conflicts or a staged
// batch not yet applied), GREEN means idle and caught up.
type healthColor string

const (
	healthRed    healthColor = "RED"
	healthYellow healthColor = "YELLOW"
	healthGreen  healthColor = "GREEN"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the engine's RED/YELLOW/GREEN health summary",
		Long: `Prints the sync engine's overall state for the active profile:

  RED    persistent index has never been populated (run "treesync scan")
  YELLOW index is populated but conflicts or a staged batch are pending
  GREEN  idle, nothing pending

Also reports unresolved conflict and staged-batch counts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			statePath := cc.Profile.StatePath()
			if _, err := os.Stat(statePath); err != nil {
				return printStatus(cmd, healthRed, 0, 0, 0, "no persistent index yet")
			}

			store, err := openStore(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			conflicts, err := store.ListConflicts(ctx, false)
			if err != nil {
				return fmt.Errorf("listing conflicts: %w", err)
			}

			batches, err := listPendingBatches(cc.Profile)
			if err != nil {
				return fmt.Errorf("listing staged batches: %w", err)
			}

			stale, err := store.ListStaleFiles(ctx)
			if err != nil {
				return fmt.Errorf("listing stale files: %w", err)
			}

			color := healthGreen

			switch {
			case len(conflicts) > 0 || len(batches) > 0:
				color = healthYellow
			}

			return printStatus(cmd, color, len(conflicts), len(batches), len(stale), "")
		},
	}

	return cmd
}

func printStatus(cmd *cobra.Command, color healthColor, conflicts, batches, stale int, note string) error {
	if flagJSON {
		fmt.Fprintf(cmd.OutOrStdout(),
			"{\"status\":%q,\"profile\":%q,\"conflicts\":%d,\"staged_batches\":%d,\"stale_files\":%d,\"checked_at\":%q}\n",
			color, flagProfile, conflicts, batches, stale, time.Now().UTC().Format(time.RFC3339))

		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "status: %s\n", color)

	if note != "" {
		fmt.Fprintf(w, "  %s\n", note)
		return nil
	}

	fmt.Fprintf(w, "  unresolved conflicts: %d\n", conflicts)
	fmt.Fprintf(w, "  staged batches:       %d\n", batches)
	fmt.Fprintf(w, "  stale files:          %d\n", stale)

	return nil
}
