package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/treesync/treesync/internal/pindex"
)

// conflictIDPrefixLen is how many characters of a conflict's ID table
// output shows; full IDs are needed for `conflicts resolve`.
const conflictIDPrefixLen = 8

// newConflictsCmd implements `treesync conflicts`: lists and resolves
// the conflict ledger internal/pindex.Store maintains.
func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List or resolve unresolved sync conflicts",
	}

	cmd.AddCommand(newConflictsListCmd())
	cmd.AddCommand(newConflictsResolveCmd())

	return cmd
}

func newConflictsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			store, err := openStore(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			conflicts, err := store.ListConflicts(ctx, false)
			if err != nil {
				return fmt.Errorf("listing conflicts: %w", err)
			}

			w := cmd.OutOrStdout()

			if flagJSON {
				return printConflictsJSON(w, conflicts)
			}

			if len(conflicts) == 0 {
				fmt.Fprintln(w, "no unresolved conflicts")
				return nil
			}

			rows := make([][]string, len(conflicts))
			for i, c := range conflicts {
				id := c.ID
				if len(id) > conflictIDPrefixLen {
					id = id[:conflictIDPrefixLen]
				}

				rows[i] = []string{
					id, c.Path, c.Category,
					time.Unix(c.DetectedAt, 0).UTC().Format(time.RFC3339),
					c.LeftDevice.String(), c.RightDevice.String(),
				}
			}

			printTable(w, []string{"ID", "PATH", "CATEGORY", "DETECTED_AT", "LEFT_DEVICE", "RIGHT_DEVICE"}, rows)

			return nil
		},
	}
}

func newConflictsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Mark a conflict resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			store, err := openStore(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ResolveConflict(ctx, args[0], nowUnix()); err != nil {
				return fmt.Errorf("resolving conflict %s: %w", args[0], err)
			}

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "conflict %s resolved\n", args[0])
			}

			return nil
		},
	}
}

func printConflictsJSON(w interface{ Write([]byte) (int, error) }, conflicts []pindex.ConflictRow) error {
	var b []byte

	b = append(b, '[')

	for i, c := range conflicts {
		if i > 0 {
			b = append(b, ',')
		}

		entry := fmt.Sprintf(
			"{\"id\":%q,\"path\":%q,\"category\":%q,\"detected_at\":%q,\"left_device\":%q,\"right_device\":%q}",
			c.ID, c.Path, c.Category,
			time.Unix(c.DetectedAt, 0).UTC().Format(time.RFC3339),
			c.LeftDevice.String(), c.RightDevice.String(),
		)

		b = append(b, entry...)
	}

	b = append(b, ']', '\n')

	_, err := w.Write(b)

	return err
}

func nowUnix() int64 { return time.Now().UTC().Unix() }
