package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newScanCmd implements `treesync scan <device> <path>`: triggers a
// fresh scan of one tree and commits it to the persistent index. device
// is "local" or "cloud"; path is a filesystem root for "local" or a
// remote item ID (defaulting to the profile's configured cloud root)
// for "cloud".
func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <local|cloud> [path]",
		Short: "Scan a tree and commit the result to the persistent index",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			device := args[0]
			if device != "local" && device != "cloud" {
				return fmt.Errorf("device must be \"local\" or \"cloud\", got %q", device)
			}

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			store, err := openStore(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			registry := newRegistry(store, cc.Logger)

			switch device {
			case "local":
				root := cc.Profile.LocalRoot
				if len(args) == 2 {
					root = args[1]
				}

				if _, err := scanLocalFresh(ctx, root, localDevice(cc.Profile), cc.Profile, registry, store, cc.Logger); err != nil {
					return err
				}
			case "cloud":
				rootID := cc.Profile.CloudRootID
				if len(args) == 2 {
					rootID = args[1]
				}

				client, err := newCloudClient(ctx, cc.Profile, cc.Logger)
				if err != nil {
					return err
				}

				if _, err := scanCloudFresh(ctx, rootID, cloudDevice(cc.Profile), client, registry, store, cc.Logger); err != nil {
					return err
				}
			}

			if err := store.Checkpoint(ctx); err != nil {
				return err
			}

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "scan of %s tree complete\n", device)
			}

			return nil
		},
	}

	return cmd
}
