package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/treesync/treesync/internal/clouddrive"
	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/executor"
	"github.com/treesync/treesync/internal/livemonitor"
	"github.com/treesync/treesync/internal/memindex"
)

// newWatchCmd implements `treesync watch`: runs
// a cold scan of both sides to seed a shared index, then keeps it live —
// internal/livemonitor.Monitor for the local root via fsnotify, and
// internal/clouddrive.ChangePoller for the cloud root via its delta API —
// printing every NodeUpserted/NodeRemoved/ErrorOccurred the event bus
// carries until interrupted.
//
// watch only observes; it never builds or applies operations itself. Run
// `treesync diff --select` and `treesync apply` against the same profile
// to converge on what watch reports.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep a live view of local and cloud changes for the active profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

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

			registry := newRegistry(store, cc.Logger)
			bus := newBus(cc.Logger)

			localDev := localDevice(cc.Profile)
			localIdx, err := scanLocalFresh(ctx, cc.Profile.LocalRoot, localDev, cc.Profile, registry, store, cc.Logger)
			if err != nil {
				return err
			}

			cloudClient, err := newCloudClient(ctx, cc.Profile, cc.Logger)
			if err != nil {
				return err
			}

			cloudDev := cloudDevice(cc.Profile)
			cloudIdx, err := scanCloudFresh(ctx, cc.Profile.CloudRootID, cloudDev, cloudClient, registry, store, cc.Logger)
			if err != nil {
				return err
			}

			cloudRootUID, err := registry.UIDForExternalID(ctx, cloudDev, cc.Profile.CloudRootID)
			if err != nil {
				return fmt.Errorf("resolving cloud root uid: %w", err)
			}

			localSide := syncSide{
				Kind: executor.Local, Device: localDev, Root: cc.Profile.LocalRoot, Index: localIdx,
			}
			cloudSide := syncSide{
				Kind: executor.Cloud, Device: cloudDev, Index: cloudIdx,
				RootUID: cloudRootUID, RootExternalID: cc.Profile.CloudRootID,
			}

			sides := map[string]syncSide{
				localDev.String(): localSide,
				cloudDev.String(): cloudSide,
			}

			w := cmd.OutOrStdout()
			stopPrinting := watchActivity(ctx, bus, sides, w)
			defer stopPrinting()

			if !flagQuiet {
				fmt.Fprintf(w, "watching %s (local) and %s (cloud), press Ctrl-C to stop\n",
					cc.Profile.LocalRoot, cc.Profile.CloudRootID)
			}

			monitor := livemonitor.New(registry, localIdx, store, bus, cc.Logger)

			releaseWatch, err := monitor.Watch(ctx, localDev, cc.Profile.LocalRoot)
			if err != nil {
				return fmt.Errorf("watching local root: %w", err)
			}
			defer releaseWatch()

			poller := clouddrive.NewChangePoller(cloudDev, cloudClient, registry, cloudIdx, store, bus, cc.Logger)

			if d, err := time.ParseDuration(cc.Profile.Sync.PollInterval); err == nil {
				poller.SetInterval(d)
			}

			// A SIGHUP swaps freshly-loaded settings in mid-run; the poll
			// interval is the knob the already-running components consume
			// live, everything else applies from the next scan.
			holder := config.NewHolder(cc.Profile,
				config.ResolveConfigPath(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath}, cc.Logger))

			reloadOnSIGHUP(ctx, holder, func(rp *config.ResolvedProfile) {
				if d, err := time.ParseDuration(rp.Sync.PollInterval); err == nil {
					poller.SetInterval(d)
				}
			}, cc.Logger)

			group, gctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				if err := poller.Run(gctx); err != nil && gctx.Err() == nil {
					return fmt.Errorf("cloud change poller: %w", err)
				}

				return nil
			})

			<-ctx.Done()

			if err := group.Wait(); err != nil {
				return err
			}

			return nil
		},
	}
}

// watchActivity subscribes to the topics a live watch cares about and
// prints one line per event until ctx is cancelled. The returned func
// unsubscribes everything; call it once the caller is done.
func watchActivity(ctx context.Context, bus *eventbus.Bus, sides map[string]syncSide, w interface{ Write([]byte) (int, error) }) func() {
	upserts, unsubUpsert := bus.Subscribe(eventbus.NodeUpserted)
	removals, unsubRemove := bus.Subscribe(eventbus.NodeRemoved)
	errs, unsubErr := bus.Subscribe(eventbus.ErrorOccurred)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case ev, ok := <-upserts:
				if !ok {
					continue
				}

				if node, ok := ev.Payload.(*memindex.Node); ok {
					fmt.Fprintf(w, "upsert %s %s\n", deviceLabel(sides, node), displayPath(sides, node))
				}
			case ev, ok := <-removals:
				if !ok {
					continue
				}

				fmt.Fprintf(w, "remove %v\n", ev.Payload)
			case ev, ok := <-errs:
				if !ok {
					continue
				}

				fmt.Fprintf(w, "error %v\n", ev.Payload)
			}
		}
	}()

	return func() {
		unsubUpsert()
		unsubRemove()
		unsubErr()
		<-done
	}
}

// deviceLabel and displayPath locate which side a node belongs to (by
// looking its UID up in each watched side's index) purely
// for a readable log line; a node from neither side is labeled "?".
func deviceLabel(sides map[string]syncSide, node *memindex.Node) string {
	for label, side := range sides {
		if side.Index == nil {
			continue
		}

		if side.Index.Get(node.UID) == node {
			return label
		}
	}

	return "?"
}

func displayPath(sides map[string]syncSide, node *memindex.Node) string {
	for _, side := range sides {
		if side.Index == nil {
			continue
		}

		if side.Index.Get(node.UID) != node {
			continue
		}

		if side.Kind == executor.Local {
			return node.Path
		}

		if p, ok := nodePath(side, node); ok {
			return p
		}
	}

	return node.Name
}
