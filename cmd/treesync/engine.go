package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/treesync/treesync/internal/clouddrive"
	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/localtree"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
	"github.com/treesync/treesync/internal/uidregistry"
)

// httpClientTimeout bounds every call made through the cloud client,
// including uploads and downloads: clouddrive.Tree reuses that client.
const httpClientTimeout = 30 * time.Second

// localDevice and cloudDevice derive the two ids.Device namespaces a
// profile addresses: one per local root (so two profiles with different
// roots never collide uids), one per cloud account.
func localDevice(rp *config.ResolvedProfile) ids.Device {
	abs, err := filepath.Abs(rp.LocalRoot)
	if err != nil {
		abs = rp.LocalRoot
	}

	return ids.NewDevice("local:" + abs)
}

func cloudDevice(rp *config.ResolvedProfile) ids.Device {
	return ids.NewDevice("cloud:" + rp.CloudAccountID)
}

// openStore opens the profile's PersistentIndex database, creating its
// parent directory if needed.
func openStore(ctx context.Context, rp *config.ResolvedProfile, logger *slog.Logger) (*pindex.Store, error) {
	path := rp.StatePath()
	if path == "" {
		return nil, fmt.Errorf("could not determine state database path for profile %q", rp.Name)
	}

	return pindex.Open(ctx, path, logger)
}

// newRegistry wraps store in a uidregistry.Registry, the in-memory cache
// every scanner issues uids through.
func newRegistry(store *pindex.Store, logger *slog.Logger) *uidregistry.Registry {
	return uidregistry.New(store, logger)
}

// newCloudEndpoint builds the OAuth2 endpoint config from the resolved
// profile's oauth_* fields.
func newCloudEndpoint(rp *config.ResolvedProfile) clouddrive.Endpoint {
	return clouddrive.Endpoint{
		ClientID:     rp.OAuthClientID,
		ClientSecret: rp.OAuthClientSecret,
		AuthURL:      rp.OAuthAuthURL,
		TokenURL:     rp.OAuthTokenURL,
		Scopes:       rp.OAuthScopes,
	}
}

// newCloudClient loads the profile's saved token and returns an
// authenticated clouddrive.Client. ctx must outlive the returned client
// (oauth2's token source keeps it for silent refresh).
func newCloudClient(ctx context.Context, rp *config.ResolvedProfile, logger *slog.Logger) (*clouddrive.Client, error) {
	ep := newCloudEndpoint(rp)

	ts, err := clouddrive.TokenSourceFromPath(ctx, ep, rp.TokenPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("loading cloud credentials: %w", err)
	}

	httpClient := &http.Client{Timeout: httpClientTimeout}
	base := rp.CloudBaseURL

	return clouddrive.NewClient(base, httpClient, ts, logger), nil
}

// scanLocalFresh drives a synchronous local scan into a fresh MemoryIndex,
// writing through to store as it goes, and returns the populated index.
// The profile's filter section gates which entries the scan indexes, with
// store doubling as the stale-file recorder for newly excluded paths.
func scanLocalFresh(
	ctx context.Context,
	root string,
	device ids.Device,
	rp *config.ResolvedProfile,
	registry *uidregistry.Registry,
	store *pindex.Store,
	logger *slog.Logger,
) (*memindex.Index, error) {
	idx := memindex.New()

	filter, err := localtree.NewFilter(rp.Filter, root, logger)
	if err != nil {
		return nil, err
	}

	scanner := localtree.New(root, device, registry, idx, store, logger,
		localtree.WithFilter(filter), localtree.WithStaleRecorder(store))
	if err := scanner.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scanning local tree %s: %w", root, err)
	}

	return idx, nil
}

// scanCloudFresh drives the cloud scanner's resumable state machine to
// COMPLETE against a fresh MemoryIndex.
func scanCloudFresh(
	ctx context.Context,
	rootID string,
	device ids.Device,
	client *clouddrive.Client,
	registry *uidregistry.Registry,
	store *pindex.Store,
	logger *slog.Logger,
) (*memindex.Index, error) {
	idx := memindex.New()

	scanner := clouddrive.New(device, rootID, client, registry, idx, store, store, logger)
	if err := scanner.Run(ctx); err != nil {
		return nil, fmt.Errorf("scanning cloud tree %s: %w", rootID, err)
	}

	return idx, nil
}

// newBus constructs the event bus a command's run wires the engine's
// components to; the CLI is the bus's only subscriber in this repo.
func newBus(logger *slog.Logger) *eventbus.Bus {
	return eventbus.New(logger)
}
