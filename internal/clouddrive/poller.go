package clouddrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
)

// defaultPollInterval is how often ChangePoller asks for changes when no
// push channel is connected.
const defaultPollInterval = 30 * time.Second

// pushPollInterval is the interval ChangePoller falls back to between a
// push notification and its own next scheduled poll, tighter than
// defaultPollInterval since a push already told us something changed and
// a stale connection shouldn't leave changes undiscovered for a full
// cycle.
const pushPollInterval = 2 * time.Second

// DeltaClient is the subset of Client a poller drives.
type DeltaClient interface {
	DeltaAll(ctx context.Context, token string) ([]Item, string, error)
}

// ChangePoller is the cloud side of LiveMonitor: a long-lived loop that
// calls "list changes since token" on an interval and applies the
// results to a MemoryIndex, publishing NodeUpserted/NodeRemoved on the
// event bus exactly like the local fsnotify watcher does for filesystem
// events.
//
// An optional gorilla/websocket push channel shortens the polling
// interval reactively when connected, so a push-capable backend gets
// near-real-time updates while a poll-only backend still converges.
type ChangePoller struct {
	device   ids.Device
	client   DeltaClient
	registry Registry
	index    *memindex.Index
	states   StateStore
	bus      *eventbus.Bus
	logger   *slog.Logger

	// intervalMu guards interval, which a push message or a live config
	// reload (SetInterval) may change while Run's loop reads it.
	intervalMu sync.Mutex
	interval   time.Duration

	// PushURL, when non-empty, is dialed as a websocket push channel;
	// any message received triggers an immediate poll instead of waiting
	// for the next ticker fire.
	PushURL string
}

// NewChangePoller constructs a poller for device.
func NewChangePoller(device ids.Device, client DeltaClient, registry Registry, index *memindex.Index, states StateStore, bus *eventbus.Bus, logger *slog.Logger) *ChangePoller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ChangePoller{
		device: device, client: client, registry: registry, index: index,
		states: states, bus: bus, logger: logger, interval: defaultPollInterval,
	}
}

// Run polls until ctx is cancelled. If PushURL is set, a connected
// websocket shortens the interval between poll cycles; a disconnected or
// unreachable push channel is logged and otherwise ignored, since polling
// alone is always sufficient for correctness.
func (p *ChangePoller) Run(ctx context.Context) error {
	push := p.dialPush(ctx)
	if push != nil {
		defer push.Close()
	}

	for {
		if err := p.pollOnce(ctx); err != nil {
			p.logger.Warn("clouddrive: poll cycle failed", "error", err)
		}

		timer := time.NewTimer(p.currentInterval())

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-p.pushSignal(push):
			timer.Stop()
		}
	}
}

func (p *ChangePoller) pushSignal(conn *websocket.Conn) <-chan struct{} {
	ch := make(chan struct{})

	if conn == nil {
		return ch // never fires; caller falls through to the ticker case
	}

	go func() {
		if _, _, err := conn.ReadMessage(); err == nil {
			p.SetInterval(pushPollInterval)
			close(ch)
		}
	}()

	return ch
}

// SetInterval replaces the base poll interval, taking effect from the
// next cycle. Called when a push message arrives and by `watch`'s SIGHUP
// config reload. Non-positive values are ignored.
func (p *ChangePoller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	p.intervalMu.Lock()
	p.interval = d
	p.intervalMu.Unlock()
}

func (p *ChangePoller) currentInterval() time.Duration {
	p.intervalMu.Lock()
	defer p.intervalMu.Unlock()

	return p.interval
}

func (p *ChangePoller) dialPush(ctx context.Context) *websocket.Conn {
	if p.PushURL == "" {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.PushURL, nil)
	if err != nil {
		p.logger.Debug("clouddrive: push channel unavailable, polling only", "error", err)
		return nil
	}

	return conn
}

func (p *ChangePoller) pollOnce(ctx context.Context) error {
	st, err := p.states.GetDownloadState(ctx, p.device)
	if errors.Is(err, pindex.ErrNotFound) {
		// No prior scan or poll: start from the empty change token.
		st, err = pindex.DownloadState{Device: p.device}, nil
	}
	if err != nil {
		return fmt.Errorf("clouddrive: loading change token: %w", err)
	}

	items, newToken, err := p.client.DeltaAll(ctx, st.ChangeToken)
	if err != nil {
		if errors.Is(err, ErrGone) {
			p.logger.Warn("clouddrive: change token expired, resetting to empty token")
			newToken = ""
		} else {
			return err
		}
	}

	for _, item := range items {
		if err := p.apply(ctx, item); err != nil {
			return err
		}
	}

	st.ChangeToken = newToken
	st.UpdatedAt = time.Now().UnixNano()

	return p.states.UpsertDownloadState(ctx, st)
}

func (p *ChangePoller) apply(ctx context.Context, item Item) error {
	uid, err := p.registry.UIDForExternalID(ctx, p.device, item.ID)
	if err != nil {
		return fmt.Errorf("clouddrive: uid for changed item %s: %w", item.ID, err)
	}

	if item.IsDeleted {
		p.index.MarkNotLive(uid)
		p.bus.Publish(eventbus.NodeRemoved, uid)

		return nil
	}

	parentUIDs := make([]ids.UID, 0, len(item.ParentIDs))

	for _, pid := range item.ParentIDs {
		puid, err := p.registry.UIDForExternalID(ctx, p.device, pid)
		if err != nil {
			return fmt.Errorf("clouddrive: uid for parent %s: %w", pid, err)
		}

		parentUIDs = append(parentUIDs, puid)
	}

	result := p.index.Upsert(&memindex.Node{
		UID: uid, ParentUIDs: parentUIDs, Name: item.Name, IsDir: item.IsFolder, IsLive: true,
		Size: item.Size, MTime: item.ModifiedAt.UnixNano(), Hash: item.Hash, HashAlgo: item.HashAlgo, ETag: item.ETag,
	})

	p.bus.Publish(eventbus.NodeUpserted, result.Node)

	return nil
}
