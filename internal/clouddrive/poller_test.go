package clouddrive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/memindex"
	"github.com/treesync/treesync/internal/pindex"
)

type fakeDeltaClient struct {
	items    []Item
	newToken string
	err      error
}

func (f *fakeDeltaClient) DeltaAll(ctx context.Context, token string) ([]Item, string, error) {
	return f.items, f.newToken, f.err
}

func TestPollOnceAppliesUpsertsAndPublishesEvents(t *testing.T) {
	device := ids.NewDevice("cloud1")
	registry := newFakeRegistry()
	index := memindex.New()
	states := newFakeStateStore()
	bus := eventbus.New(nil)

	received, unsubscribe := bus.Subscribe(eventbus.NodeUpserted)
	defer unsubscribe()

	client := &fakeDeltaClient{
		items:    []Item{{ID: "f1", Name: "f1.txt", ParentIDs: []string{"root"}}},
		newToken: "tok2",
	}

	p := NewChangePoller(device, client, registry, index, states, bus, nil)
	require.NoError(t, p.pollOnce(context.Background()))

	st, err := states.GetDownloadState(context.Background(), device)
	require.NoError(t, err)
	require.Equal(t, "tok2", st.ChangeToken)

	select {
	case <-received:
	default:
		t.Fatal("expected NodeUpserted publication")
	}

	uid, err := registry.UIDForExternalID(context.Background(), device, "f1")
	require.NoError(t, err)

	node := index.Get(uid)
	require.NotNil(t, node)
	require.Equal(t, "f1.txt", node.Name)
}

func TestPollOnceMarksDeletedItemsNotLive(t *testing.T) {
	device := ids.NewDevice("cloud1")
	registry := newFakeRegistry()
	index := memindex.New()
	states := newFakeStateStore()
	bus := eventbus.New(nil)

	uid, err := registry.UIDForExternalID(context.Background(), device, "f1")
	require.NoError(t, err)
	index.Upsert(&memindex.Node{UID: uid, Name: "f1.txt", IsLive: true})

	client := &fakeDeltaClient{items: []Item{{ID: "f1", IsDeleted: true}}}

	p := NewChangePoller(device, client, registry, index, states, bus, nil)
	require.NoError(t, p.pollOnce(context.Background()))

	node := index.Get(uid)
	require.NotNil(t, node)
	require.False(t, node.IsLive)
}

func TestPollOnceResetsTokenOnGone(t *testing.T) {
	device := ids.NewDevice("cloud1")
	registry := newFakeRegistry()
	index := memindex.New()
	states := newFakeStateStore()
	bus := eventbus.New(nil)

	require.NoError(t, states.UpsertDownloadState(context.Background(), pindex.DownloadState{
		Device: device, ChangeToken: "stale",
	}))

	client := &fakeDeltaClient{err: ErrGone}

	p := NewChangePoller(device, client, registry, index, states, bus, nil)
	require.NoError(t, p.pollOnce(context.Background()))

	st, err := states.GetDownloadState(context.Background(), device)
	require.NoError(t, err)
	require.Empty(t, st.ChangeToken)
}
