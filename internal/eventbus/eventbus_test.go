package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublish(t *testing.T) {
	b := New(nil)

	ch, unsubscribe := b.Subscribe(NodeUpserted)
	defer unsubscribe()

	b.Publish(NodeUpserted, "payload-1")

	select {
	case evt := <-ch:
		require.Equal(t, NodeUpserted, evt.Topic)
		require.Equal(t, "payload-1", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishNoSubscribersIsNoop(t *testing.T) {
	b := New(nil)
	require.NotPanics(t, func() { b.Publish(DiffDone, nil) })
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(nil)

	ch, unsubscribe := b.Subscribe(ErrorOccurred)
	unsubscribe()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := New(nil)

	ch1, unsub1 := b.Subscribe(Progress)
	defer unsub1()

	ch2, unsub2 := b.Subscribe(Progress)
	defer unsub2()

	b.Publish(Progress, 42)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			require.Equal(t, 42, evt.Payload)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New(nil)
	require.Equal(t, 0, b.SubscriberCount())

	_, unsub1 := b.Subscribe(TreeLoaded)
	_, unsub2 := b.Subscribe(NodeRemoved)
	require.Equal(t, 2, b.SubscriberCount())

	unsub1()
	require.Equal(t, 1, b.SubscriberCount())

	unsub2()
	require.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := New(nil)
	ch, unsubscribe := b.Subscribe(OpExecutionStateChanged)
	defer unsubscribe()

	for i := 0; i < subscriberBuf+10; i++ {
		b.Publish(OpExecutionStateChanged, i)
	}

	require.Len(t, ch, subscriberBuf)
}
