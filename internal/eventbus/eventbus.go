// Package eventbus is the typed pub/sub signal bus the core publishes to
// the presentation boundary. A Bus is an explicit value with explicit
// subscription lifetimes: Subscribe returns an unsubscribe closure, and
// there is no package-level singleton or module-load-time global
// dispatcher.
package eventbus

import (
	"log/slog"
	"sync"
)

// Topic names one of the signals the bus carries.
type Topic string

const (
	TreeLoaded             Topic = "TREE_LOADED"
	NodeUpserted           Topic = "NODE_UPSERTED"
	NodeRemoved            Topic = "NODE_REMOVED"
	DiffDone                Topic = "DIFF_DONE"
	Progress                Topic = "PROGRESS"
	OpExecutionStateChanged Topic = "OP_EXECUTION_STATE_CHANGED"
	ErrorOccurred           Topic = "ERROR_OCCURRED"
)

// Event is one published occurrence on a topic. Payload is topic-specific;
// subscribers type-assert based on Topic.
type Event struct {
	Topic   Topic
	Payload any
}

// subscriberBuf is the per-subscriber channel buffer. A slow subscriber drops
// events rather than blocking the publisher (the UI layer is the only
// consumer in this repo and must not be able to stall the engine).
const subscriberBuf = 64

// Bus is a concurrency-safe typed pub/sub. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic]map[int]chan Event
	nextID int
	logger *slog.Logger
}

// New returns an empty Bus. A nil logger falls back to a discarding logger,
// matching every other component constructor in this repo.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Bus{
		subs:   make(map[Topic]map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a new listener for topic and returns the channel it
// will receive events on plus an unsubscribe function. Callers must invoke
// the unsubscribe function when done listening; failing to do so leaks the
// channel and its buffer.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuf)

	id := b.nextID
	b.nextID++

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}

	b.subs[topic][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if set, ok := b.subs[topic]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}

			if len(set) == 0 {
				delete(b.subs, topic)
			}
		}
	}

	return ch, unsubscribe
}

// Publish emits an event to every current subscriber of topic. A subscriber
// whose buffer is full has the event dropped for it (logged at debug) rather
// than blocking the publisher.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[topic]))
	for _, ch := range b.subs[topic] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	evt := Event{Topic: topic, Payload: payload}

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("eventbus: dropping event for slow subscriber", "topic", topic)
		}
	}
}

// SubscriberCount returns the number of active subscribers across all
// topics. Only tests call it; no command reports it.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, set := range b.subs {
		n += len(set)
	}

	return n
}
