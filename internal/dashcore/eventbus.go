package dashcore

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind identifies the shape of an Event (spec.md §6 "Produced events").
type EventKind int

const (
	EventError EventKind = iota
	EventStarted
	EventAdaptation
	EventTracksChanged
	EventBandwidth
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventStarted:
		return "started"
	case EventAdaptation:
		return "adaptation"
	case EventTracksChanged:
		return "trackschanged"
	case EventBandwidth:
		return "bandwidth"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is the single envelope published on the EventBus. Only the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	// Correlates a burst of events back to the Stream instance that raised
	// them, for logging (SPEC_FULL.md DOMAIN STACK: google/uuid).
	StreamID uuid.UUID

	ContentType ContentType

	// EventStarted
	TimestampCorrection float64

	// EventAdaptation
	NewInfo *StreamInfo

	// EventBandwidth
	BandwidthBps float64

	// EventError
	Err error

	// EventEnded carries nothing beyond ContentType.
}

// subscription is one registered listener plus the kinds it cares about. A
// nil Kinds set receives every event.
type subscription struct {
	id    int
	kinds map[EventKind]bool
	ch    chan Event
}

// EventBus is an explicit publish/subscribe collaborator any component can
// publish to; subscribers register by event kind. This re-expresses the
// teacher's progress-broadcast pattern (subscriber map + buffered channel
// per subscriber) as a generic, reusable primitive instead of baking
// dispatch into the Coordinator itself (SPEC_FULL.md design notes, "Event
// target inheritance").
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
	closed bool
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]*subscription)}
}

// Subscription is returned by Subscribe; call Unsubscribe when done
// listening, and range over Events for delivered events.
type Subscription struct {
	bus *EventBus
	id  int
	ch  chan Event
}

// Events returns the channel events are delivered on. It is closed when the
// bus is closed or the subscription is cancelled.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a listener for the given kinds (or every kind, if
// none are given). The returned channel is buffered so a slow subscriber
// cannot block Publish; events are dropped for a subscriber whose buffer is
// full rather than stalling the publisher.
func (b *EventBus) Subscribe(kinds ...EventKind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	var kindSet map[EventKind]bool
	if len(kinds) > 0 {
		kindSet = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			kindSet[k] = true
		}
	}

	ch := make(chan Event, 64)
	sub := &subscription{id: id, kinds: kindSet, ch: ch}
	if b.closed {
		close(ch)
		return &Subscription{bus: b, id: id, ch: ch}
	}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, ch: ch}
}

func (b *EventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers ev to every subscriber interested in its Kind. Never
// blocks: a subscriber that isn't keeping up silently misses the event.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close shuts the bus down, closing every subscriber's channel. Further
// Publish/Subscribe calls are no-ops.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
