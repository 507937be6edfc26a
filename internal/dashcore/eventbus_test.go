package dashcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeFiltersByKind(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(EventStarted, EventEnded)
	defer sub.Unsubscribe()

	bus.Publish(Event{Kind: EventError})
	bus.Publish(Event{Kind: EventStarted, ContentType: ContentTypeVideo})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventStarted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the filtered event to arrive")
	}

	select {
	case ev, ok := <-sub.Events():
		t.Fatalf("unexpected second event delivered: %+v (ok=%v)", ev, ok)
	default:
	}
}

func TestEventBus_SubscribeWithNoKindsReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(Event{Kind: EventError})
	bus.Publish(Event{Kind: EventEnded})

	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, EventError, first.Kind)
	assert.Equal(t, EventEnded, second.Kind)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestEventBus_CloseClosesAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	subA := bus.Subscribe()
	subB := bus.Subscribe()

	bus.Close()

	_, okA := <-subA.Events()
	_, okB := <-subB.Events()
	assert.False(t, okA)
	assert.False(t, okB)

	// further operations on a closed bus are no-ops, not panics.
	bus.Publish(Event{Kind: EventError})
	late := bus.Subscribe()
	_, ok := <-late.Events()
	assert.False(t, ok, "Subscribe on a closed bus returns an already-closed channel")
}

func TestEventBus_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe(EventBandwidth)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Kind: EventBandwidth, BandwidthBps: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow/unread subscriber")
	}

	require.NotEmpty(t, sub.ch)
}
