package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stateChange mirrors the payload the reconfiguration manager publishes.
type stateChange struct {
	From string
	To   string
}

func recv[T any](t *testing.T, ch <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return Event[T]{}
	}
}

func TestBroker_DeliversStateChanges(t *testing.T) {
	broker := NewBroker[stateChange]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)
	broker.Publish(StateChangedEvent, stateChange{From: "idle", To: "disposing"})

	ev := recv(t, ch)
	require.Equal(t, StateChangedEvent, ev.Type)
	require.Equal(t, stateChange{From: "idle", To: "disposing"}, ev.Payload)
	require.False(t, ev.Timestamp.IsZero())
}

func TestBroker_FansOutToAllSubscribers(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx := context.Background()
	subs := []<-chan Event[string]{
		broker.Subscribe(ctx),
		broker.Subscribe(ctx),
		broker.Subscribe(ctx),
	}
	require.Equal(t, 3, broker.SubscriberCount())

	broker.Publish(LogEvent, "registry swapped")

	for _, ch := range subs {
		ev := recv(t, ch)
		require.Equal(t, LogEvent, ev.Type)
		require.Equal(t, "registry swapped", ev.Payload)
	}
}

func TestBroker_UnsubscribesOnContextCancel(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, open := <-ch
	require.False(t, open, "channel should be closed after cancel")
}

func TestBroker_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	broker := NewBrokerWithBuffer[stateChange](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())

	// Nobody is reading ch, so the buffer fills after one event.
	broker.Publish(StateChangedEvent, stateChange{To: "rebuilding"})

	done := make(chan struct{})
	go func() {
		broker.Publish(StateChangedEvent, stateChange{To: "swapping"})
		broker.Publish(StateChangedEvent, stateChange{To: "ready"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// The overflow events were dropped, not queued.
	ev := recv(t, ch)
	require.Equal(t, "rebuilding", ev.Payload.To)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered event: %+v", extra.Payload)
	default:
	}
}

func TestBroker_Close(t *testing.T) {
	broker := NewBroker[string]()
	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)

	broker.Close()
	broker.Close() // idempotent

	for _, ch := range []<-chan Event[string]{ch1, ch2} {
		_, open := <-ch
		require.False(t, open)
	}
	require.Equal(t, 0, broker.SubscriberCount())

	// Subscribing after close yields an already-closed channel, and
	// publishing is a no-op rather than a panic.
	late := broker.Subscribe(ctx)
	_, open := <-late
	require.False(t, open)
	broker.Publish(LogEvent, "after close")
}
