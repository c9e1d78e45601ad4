package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContinuousListener_Next(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewContinuousListener(ctx, broker)
	broker.Publish(StateChangedEvent, "transition")

	event, ok := listener.Next()
	require.True(t, ok)
	require.Equal(t, "transition", event.Payload)
	require.Equal(t, StateChangedEvent, event.Type)
}

func TestContinuousListener_NextAfterCancel(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	listener := NewContinuousListener(ctx, broker)
	cancel()

	_, ok := listener.Next()
	require.False(t, ok)
}

func TestContinuousListener_NextAfterClose(t *testing.T) {
	broker := NewBroker[int]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewContinuousListener(ctx, broker)
	broker.Close()

	_, ok := listener.Next()
	require.False(t, ok)
}
