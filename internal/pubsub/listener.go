package pubsub

import (
	"context"
)

// ContinuousListener wraps a broker subscription for callers that consume
// events one at a time outside a select loop.
type ContinuousListener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewContinuousListener creates a new listener that subscribes to the broker.
// The subscription is automatically cleaned up when the context is cancelled.
func NewContinuousListener[T any](ctx context.Context, broker *Broker[T]) *ContinuousListener[T] {
	return &ContinuousListener[T]{
		ctx: ctx,
		ch:  broker.Subscribe(ctx),
	}
}

// Next blocks until the next event arrives, the context is cancelled, or the
// subscription is closed. The second return reports whether an event was
// received.
func (l *ContinuousListener[T]) Next() (Event[T], bool) {
	select {
	case <-l.ctx.Done():
		var zero Event[T]
		return zero, false
	case event, ok := <-l.ch:
		if !ok {
			var zero Event[T]
			return zero, false
		}
		return event, true
	}
}

// Events exposes the underlying subscription channel for select loops.
func (l *ContinuousListener[T]) Events() <-chan Event[T] {
	return l.ch
}
