package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/keelruntime/keel/internal/registry"
)

func TestQueue_DrainSettlesInEnqueueOrder(t *testing.T) {
	q := NewQueue(10)
	reg := registry.New()

	ids := make([]registry.ID, 5)
	for i := range ids {
		ids[i] = registry.Intern(fmt.Sprintf("queue.order.%d", i))
		value := i
		require.NoError(t, reg.Bind(ids[i], func(registry.Resolver) (any, error) {
			return value, nil
		}, registry.Singleton))
	}

	handles := make([]*Pending, len(ids))
	for i, id := range ids {
		p, err := q.Enqueue(id, time.Minute)
		require.NoError(t, err)
		handles[i] = p
	}
	require.Equal(t, len(ids), q.Len())

	q.Drain(reg)
	require.Zero(t, q.Len())

	ctx := context.Background()
	for i, p := range handles {
		got, err := p.Await(ctx)
		require.NoError(t, err)
		require.Equal(t, i, got)
	}
}

func TestQueue_EnqueuePastCapacityFails(t *testing.T) {
	q := NewQueue(2)
	id := registry.Intern("queue.full")

	_, err := q.Enqueue(id, time.Minute)
	require.NoError(t, err)
	_, err = q.Enqueue(id, time.Minute)
	require.NoError(t, err)

	_, err = q.Enqueue(id, time.Minute)
	var full QueueFullError
	require.ErrorAs(t, err, &full)
	require.Equal(t, 2, full.Capacity)
	require.Equal(t, 2, q.Len())
}

func TestQueue_TimeoutSettlesRequest(t *testing.T) {
	q := NewQueue(4)
	id := registry.Intern("queue.timeout")

	p, err := q.Enqueue(id, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = p.Await(ctx)

	var timeout QueueTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, id, timeout.ID)
	require.Zero(t, q.Len())
}

func TestQueue_TimeoutFreesCapacity(t *testing.T) {
	q := NewQueue(1)
	id := registry.Intern("queue.timeout.capacity")

	p, err := q.Enqueue(id, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = p.Await(ctx)

	// The expired entry no longer occupies a slot
	_, err = q.Enqueue(id, time.Minute)
	require.NoError(t, err)
}

func TestQueue_DrainBeatsTimeout(t *testing.T) {
	q := NewQueue(4)
	reg := registry.New()
	id := registry.Intern("queue.race")
	require.NoError(t, reg.Bind(id, func(registry.Resolver) (any, error) {
		return "won", nil
	}, registry.Singleton))

	p, err := q.Enqueue(id, time.Hour)
	require.NoError(t, err)
	q.Drain(reg)

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "won", got)
}

func TestQueue_RejectAllDeliversGivenError(t *testing.T) {
	q := NewQueue(4)
	id := registry.Intern("queue.reject")
	boom := errors.New("cycle failed")

	first, err := q.Enqueue(id, time.Minute)
	require.NoError(t, err)
	second, err := q.Enqueue(id, time.Minute)
	require.NoError(t, err)

	q.RejectAll(ReconfigurationError{Cycle: "c-1", Err: boom})
	require.Zero(t, q.Len())

	ctx := context.Background()
	for _, p := range []*Pending{first, second} {
		_, err := p.Await(ctx)
		var reconf ReconfigurationError
		require.ErrorAs(t, err, &reconf)
		require.ErrorIs(t, err, boom)
	}
}

func TestQueue_DrainCarriesResolutionFailures(t *testing.T) {
	q := NewQueue(4)
	reg := registry.New()
	unbound := registry.Intern("queue.drain.unbound")

	p, err := q.Enqueue(unbound, time.Minute)
	require.NoError(t, err)
	q.Drain(reg)

	_, err = p.Await(context.Background())
	var notBound registry.NotBoundError
	require.ErrorAs(t, err, &notBound)
}

func TestPending_AwaitHonorsContext(t *testing.T) {
	q := NewQueue(4)
	p, err := q.Enqueue(registry.Intern("queue.await.ctx"), time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPending_SettledHandleAnswersImmediately(t *testing.T) {
	id := registry.Intern("queue.settled")
	p := settledPending(id, "now", nil)

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "now", got)
	require.Equal(t, id, p.ID())
}

// === Property Tests ===

func TestQueue_Property_BoundedAndFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "capacity")
		q := NewQueue(capacity)
		reg := registry.New()

		var expected []int
		var handles []*Pending

		numOps := rapid.IntRange(1, 60).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			id := registry.Intern(fmt.Sprintf("queue.prop.%d", i))
			value := i
			_ = reg.Bind(id, func(registry.Resolver) (any, error) {
				return value, nil
			}, registry.Transient)

			p, err := q.Enqueue(id, time.Minute)
			if len(handles) >= capacity {
				// At capacity every further enqueue must fail
				var full QueueFullError
				require.ErrorAs(t, err, &full)
				continue
			}
			require.NoError(t, err)
			handles = append(handles, p)
			expected = append(expected, value)
		}

		require.LessOrEqual(t, q.Len(), capacity)
		q.Drain(reg)
		require.Zero(t, q.Len())

		ctx := context.Background()
		for i, p := range handles {
			got, err := p.Await(ctx)
			require.NoError(t, err)
			require.Equal(t, expected[i], got)
		}
	})
}
