package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/registry"
)

type outcome struct {
	instance any
	err      error
}

// Pending is the settlement handle for one deferred resolution. It settles
// exactly once: when the queue drains, when the cycle rolls back, or when
// the request's timeout elapses.
type Pending struct {
	id        registry.ID
	requestID string
	result    chan outcome
	once      sync.Once
}

func newPending(id registry.ID) *Pending {
	return &Pending{
		id:        id,
		requestID: uuid.NewString(),
		result:    make(chan outcome, 1),
	}
}

// settledPending returns a handle that is already settled, for resolutions
// answered immediately.
func settledPending(id registry.ID, instance any, err error) *Pending {
	p := newPending(id)
	p.settle(instance, err)
	return p
}

func (p *Pending) settle(instance any, err error) {
	p.once.Do(func() {
		p.result <- outcome{instance: instance, err: err}
	})
}

// ID returns the identifier this request resolves.
func (p *Pending) ID() registry.ID {
	return p.id
}

// Await blocks until the request settles or ctx is cancelled.
func (p *Pending) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-p.result:
		return out.instance, out.err
	}
}

type queueEntry struct {
	pending    *Pending
	enqueuedAt time.Time
	timeout    time.Duration
	timer      *time.Timer
}

// Queue is the bounded FIFO of deferred resolution requests. Requests
// enqueue while no registry is ready to answer and settle strictly in
// enqueue order when the queue drains.
type Queue struct {
	mu       sync.Mutex
	capacity int
	entries  []*queueEntry
}

// NewQueue creates a queue holding at most capacity requests.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Enqueue adds a request with the given timeout. If the queue is already at
// capacity it fails immediately with QueueFullError.
func (q *Queue) Enqueue(id registry.ID, timeout time.Duration) (*Pending, error) {
	q.mu.Lock()
	if len(q.entries) >= q.capacity {
		q.mu.Unlock()
		return nil, QueueFullError{Capacity: q.capacity}
	}

	pending := newPending(id)
	entry := &queueEntry{
		pending:    pending,
		enqueuedAt: time.Now(),
		timeout:    timeout,
	}
	entry.timer = time.AfterFunc(timeout, func() {
		q.expire(entry)
	})
	q.entries = append(q.entries, entry)
	depth := len(q.entries)
	q.mu.Unlock()

	log.Debug(log.CatQueue, "deferred request enqueued",
		"id", id, "request", pending.requestID, "timeout", timeout, "depth", depth)
	return pending, nil
}

// expire removes a timed-out entry and fails it. An entry already taken by
// Drain or RejectAll is left alone; its settlement won the race.
func (q *Queue) expire(entry *queueEntry) {
	q.mu.Lock()
	found := false
	for i, e := range q.entries {
		if e == entry {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			found = true
			break
		}
	}
	q.mu.Unlock()

	if !found {
		return
	}
	waited := time.Since(entry.enqueuedAt)
	log.Warn(log.CatQueue, "deferred request timed out",
		"id", entry.pending.id, "request", entry.pending.requestID, "waited", waited)
	entry.pending.settle(nil, QueueTimeoutError{
		ID:      entry.pending.id,
		Waited:  entry.timeout,
		Request: entry.pending.requestID,
	})
}

// Drain settles every queued request against reg, strictly in enqueue
// order, each with its resolution result or failure.
func (q *Queue) Drain(reg *registry.Registry) {
	for _, entry := range q.take() {
		entry.timer.Stop()
		instance, err := reg.Get(entry.pending.id)
		entry.pending.settle(instance, err)
	}
}

// RejectAll settles every queued request with err, in enqueue order.
func (q *Queue) RejectAll(err error) {
	for _, entry := range q.take() {
		entry.timer.Stop()
		entry.pending.settle(nil, err)
	}
}

func (q *Queue) take() []*queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	taken := q.entries
	q.entries = nil
	return taken
}

// Len returns the number of requests currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
