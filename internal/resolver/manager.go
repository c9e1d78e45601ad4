// Package resolver implements the resolution facade of the service
// runtime: the synchronous/best-effort/async entry points, the bounded
// deferred resolution queue, the singleton snapshot, and the
// hot-reconfiguration manager that rebuilds a shadow registry in the
// background and swaps it in atomically.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keelruntime/keel/internal/loader"
	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/pubsub"
	"github.com/keelruntime/keel/internal/registry"
	"github.com/keelruntime/keel/internal/tracing"
)

// State is the reconfiguration manager's phase. Ready is equivalent to
// Idle: a completed cycle leaves the manager accepting the next one.
type State string

const (
	StateIdle       State = "idle"
	StateDisposing  State = "disposing"
	StateRebuilding State = "rebuilding"
	StateSwapping   State = "swapping"
	StateReady      State = "ready"
)

// StateChange is published on the manager's broker at every transition.
type StateChange struct {
	Cycle string
	From  State
	To    State
}

// Manager owns the single active-registry pointer, the one sanctioned
// piece of process-wide mutable state in this service-locator design, and
// drives the dispose/rebuild/swap cycle. The pointer write in the swap is
// the linearization point: a resolution reading it before the write is
// served by the old registry, after it by the new one; no resolution ever
// observes a half-built registry.
type Manager struct {
	active atomic.Pointer[registry.Registry]

	loader   *loader.TieredLoader
	queue    *Queue
	snapshot *Snapshot
	tracer   trace.Tracer
	events   *pubsub.Broker[StateChange]

	mu      sync.Mutex
	state   State
	cycleID string
}

// NewManager creates a manager serving initial as the active registry.
func NewManager(initial *registry.Registry, ld *loader.TieredLoader, q *Queue, snap *Snapshot, tracer trace.Tracer) *Manager {
	m := &Manager{
		loader:   ld,
		queue:    q,
		snapshot: snap,
		tracer:   tracer,
		events:   pubsub.NewBroker[StateChange](),
		state:    StateIdle,
	}
	m.active.Store(initial)
	return m
}

// Active returns the currently active registry.
func (m *Manager) Active() *registry.Registry {
	return m.active.Load()
}

// State returns the current phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the broker publishing state transitions.
func (m *Manager) Events() *pubsub.Broker[StateChange] {
	return m.events
}

// Dispose begins a reconfiguration cycle: every live singleton is
// snapshotted and the manager enters Disposing. The active registry is
// untouched and keeps serving.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("dispose signal ignored in state %q", state)
	}
	m.cycleID = uuid.NewString()
	m.transitionLocked(StateDisposing)
	m.mu.Unlock()

	m.snapshot.Capture(ctx, m.active.Load())
	return nil
}

// RebuildAccept runs the rest of the cycle: build a shadow registry, replay
// Critical, Shared, and every previously-loaded feature into it, then swap
// it in atomically and drain the deferred queue. A replay failure rolls
// back: the shadow is discarded, the old registry stays active, queued
// requests are rejected, and the manager still reaches Ready. The failure
// never leaks to resolution callers.
func (m *Manager) RebuildAccept(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisposing {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("rebuild signal ignored in state %q", state)
	}
	cycle := m.cycleID
	m.transitionLocked(StateRebuilding)
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, tracing.SpanReconfigure,
		trace.WithAttributes(attribute.String(tracing.AttrCycleID, cycle)))
	defer span.End()

	shadow := registry.New()
	log.Info(log.CatReconfig, "rebuilding shadow registry",
		"cycle", cycle, "generation", shadow.Generation())

	if err := m.loader.Replay(ctx, shadow); err != nil {
		m.rollback(ctx, cycle, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rolled back")
		return nil
	}

	m.mu.Lock()
	m.transitionLocked(StateSwapping)
	m.mu.Unlock()

	old := m.active.Swap(shadow)
	span.SetAttributes(attribute.String(tracing.AttrGeneration, shadow.Generation()))
	log.Info(log.CatReconfig, "active registry swapped",
		"cycle", cycle, "old", old.Generation(), "new", shadow.Generation())

	// The superseded registry no longer serves traffic; tear it down off
	// the cycle's critical path. Its failure is logged only.
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(log.CatReconfig, "teardown of superseded registry panicked",
					"cycle", cycle, "panic", rec)
			}
		}()
		old.UnbindAll()
	}()

	m.queue.Drain(shadow)
	m.snapshot.Clear(ctx)

	m.mu.Lock()
	m.transitionLocked(StateReady)
	m.mu.Unlock()

	// A request enqueued between the drain above and the Ready transition
	// would otherwise sit until its timeout. Settlement is idempotent, so
	// sweeping again is safe; anything enqueued after Ready is answered
	// directly by ResolveAsync.
	m.queue.Drain(shadow)

	span.SetStatus(codes.Ok, "swapped")
	return nil
}

// rollback discards the shadow, rejects every queued request with the
// cycle's failure, and returns the manager to Ready with the old registry
// still active.
func (m *Manager) rollback(ctx context.Context, cycle string, err error) {
	log.ErrorErr(log.CatReconfig, "shadow rebuild failed, rolling back", err, "cycle", cycle)

	m.queue.RejectAll(ReconfigurationError{Cycle: cycle, Err: err})
	m.snapshot.Clear(ctx)

	m.mu.Lock()
	m.transitionLocked(StateReady)
	m.mu.Unlock()
}

// transitionLocked moves the state machine and publishes the change.
// Callers hold m.mu.
func (m *Manager) transitionLocked(to State) {
	from := m.state
	m.state = to
	log.Debug(log.CatReconfig, "state transition", "cycle", m.cycleID, "from", from, "to", to)
	m.events.Publish(pubsub.StateChangedEvent, StateChange{Cycle: m.cycleID, From: from, To: to})
}
