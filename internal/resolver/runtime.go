package resolver

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/keelruntime/keel/internal/config"
	"github.com/keelruntime/keel/internal/loader"
	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/registry"
	"github.com/keelruntime/keel/internal/tracing"
)

// Wiring declares the module tiers the runtime loads. It is built once,
// statically, by the surrounding application.
type Wiring struct {
	Critical []registry.Module
	Shared   []registry.Module
	Features loader.FeatureTable
}

// LastFeatureSource reads the last-active feature name used for the
// speculative preload at boot. The name is an opaque string owned by an
// external collaborator.
type LastFeatureSource interface {
	LastFeature() (string, error)
}

// Runtime is the resolution facade: the synchronous, best-effort, and
// asynchronous entry points everything else in the application uses, plus
// the boot hook and the development-tooling reconfiguration triggers.
type Runtime struct {
	cfg      config.Config
	loader   *loader.TieredLoader
	queue    *Queue
	snapshot *Snapshot
	manager  *Manager
	tracer   trace.Tracer

	lastFeature LastFeatureSource
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithTracer installs a tracer; the default is a no-op.
func WithTracer(tr trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = tr }
}

// WithLastFeatureSource installs the collaborator the boot hook reads the
// speculative preload name from.
func WithLastFeatureSource(src LastFeatureSource) Option {
	return func(r *Runtime) { r.lastFeature = src }
}

// New creates a runtime over the given wiring. The initial registry exists
// from this point on; nothing is loaded until Boot.
func New(cfg config.Config, w Wiring, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:      cfg,
		queue:    NewQueue(cfg.Queue.Capacity),
		snapshot: NewSnapshot(cfg.Resolve.SnapshotTTL),
		tracer:   noop.NewTracerProvider().Tracer("keel"),
	}
	for _, opt := range opts {
		opt(r)
	}
	// The loader is built after options so tier spans share the tracer.
	r.loader = loader.New(w.Critical, w.Shared, w.Features, loader.WithTracer(r.tracer))
	r.manager = NewManager(registry.New(), r.loader, r.queue, r.snapshot, r.tracer)
	return r
}

// Manager exposes the reconfiguration manager, primarily for tests and
// development tooling.
func (r *Runtime) Manager() *Manager {
	return r.manager
}

// LoadedFeatures reports the feature names loaded so far, in load order.
func (r *Runtime) LoadedFeatures() []string {
	return r.loader.LoadedFeatures()
}

// Boot runs the Critical tier to completion, starts the Shared tier in the
// background, and speculatively preloads the last-active feature. The
// facade is answerable as soon as Boot returns.
func (r *Runtime) Boot(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, tracing.SpanBoot)
	defer span.End()

	reg := r.manager.Active()
	log.Info(log.CatBoot, "boot starting", "generation", reg.Generation())

	if err := r.loader.LoadCritical(ctx, reg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("boot: %w", err)
	}

	go func() {
		// Shared failures are logged by the loader and retried on a later
		// trigger; they never abort the app.
		_ = r.loader.LoadShared(context.Background(), r.manager.Active())
	}()

	if r.cfg.Preload.Enabled && r.lastFeature != nil {
		name, err := r.lastFeature.LastFeature()
		if err != nil {
			log.ErrorErr(log.CatBoot, "reading last feature failed", err)
		} else if name != "" {
			span.SetAttributes(attribute.String(tracing.AttrFeatureName, name))
			r.PreloadFeature(name)
		}
	}

	log.Info(log.CatBoot, "boot complete", "generation", reg.Generation())
	return nil
}

// Resolve answers synchronously, best effort. When the runtime is Ready it
// resolves against the active registry. Mid-reconfiguration it serves a
// possibly-stale snapshot singleton (under the lenient policy), then falls
// back to whichever registry currently exists, and only then fails with a
// PhaseError naming the blocking state.
func (r *Runtime) Resolve(id registry.ID) (any, error) {
	state := r.manager.State()
	if state == StateIdle || state == StateReady {
		reg := r.manager.Active()
		if reg == nil {
			return nil, PhaseError{State: state}
		}
		return reg.Get(id)
	}

	if r.cfg.Resolve.StalePolicy == config.PolicyLenient {
		if instance, ok := r.snapshot.Lookup(context.Background(), id); ok {
			log.Debug(log.CatRegistry, "serving stale singleton from snapshot",
				"id", id, "state", state)
			return instance, nil
		}
	}
	if reg := r.manager.Active(); reg != nil {
		return reg.Get(id)
	}
	return nil, PhaseError{State: state}
}

// TryResolve is Resolve for optional dependencies: it reports absence
// instead of returning an error.
func (r *Runtime) TryResolve(id registry.ID) (any, bool) {
	instance, err := r.Resolve(id)
	if err != nil {
		return nil, false
	}
	return instance, true
}

// ResolveAsync resolves immediately when the runtime is Ready; otherwise
// it enqueues a deferred request that settles when the queue drains or the
// request times out. A queue at capacity fails the request immediately
// with QueueFullError. All failures are delivered through Await.
func (r *Runtime) ResolveAsync(id registry.ID) *Pending {
	state := r.manager.State()
	if state == StateIdle || state == StateReady {
		if reg := r.manager.Active(); reg != nil {
			instance, err := reg.Get(id)
			return settledPending(id, instance, err)
		}
	}

	pending, err := r.queue.Enqueue(id, r.cfg.Queue.DefaultTimeout)
	if err != nil {
		return settledPending(id, nil, err)
	}

	// The cycle may have finished between the state check and the
	// enqueue, in which case the drain has already run and nothing else
	// will settle this request before its timeout. Re-check and answer
	// directly; settlement is idempotent, so losing this race to a
	// concurrent drain is harmless.
	state = r.manager.State()
	if state == StateIdle || state == StateReady {
		if reg := r.manager.Active(); reg != nil {
			instance, err := reg.Get(id)
			pending.settle(instance, err)
		}
	}
	return pending
}

// LoadFeature loads the named feature into the active registry. Unknown
// names are a no-op.
func (r *Runtime) LoadFeature(ctx context.Context, name string) error {
	ctx, span := r.tracer.Start(ctx, tracing.SpanFeatureLoad,
		trace.WithAttributes(attribute.String(tracing.AttrFeatureName, name)))
	defer span.End()
	return r.loader.LoadFeature(ctx, r.manager.Active(), name)
}

// PreloadFeature speculatively loads a feature, fire-and-forget.
func (r *Runtime) PreloadFeature(name string) {
	r.loader.PreloadFeature(r.manager.Active(), name)
}

// LoadShared triggers the Shared tier; used by retry paths after a
// background failure.
func (r *Runtime) LoadShared(ctx context.Context) error {
	return r.loader.LoadShared(ctx, r.manager.Active())
}

// OnDispose is the first reconfiguration trigger hook, invoked only by
// external development tooling. Production builds never call it.
func (r *Runtime) OnDispose(ctx context.Context) error {
	return r.manager.Dispose(ctx)
}

// OnRebuildAccept is the second reconfiguration trigger hook. Rebuild
// failures are converted to a rollback inside the manager; an error here
// means only that the signal arrived out of order.
func (r *Runtime) OnRebuildAccept(ctx context.Context) error {
	return r.manager.RebuildAccept(ctx)
}

// ResolveAs resolves id and casts the instance to T.
func ResolveAs[T any](r *Runtime, id registry.ID) (T, error) {
	var zero T
	instance, err := r.Resolve(id)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, registry.TypeMismatchError{
			ID:       id,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   fmt.Sprintf("%T", instance),
		}
	}
	return typed, nil
}
