// Package loader sequences module loading into Critical, Shared, and
// Feature tiers. Critical blocks startup, Shared loads in the background
// and may be retried, Feature modules load on demand by name with
// concurrent requests for the same name sharing one in-flight load.
package loader

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/registry"
	"github.com/keelruntime/keel/internal/tracing"
)

// LoadState is the per-feature-name loading status.
type LoadState string

const (
	StateNotLoaded LoadState = "not_loaded"
	StateLoading   LoadState = "loading"
	StateLoaded    LoadState = "loaded"
)

// ErrCriticalNotComplete is returned when a Feature load is attempted
// before the Critical tier has fully completed.
var ErrCriticalNotComplete = errors.New("critical tier has not completed")

// TieredLoader owns the tier definitions and per-name load state. The
// registry a load targets is always passed explicitly, so the same loader
// can replay into a shadow registry during reconfiguration.
type TieredLoader struct {
	critical []registry.Module
	shared   []registry.Module
	features FeatureTable
	tracer   trace.Tracer

	mu               sync.Mutex
	state            map[string]LoadState
	featureOrder     []string
	criticalDone     bool
	sharedDone       bool
	sharedInProgress bool

	sf singleflight.Group
}

// Option customizes a TieredLoader.
type Option func(*TieredLoader)

// WithTracer installs a tracer for tier-load spans; the default is a
// no-op.
func WithTracer(tr trace.Tracer) Option {
	return func(l *TieredLoader) { l.tracer = tr }
}

// New creates a loader over the given tier definitions. The feature table
// is closed: the set of known names is fixed at wiring time.
func New(critical, shared []registry.Module, features FeatureTable, opts ...Option) *TieredLoader {
	l := &TieredLoader{
		critical: critical,
		shared:   shared,
		features: features,
		tracer:   noop.NewTracerProvider().Tracer("loader"),
		state:    make(map[string]LoadState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CriticalDone reports whether the Critical tier has fully completed.
func (l *TieredLoader) CriticalDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.criticalDone
}

// SharedDone reports whether the Shared tier has fully completed.
func (l *TieredLoader) SharedDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sharedDone
}

// FeatureState returns the load state recorded for name.
func (l *TieredLoader) FeatureState(name string) LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.state[name]; ok {
		return s
	}
	return StateNotLoaded
}

// LoadCritical loads the Critical tier into reg. The modules load in
// parallel with each other and the whole tier must complete before the
// application is considered interactive; any failure aborts startup.
func (l *TieredLoader) LoadCritical(ctx context.Context, reg *registry.Registry) error {
	ctx, span := l.tracer.Start(ctx, tracing.SpanCriticalTier,
		trace.WithAttributes(
			attribute.String(tracing.AttrTier, "critical"),
			attribute.Int(tracing.AttrModuleCount, len(l.critical)),
		))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range l.critical {
		g.Go(func() error {
			return loadModule(gctx, reg, m)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		log.ErrorErr(log.CatLoader, "critical tier failed", err)
		return err
	}

	l.mu.Lock()
	l.criticalDone = true
	l.mu.Unlock()

	log.Info(log.CatLoader, "critical tier loaded", "modules", len(l.critical))
	return nil
}

// LoadShared loads the Shared tier into reg. A failure is logged and the
// in-progress flag reset so a later trigger can retry; it never aborts the
// app. Loading twice, or while another load is in flight, is a no-op.
func (l *TieredLoader) LoadShared(ctx context.Context, reg *registry.Registry) error {
	l.mu.Lock()
	if l.sharedDone || l.sharedInProgress {
		l.mu.Unlock()
		return nil
	}
	l.sharedInProgress = true
	l.mu.Unlock()

	ctx, span := l.tracer.Start(ctx, tracing.SpanSharedTier,
		trace.WithAttributes(
			attribute.String(tracing.AttrTier, "shared"),
			attribute.Int(tracing.AttrModuleCount, len(l.shared)),
		))
	defer span.End()

	for _, m := range l.shared {
		if err := loadModule(ctx, reg, m); err != nil {
			l.mu.Lock()
			l.sharedInProgress = false
			l.mu.Unlock()
			span.RecordError(err)
			log.ErrorErr(log.CatLoader, "shared tier failed, will retry on next trigger", err)
			return err
		}
	}

	l.mu.Lock()
	l.sharedDone = true
	l.sharedInProgress = false
	l.mu.Unlock()

	log.Info(log.CatLoader, "shared tier loaded", "modules", len(l.shared))
	return nil
}

// LoadFeature loads the modules registered under name into reg on first
// reference. Concurrent requests for the same name share one in-flight
// load. The name is recorded Loaded only after every module succeeds, so a
// failed attempt can be retried. Unknown names are a no-op: stale
// references to removed features must not become errors.
func (l *TieredLoader) LoadFeature(ctx context.Context, reg *registry.Registry, name string) error {
	l.mu.Lock()
	if !l.criticalDone {
		l.mu.Unlock()
		return ErrCriticalNotComplete
	}
	if l.state[name] == StateLoaded {
		l.mu.Unlock()
		return nil
	}
	modules, known := l.features[name]
	l.mu.Unlock()

	if !known {
		log.Warn(log.CatLoader, "load request ignored",
			"reason", UnknownFeatureError{Name: name}.Error())
		return nil
	}

	_, err, _ := l.sf.Do(name, func() (any, error) {
		l.mu.Lock()
		if l.state[name] == StateLoaded {
			l.mu.Unlock()
			return nil, nil
		}
		l.state[name] = StateLoading
		l.mu.Unlock()

		for _, m := range modules {
			if err := loadModule(ctx, reg, m); err != nil {
				l.mu.Lock()
				l.state[name] = StateNotLoaded
				l.mu.Unlock()
				return nil, err
			}
		}

		l.mu.Lock()
		l.state[name] = StateLoaded
		l.featureOrder = append(l.featureOrder, name)
		l.mu.Unlock()

		log.Info(log.CatLoader, "feature loaded", "feature", name, "modules", len(modules))
		return nil, nil
	})
	return err
}

// PreloadFeature speculatively loads a feature on a detached task. Errors
// are caught and logged, never surfaced to the caller.
func (l *TieredLoader) PreloadFeature(reg *registry.Registry, name string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(log.CatLoader, "preload panicked", "feature", name, "panic", rec)
			}
		}()
		if err := l.LoadFeature(context.Background(), reg, name); err != nil {
			log.ErrorErr(log.CatLoader, "preload failed", err, "feature", name)
		}
	}()
}

// LoadedFeatures returns the feature names recorded Loaded, in the order
// their first successful load completed. This is the replay order during a
// reconfiguration cycle.
func (l *TieredLoader) LoadedFeatures() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.featureOrder...)
}

// Replay rebuilds a shadow registry: Critical, then Shared (if it had
// completed), then every previously-Loaded feature, in load order. The
// loader's own state is untouched; replay targets only the shadow.
func (l *TieredLoader) Replay(ctx context.Context, shadow *registry.Registry) error {
	l.mu.Lock()
	critical := l.critical
	shared := l.shared
	replayShared := l.sharedDone
	order := append([]string(nil), l.featureOrder...)
	l.mu.Unlock()

	for _, m := range critical {
		if err := loadModule(ctx, shadow, m); err != nil {
			return err
		}
	}
	if replayShared {
		for _, m := range shared {
			if err := loadModule(ctx, shadow, m); err != nil {
				return err
			}
		}
	}
	for _, name := range order {
		for _, m := range l.features[name] {
			if err := loadModule(ctx, shadow, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadModule runs the module's own initialization and then installs its
// bindings atomically.
func loadModule(ctx context.Context, reg *registry.Registry, m registry.Module) error {
	if m.Init != nil {
		if err := m.Init(ctx); err != nil {
			return registry.ModuleLoadError{Module: m.Name, Err: err}
		}
	}
	if err := reg.Install(m); err != nil {
		return err
	}
	return nil
}
