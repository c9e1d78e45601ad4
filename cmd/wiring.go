package cmd

import (
	"time"

	"github.com/keelruntime/keel/internal/loader"
	"github.com/keelruntime/keel/internal/registry"
	"github.com/keelruntime/keel/internal/resolver"
)

// Sample service identifiers used by the harness wiring.
var (
	idClock     = registry.Intern("harness.clock")
	idGreeter   = registry.Intern("harness.greeter")
	idStore     = registry.Intern("harness.store")
	idReporter  = registry.Intern("harness.reporter")
	idExporter  = registry.Intern("harness.exporter")
	idScratchID = registry.Intern("harness.scratch")
)

type clockService struct {
	startedAt time.Time
}

type greeterService struct {
	clock *clockService
}

type storeService struct {
	values map[string]string
}

type reporterService struct {
	store *storeService
}

// harnessWiring builds the sample module tiers the dev harness boots:
// a Critical clock/greeter pair, a Shared key-value store, and a
// "reports" feature depending on the Shared store.
func harnessWiring() resolver.Wiring {
	criticalCore := registry.Module{
		Name: "harness-core",
		Bindings: []registry.Binding{
			{
				ID:       idClock,
				Lifetime: registry.Singleton,
				Factory: func(registry.Resolver) (any, error) {
					return &clockService{startedAt: time.Now()}, nil
				},
			},
			{
				ID:       idGreeter,
				Lifetime: registry.Singleton,
				Factory: func(r registry.Resolver) (any, error) {
					clock, err := r.Resolve(idClock)
					if err != nil {
						return nil, err
					}
					return &greeterService{clock: clock.(*clockService)}, nil
				},
			},
		},
	}

	sharedStore := registry.Module{
		Name: "harness-store",
		Bindings: []registry.Binding{
			{
				ID:       idStore,
				Lifetime: registry.Singleton,
				Factory: func(registry.Resolver) (any, error) {
					return &storeService{values: make(map[string]string)}, nil
				},
			},
			{
				ID:       idScratchID,
				Lifetime: registry.Transient,
				Factory: func(registry.Resolver) (any, error) {
					return time.Now().UnixNano(), nil
				},
			},
		},
	}

	reports := registry.Module{
		Name: "harness-reports",
		Bindings: []registry.Binding{
			{
				ID:       idReporter,
				Lifetime: registry.Singleton,
				Factory: func(r registry.Resolver) (any, error) {
					store, err := r.Resolve(idStore)
					if err != nil {
						return nil, err
					}
					return &reporterService{store: store.(*storeService)}, nil
				},
			},
			{
				ID:       idExporter,
				Lifetime: registry.Transient,
				Factory: func(r registry.Resolver) (any, error) {
					return r.Resolve(idReporter)
				},
			},
		},
	}

	return resolver.Wiring{
		Critical: []registry.Module{criticalCore},
		Shared:   []registry.Module{sharedStore},
		Features: loader.FeatureTable{
			"reports": {reports},
		},
	}
}
