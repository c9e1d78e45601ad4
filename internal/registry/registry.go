package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/keelruntime/keel/internal/log"
)

// Registry holds bindings and resolves identifiers to instances, honoring
// lifetime. A registry is one "generation": singleton instances are cached
// per registry and die with it. Exactly one registry is active process-wide
// at any instant; the reconfiguration manager owns that pointer.
type Registry struct {
	mu        sync.RWMutex
	bindings  map[ID]Binding
	instances map[ID]any

	sf singleflight.Group

	generation string
}

// New creates an empty registry with a fresh generation id.
func New() *Registry {
	return &Registry{
		bindings:   make(map[ID]Binding),
		instances:  make(map[ID]any),
		generation: uuid.NewString(),
	}
}

// Generation returns the unique id of this registry generation.
func (r *Registry) Generation() string {
	return r.generation
}

// Bind associates id with a factory and lifetime. Binding an already-bound
// identifier is a no-op, so independent modules may declare overlapping
// dependencies on a shared service without conflict.
func (r *Registry) Bind(id ID, factory Factory, lifetime Lifetime) error {
	if err := validateBinding(Binding{ID: id, Lifetime: lifetime, Factory: factory}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, bound := r.bindings[id]; bound {
		log.Debug(log.CatRegistry, "skipping bind, already bound", "id", id, "generation", r.generation)
		return nil
	}
	r.bindings[id] = Binding{ID: id, Lifetime: lifetime, Factory: factory}
	return nil
}

// Install installs every binding of the module atomically: the module is
// validated up front and either all of its bindings install or none do.
// Already-bound identifiers are skipped (guarded bind).
func (r *Registry) Install(m Module) error {
	for _, b := range m.Bindings {
		if err := validateBinding(b); err != nil {
			return ModuleLoadError{Module: m.Name, Err: err}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	installed := 0
	for _, b := range m.Bindings {
		if _, bound := r.bindings[b.ID]; bound {
			continue
		}
		r.bindings[b.ID] = b
		installed++
	}
	log.Debug(log.CatRegistry, "module installed", "module", m.Name,
		"installed", installed, "skipped", len(m.Bindings)-installed, "generation", r.generation)
	return nil
}

// IsBound reports whether id has a binding in this registry.
func (r *Registry) IsBound(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, bound := r.bindings[id]
	return bound
}

// Get resolves id to an instance. Singleton factories run at most once per
// registry generation, transient factories on every call. Unbound ids fail
// with NotBoundError; re-entrant resolution of an id whose own factory is
// still running fails fast with CyclicDependencyError instead of recursing.
func (r *Registry) Get(id ID) (any, error) {
	return r.resolve(id, nil)
}

func (r *Registry) resolve(id ID, stack []ID) (any, error) {
	if id.IsZero() {
		return nil, NotBoundError{ID: id}
	}
	for i := range stack {
		if stack[i] == id {
			cycle := append(append([]ID(nil), stack[i:]...), id)
			return nil, CyclicDependencyError{Path: cycle}
		}
	}
	next := append(append(make([]ID, 0, len(stack)+1), stack...), id)

	r.mu.RLock()
	b, bound := r.bindings[id]
	if !bound {
		r.mu.RUnlock()
		return nil, NotBoundError{ID: id}
	}
	if b.Lifetime == Singleton {
		if cached, ok := r.instances[id]; ok {
			r.mu.RUnlock()
			return cached, nil
		}
	}
	r.mu.RUnlock()

	if b.Lifetime == Transient {
		return b.Factory(boundResolver{registry: r, stack: next})
	}

	// Singleflight keeps the factory from running twice when several call
	// sites race on the first resolution of a singleton.
	v, err, _ := r.sf.Do(id.name, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.instances[id]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		instance, err := b.Factory(boundResolver{registry: r, stack: next})
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.instances[id] = instance
		r.mu.Unlock()
		return instance, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// boundResolver carries the in-progress identifier set of one resolution
// chain into factories, so nested resolves can detect cycles.
type boundResolver struct {
	registry *Registry
	stack    []ID
}

func (br boundResolver) Resolve(id ID) (any, error) {
	return br.registry.resolve(id, br.stack)
}

// Singletons returns a copy of the live singleton instances, used by the
// reconfiguration manager to capture the singleton snapshot.
func (r *Registry) Singletons() map[ID]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[ID]any, len(r.instances))
	for id, instance := range r.instances {
		out[id] = instance
	}
	return out
}

// BoundIDs returns the bound identifiers sorted by name.
func (r *Registry) BoundIDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].name < ids[j].name })
	return ids
}

// UnbindAll releases every binding and cached instance. Called on the
// superseded registry after a swap, when it no longer serves traffic.
func (r *Registry) UnbindAll() {
	r.mu.Lock()
	released := len(r.bindings)
	r.bindings = make(map[ID]Binding)
	r.instances = make(map[ID]any)
	r.mu.Unlock()

	log.Debug(log.CatRegistry, "registry unbound", "released", released, "generation", r.generation)
}

func validateBinding(b Binding) error {
	if b.ID.IsZero() {
		return fmt.Errorf("binding has zero identifier")
	}
	if b.Factory == nil {
		return fmt.Errorf("binding %s has nil factory", b.ID)
	}
	if b.Lifetime != Transient && b.Lifetime != Singleton {
		return fmt.Errorf("binding %s has unknown lifetime %q", b.ID, b.Lifetime)
	}
	return nil
}
