// Package testutil provides builders for assembling test modules and
// wirings without repeating binding boilerplate in every test.
package testutil

import (
	"context"
	"sync/atomic"

	"github.com/keelruntime/keel/internal/registry"
)

// ModuleBuilder accumulates bindings and builds a registry.Module.
type ModuleBuilder struct {
	name     string
	bindings []registry.Binding
	init     func(ctx context.Context) error
}

// NewModule creates a builder for a module with the given name.
func NewModule(name string) *ModuleBuilder {
	return &ModuleBuilder{name: name}
}

// WithSingleton adds a singleton binding for the interned name.
func (b *ModuleBuilder) WithSingleton(name string, factory registry.Factory) *ModuleBuilder {
	b.bindings = append(b.bindings, registry.Binding{
		ID:       registry.Intern(name),
		Lifetime: registry.Singleton,
		Factory:  factory,
	})
	return b
}

// WithTransient adds a transient binding for the interned name.
func (b *ModuleBuilder) WithTransient(name string, factory registry.Factory) *ModuleBuilder {
	b.bindings = append(b.bindings, registry.Binding{
		ID:       registry.Intern(name),
		Lifetime: registry.Transient,
		Factory:  factory,
	})
	return b
}

// WithValue adds a singleton binding that always yields value.
func (b *ModuleBuilder) WithValue(name string, value any) *ModuleBuilder {
	return b.WithSingleton(name, func(registry.Resolver) (any, error) {
		return value, nil
	})
}

// WithInit sets the module's own initialization hook.
func (b *ModuleBuilder) WithInit(init func(ctx context.Context) error) *ModuleBuilder {
	b.init = init
	return b
}

// WithFailingInit makes the module's initialization fail with err.
func (b *ModuleBuilder) WithFailingInit(err error) *ModuleBuilder {
	b.init = func(context.Context) error { return err }
	return b
}

// Build assembles the module.
func (b *ModuleBuilder) Build() registry.Module {
	return registry.Module{
		Name:     b.name,
		Bindings: b.bindings,
		Init:     b.init,
	}
}

// CountingFactory returns a factory yielding value and a counter of how
// many times it ran. Used to assert singleton construction counts.
func CountingFactory(value any) (registry.Factory, *atomic.Int32) {
	var count atomic.Int32
	factory := func(registry.Resolver) (any, error) {
		count.Add(1)
		return value, nil
	}
	return factory, &count
}
