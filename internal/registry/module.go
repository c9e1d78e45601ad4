package registry

import "context"

// Module is a named, ordered bundle of bindings, the atomic unit of
// loading: either all of its bindings install or none do. Modules are
// declared once, statically, and never destroyed.
type Module struct {
	Name     string
	Bindings []Binding

	// Init is the module's own asynchronous initialization, run before its
	// bindings install. Optional.
	Init func(ctx context.Context) error
}
