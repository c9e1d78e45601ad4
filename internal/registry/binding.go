package registry

// Lifetime represents the lifecycle strategy for a bound service.
type Lifetime string

const (
	// Transient constructs a fresh instance on every resolution.
	Transient Lifetime = "transient"

	// Singleton constructs the instance at most once per registry
	// generation and returns the identical instance afterwards.
	Singleton Lifetime = "singleton"
)

// String returns the string representation of the lifetime.
func (l Lifetime) String() string {
	return string(l)
}

// Resolver is the resolution capability handed to factories, so a factory
// can pull its own dependencies from the same registry generation.
type Resolver interface {
	Resolve(id ID) (any, error)
}

// Factory constructs one service instance.
type Factory func(r Resolver) (any, error)

// Binding associates an identifier with a construction strategy and a
// lifetime.
type Binding struct {
	ID       ID
	Lifetime Lifetime
	Factory  Factory
}
