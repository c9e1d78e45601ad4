// Package registry implements the binding store at the heart of the
// service-resolution runtime: interned service identifiers, bindings with
// transient or singleton lifetimes, named modules, and the Registry that
// constructs, caches, and hands out instances.
package registry

import "sync"

// ID is an opaque token naming a requested capability. IDs are interned by
// name: two IDs obtained for the same name are the same token.
type ID struct {
	name string
}

// Name returns the interned name of the identifier.
func (id ID) Name() string {
	return id.name
}

func (id ID) String() string {
	return id.name
}

// IsZero reports whether the ID was never interned.
func (id ID) IsZero() bool {
	return id.name == ""
}

var (
	internMu sync.Mutex
	interned = make(map[string]ID)
)

// Intern returns the process-wide token for name, creating it on first use.
// Identifiers live for the whole process; there is no way to retire one.
func Intern(name string) ID {
	internMu.Lock()
	defer internMu.Unlock()

	if id, ok := interned[name]; ok {
		return id
	}
	id := ID{name: name}
	interned[name] = id
	return id
}

// KnownIDs returns every identifier interned so far, in no particular order.
// Used by development tooling to enumerate the identifier space.
func KnownIDs() []ID {
	internMu.Lock()
	defer internMu.Unlock()

	ids := make([]ID, 0, len(interned))
	for _, id := range interned {
		ids = append(ids, id)
	}
	return ids
}
