package registry

import (
	"fmt"
	"strings"
)

// NotBoundError means the identifier has no binding in the registry.
// This is a programmer error (a missing module load) and is not retried.
type NotBoundError struct {
	ID ID
}

func (e NotBoundError) Error() string {
	return fmt.Sprintf("service not bound: %s", e.ID.String())
}

// CyclicDependencyError means an identifier was resolved re-entrantly while
// its own factory was still running.
type CyclicDependencyError struct {
	Path []ID
}

func (e CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return "cyclic service dependency detected"
	}
	parts := make([]string, len(e.Path))
	for i := range e.Path {
		parts[i] = e.Path[i].String()
	}
	return "cyclic service dependency detected: " + strings.Join(parts, " -> ")
}

// ModuleLoadError means a module's own initialization or installation failed.
type ModuleLoadError struct {
	Module string
	Err    error
}

func (e ModuleLoadError) Error() string {
	return fmt.Sprintf("load module %q: %v", e.Module, e.Err)
}

func (e ModuleLoadError) Unwrap() error {
	return e.Err
}

// TypeMismatchError means ResolveAs[T] failed to cast the resolved instance to T.
type TypeMismatchError struct {
	ID       ID
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("service type mismatch for %s: expected=%s actual=%s",
		e.ID.String(), e.Expected, e.Actual)
}
