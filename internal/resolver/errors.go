package resolver

import (
	"fmt"
	"time"

	"github.com/keelruntime/keel/internal/registry"
)

// PhaseError means a synchronous resolution could not be answered because
// the runtime is in a phase with no registry able to serve it.
type PhaseError struct {
	State State
}

func (e PhaseError) Error() string {
	return fmt.Sprintf("resolution unavailable in phase %q", e.State)
}

// QueueFullError means the deferred resolution queue is at capacity; the
// request is rejected immediately rather than growing the queue unbounded.
type QueueFullError struct {
	Capacity int
}

func (e QueueFullError) Error() string {
	return fmt.Sprintf("deferred resolution queue full (capacity %d)", e.Capacity)
}

// QueueTimeoutError means a deferred request waited past its timeout
// without the queue draining.
type QueueTimeoutError struct {
	ID      registry.ID
	Waited  time.Duration
	Request string
}

func (e QueueTimeoutError) Error() string {
	return fmt.Sprintf("deferred resolution of %s timed out after %s", e.ID, e.Waited)
}

// ReconfigurationError means the shadow registry failed to build. It always
// resolves into a rollback: the active registry is never corrupted.
type ReconfigurationError struct {
	Cycle string
	Err   error
}

func (e ReconfigurationError) Error() string {
	return fmt.Sprintf("reconfiguration cycle %s rolled back: %v", e.Cycle, e.Err)
}

func (e ReconfigurationError) Unwrap() error {
	return e.Err
}
