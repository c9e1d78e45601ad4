package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/keelruntime/keel/internal/cachemanager"
	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/registry"
)

// Snapshot is the point-in-time capture of live singleton instances taken
// when a reconfiguration cycle begins. It bridges the cycle: mid-cycle
// resolutions may be served a possibly-stale singleton out of it. It is
// cleared at the end of every cycle, success or rollback. The TTL on the
// backing cache is a safety net against a cycle that never clears.
type Snapshot struct {
	cache cachemanager.CacheManager[string, any]

	mu         sync.Mutex
	active     bool
	capturedAt time.Time
}

// NewSnapshot creates an empty snapshot store with the given TTL.
func NewSnapshot(ttl time.Duration) *Snapshot {
	return &Snapshot{
		cache: cachemanager.NewInMemoryCacheManager[string, any]("singleton-snapshot", ttl, ttl),
	}
}

// Capture records every live singleton of reg.
func (s *Snapshot) Capture(ctx context.Context, reg *registry.Registry) {
	singletons := reg.Singletons()
	for id, instance := range singletons {
		// ttl 0 defers to the snapshot TTL configured at construction.
		s.cache.Set(ctx, id.Name(), instance, 0)
	}

	s.mu.Lock()
	s.active = true
	s.capturedAt = time.Now()
	s.mu.Unlock()

	log.Debug(log.CatReconfig, "singleton snapshot captured",
		"instances", len(singletons), "generation", reg.Generation())
}

// Lookup returns the snapshotted instance for id, if the snapshot is active
// and holds one.
func (s *Snapshot) Lookup(ctx context.Context, id registry.ID) (any, bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return nil, false
	}
	return s.cache.Get(ctx, id.Name())
}

// Clear empties the snapshot. Called at the end of every cycle.
func (s *Snapshot) Clear(ctx context.Context) {
	s.mu.Lock()
	s.active = false
	s.capturedAt = time.Time{}
	s.mu.Unlock()

	_ = s.cache.Flush(ctx)
}

// Active reports whether a capture is currently live.
func (s *Snapshot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CapturedAt returns the capture timestamp of the live snapshot.
func (s *Snapshot) CapturedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturedAt
}
