package cache

import (
	"sync"
	"time"
)

// Snapshot caches a single derived value with a TTL. It shields an expensive
// upstream read (the cluster resource summary) from hot polling; staleness up
// to the TTL is acceptable because the value only feeds dashboards.
type Snapshot[T any] struct {
	mu        sync.Mutex
	value     T
	expiresAt time.Time
	ttl       time.Duration
}

// NewSnapshot creates an empty snapshot cache. A non-positive ttl disables
// caching: Get never hits.
func NewSnapshot[T any](ttl time.Duration) *Snapshot[T] {
	return &Snapshot[T]{ttl: ttl}
}

// Get returns the cached value while it is fresh.
func (s *Snapshot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().After(s.expiresAt) {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Set stores a value and restarts the TTL window.
func (s *Snapshot[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.expiresAt = time.Now().Add(s.ttl)
}

// Invalidate expires the snapshot immediately.
func (s *Snapshot[T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Time{}
}
