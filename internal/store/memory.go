package store

import (
	"sync"
	"time"
)

// DefaultTTL is how long an entry stays fresh when no TTL is given.
const DefaultTTL = 30 * time.Minute

// Cache is a string-keyed store of values with a freshness window.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	SetWithTTL(key string, value V, ttl time.Duration)
	Remove(key string) bool
	Clear()
}

var _ Cache[string] = (*MemoryStore[string])(nil)

type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// MemoryStore is a concurrency-safe in-memory TTL cache. Expired entries are
// never returned; they are dropped lazily on Get and in bulk by CleanupExpired.
type MemoryStore[V any] struct {
	mu sync.RWMutex

	data map[string]entry[V]
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
// If ttl is <= 0, DefaultTTL is used.
func NewMemoryStore[V any](ttl time.Duration) *MemoryStore[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore[V]{
		data: make(map[string]entry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the default freshness window.
func (s *MemoryStore[V]) TTL() time.Duration {
	return s.ttl
}

// Get returns the value for key if present and fresh.
func (s *MemoryStore[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !e.expired(s.now()) {
		return e.value, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another writer may have replaced it since the read lock was released.
	if cur, ok := s.data[key]; ok && cur.expired(s.now()) {
		delete(s.data, key)
	}
	return zero, false
}

// Set stores value under key with the default TTL, replacing any prior entry.
func (s *MemoryStore[V]) Set(key string, value V) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (s *MemoryStore[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = entry[V]{value: value, insertedAt: s.now(), ttl: ttl}
}

// Remove deletes key and reports whether it was present.
func (s *MemoryStore[V]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Clear deletes every entry.
func (s *MemoryStore[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]entry[V])
}

// CleanupExpired drops every expired entry and returns how many were removed.
func (s *MemoryStore[V]) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
