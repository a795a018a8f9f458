package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"keywordforge/internal/logging"
)

// MemoryOptions configures the in-memory cache.
type MemoryOptions struct {
	DefaultTTL      time.Duration // used when Set is called with ttl <= 0
	CleanupInterval time.Duration // expired-entry sweep period
	MaxEntries      int           // 0 means unbounded
}

// DefaultMemoryOptions returns the standard in-process cache sizing.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{
		DefaultTTL:      15 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxEntries:      10000,
	}
}

// Memory is the default Cache implementation: a TTL store with a hard entry
// cap. At capacity, expired entries are swept first and then the least
// recently used entry is dropped to make room.
type Memory struct {
	store *gocache.Cache
	opts  MemoryOptions

	mu   sync.Mutex
	tick uint64
	used map[string]uint64 // key -> last-touch tick
}

// NewMemory builds an in-memory cache.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultMemoryOptions().DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultMemoryOptions().CleanupInterval
	}
	return &Memory{
		store: gocache.New(opts.DefaultTTL, opts.CleanupInterval),
		opts:  opts,
		used:  make(map[string]uint64),
	}
}

// Get returns the value for key, or absent on miss or expiry. A hit marks the
// entry most recently used.
func (m *Memory) Get(_ context.Context, key string) (any, bool) {
	v, ok := m.store.Get(key)
	if ok {
		m.touch(key)
	}
	return v, ok
}

// Set stores value under key for ttl. A non-positive ttl uses the default.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}
	if m.opts.MaxEntries > 0 && m.store.ItemCount() >= m.opts.MaxEntries {
		// Overwriting an existing key needs no room.
		if _, exists := m.store.Get(key); !exists {
			m.evictOne()
		}
	}
	m.store.Set(key, value, ttl)
	m.touch(key)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	m.mu.Lock()
	delete(m.used, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) touch(key string) {
	m.mu.Lock()
	m.tick++
	m.used[key] = m.tick
	m.mu.Unlock()
}

// evictOne drops expired entries first, then the least recently used live
// entry.
func (m *Memory) evictOne() {
	m.store.DeleteExpired()

	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.store.Items()
	for key := range m.used {
		if _, ok := items[key]; !ok {
			delete(m.used, key)
		}
	}
	if len(items) < m.opts.MaxEntries {
		return
	}

	var victim string
	var oldest uint64
	first := true
	for key := range items {
		if t := m.used[key]; first || t < oldest {
			victim, oldest = key, t
			first = false
		}
	}
	if victim != "" {
		m.store.Delete(victim)
		delete(m.used, victim)
		logging.Get(logging.CategoryCache).Debugw("evicted lru entry at capacity", "key", victim)
	}
}

var _ Cache = (*Memory)(nil)
