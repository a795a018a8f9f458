// Package cache defines the async key-value contract consumed by collectors
// and enrichers, plus the in-memory implementation used by default. The core
// never assumes durability: a cache that loses everything between calls is a
// valid implementation.
package cache

import (
	"context"
	"time"
)

// Cache is the store contract. Keys are opaque strings; values are whatever
// the caller put in. Get failures are indistinguishable from misses by
// design: implementations log internally and report absent.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Nop is a Cache that stores nothing. Useful for tests and for disabling
// caching per provider.
type Nop struct{}

func (Nop) Get(context.Context, string) (any, bool)                       { return nil, false }
func (Nop) Set(context.Context, string, any, time.Duration) error         { return nil }
func (Nop) Delete(context.Context, string) error                          { return nil }

var _ Cache = Nop{}
