// Package ratelimit enforces per-provider request quotas over two windows:
// requests per minute and requests per hour. One limiter instance is shared
// process-wide and injected wherever upstream calls are made.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"keywordforge/internal/logging"
)

// Quota is the per-provider bucket sizing.
type Quota struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

// DefaultQuota is applied to providers without an explicit entry.
func DefaultQuota() Quota {
	return Quota{PerMinute: 30, PerHour: 500}
}

// providerLimiter pairs the two token buckets for one provider. A request is
// admitted only when both buckets admit.
type providerLimiter struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

// Limiter is the process-wide rate limiter. Thread-safe; waiters for the same
// provider are served roughly in arrival order.
type Limiter struct {
	mu       sync.RWMutex
	quotas   map[string]Quota
	limiters map[string]*providerLimiter
	fallback Quota
}

// New builds a limiter with per-provider quotas. Providers not present in the
// map get the fallback quota on first use.
func New(quotas map[string]Quota) *Limiter {
	l := &Limiter{
		quotas:   make(map[string]Quota, len(quotas)),
		limiters: make(map[string]*providerLimiter),
		fallback: DefaultQuota(),
	}
	for provider, q := range quotas {
		l.quotas[provider] = q
	}
	return l
}

func newProviderLimiter(q Quota) *providerLimiter {
	if q.PerMinute <= 0 {
		q.PerMinute = DefaultQuota().PerMinute
	}
	if q.PerHour <= 0 {
		q.PerHour = DefaultQuota().PerHour
	}
	return &providerLimiter{
		minute: rate.NewLimiter(rate.Limit(float64(q.PerMinute)/60.0), q.PerMinute),
		hour:   rate.NewLimiter(rate.Limit(float64(q.PerHour)/3600.0), q.PerHour),
	}
}

func (l *Limiter) get(provider string) *providerLimiter {
	l.mu.RLock()
	pl, ok := l.limiters[provider]
	l.mu.RUnlock()
	if ok {
		return pl
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if pl, ok := l.limiters[provider]; ok {
		return pl
	}
	q, ok := l.quotas[provider]
	if !ok {
		q = l.fallback
	}
	pl = newProviderLimiter(q)
	l.limiters[provider] = pl
	return pl
}

// Acquire blocks until both windows admit one request for the provider, or
// the context is done. Tokens regenerate continuously; the wait is exactly
// the shortest duration that makes both buckets admit.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	pl := l.get(provider)

	start := time.Now()
	if err := pl.minute.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait (%s, minute window): %w", provider, err)
	}
	if err := pl.hour.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait (%s, hour window): %w", provider, err)
	}

	if waited := time.Since(start); waited > 50*time.Millisecond {
		logging.Get(logging.CategoryRateLimit).Debugw("throttled",
			"provider", provider, "waited", waited)
	}
	return nil
}

// Allow reports whether a request would be admitted right now, consuming the
// tokens when it is. Non-blocking; tokens are returned on refusal.
func (l *Limiter) Allow(provider string) bool {
	pl := l.get(provider)

	rm := pl.minute.Reserve()
	if !rm.OK() || rm.Delay() > 0 {
		rm.Cancel()
		return false
	}
	rh := pl.hour.Reserve()
	if !rh.OK() || rh.Delay() > 0 {
		rh.Cancel()
		rm.Cancel()
		return false
	}
	return true
}
