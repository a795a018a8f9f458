package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"keywordforge/internal/breaker"
	"keywordforge/internal/cache"
	"keywordforge/internal/keyword"
	"keywordforge/internal/logging"
	"keywordforge/internal/ratelimit"
	"keywordforge/internal/session"
)

// Deps bundles the shared infrastructure every adapter calls through. Built
// once at the composition root and injected.
type Deps struct {
	Cache    cache.Cache
	Limiter  *ratelimit.Limiter
	Breaker  *breaker.Breaker
	Sessions *session.Manager
	Clock    clock.PassiveClock
}

// Options is the per-adapter tuning shared by all providers.
type Options struct {
	BaseURL  string        // endpoint root; defaults to the provider's live URL
	CacheTTL time.Duration // payload cache lifetime
}

var errAdapterClosed = errors.New("adapter is closed")

// base carries the adapter lifecycle and the guarded upstream call path:
// cache lookup, rate limit acquire, breaker call, session request, cache
// store. Providers embed it and add parsing.
type base struct {
	name string
	caps Capabilities
	deps Deps
	ttl  time.Duration

	mu         sync.Mutex
	opened     bool
	closed     bool
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	inflight   sync.WaitGroup

	normalizer *keyword.Normalizer
}

func newBase(name string, caps Capabilities, deps Deps, ttl time.Duration) *base {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	norm, _ := keyword.NewNormalizer(keyword.NormalizerOptions{})
	return &base{
		name:       name,
		caps:       caps,
		deps:       deps,
		ttl:        ttl,
		normalizer: norm,
	}
}

func (b *base) Name() string               { return b.name }
func (b *base) Capabilities() Capabilities { return b.caps }

// Open acquires the adapter's lifecycle. Calling collect operations before
// Open (or after Close) yields a degraded result, never a panic.
func (b *base) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errAdapterClosed
	}
	if b.opened {
		return nil
	}
	b.lifeCtx, b.lifeCancel = context.WithCancel(context.Background())
	b.opened = true
	logging.Get(logging.CategoryCollector).Debugw("adapter opened", "provider", b.name)
	return nil
}

// Close cancels in-flight operations and waits for them to drain before
// returning.
func (b *base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.lifeCancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.inflight.Wait()
	logging.Get(logging.CategoryCollector).Debugw("adapter closed", "provider", b.name)
	return nil
}

// begin ties the caller's context to the adapter lifecycle. The returned
// context is cancelled when either the caller's deadline passes or the
// adapter closes. release must be deferred.
func (b *base) begin(ctx context.Context) (opCtx context.Context, release func(), err error) {
	b.mu.Lock()
	if !b.opened || b.closed {
		b.mu.Unlock()
		return nil, nil, errAdapterClosed
	}
	life := b.lifeCtx
	b.inflight.Add(1)
	b.mu.Unlock()

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	release = func() {
		stop()
		cancel()
		b.inflight.Done()
	}
	return opCtx, release, nil
}

// fetch runs one guarded upstream call. The cache is consulted first; on a
// hit no token is consumed and no request is made. Cache writes happen
// before fetch returns.
func (b *base) fetch(ctx context.Context, op, arg, method, rawURL string, params url.Values) (payload []byte, cacheServed bool, deg Degradation, err error) {
	key := cache.Key(b.name, op, arg, nil)
	if v, ok := b.deps.Cache.Get(ctx, key); ok {
		if p, isBytes := v.([]byte); isBytes {
			logging.Get(logging.CategoryCollector).Debugw("cache hit",
				"provider", b.name, "op", op, "arg", arg)
			return p, true, DegradationNone, nil
		}
	}

	if err := b.deps.Limiter.Acquire(ctx, b.name); err != nil {
		return nil, false, DegradationRateLimited, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	var resp *session.Response
	callErr := b.deps.Breaker.Call(ctx, b.name, func(ctx context.Context) error {
		r, reqErr := b.deps.Sessions.Request(ctx, b.name, method, rawURL, params, nil)
		if reqErr != nil {
			return reqErr
		}
		resp = r
		return nil
	})
	if callErr != nil {
		return nil, false, classifyError(callErr), callErr
	}

	if setErr := b.deps.Cache.Set(ctx, key, resp.Body, b.ttl); setErr != nil {
		// Cache trouble is a miss next time, nothing more.
		logging.Get(logging.CategoryCache).Warnw("cache store failed",
			"provider", b.name, "key", key, "error", setErr)
	}
	return resp.Body, false, DegradationNone, nil
}

// classifyError maps the layered error chain onto a degradation kind.
func classifyError(err error) Degradation {
	if errors.Is(err, breaker.ErrOpen) {
		return DegradationCircuitOpen
	}
	if kind, ok := session.KindOf(err); ok {
		switch kind {
		case session.KindRateLimited:
			return DegradationRateLimited
		case session.KindAuthExpired:
			return DegradationAuthFailed
		case session.KindTimeout:
			return DegradationTimeout
		case session.KindUpstream:
			return DegradationUpstreamError
		case session.KindBadResponse:
			return DegradationBadResponse
		case session.KindNetwork:
			return DegradationNetwork
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DegradationTimeout
	}
	return DegradationNetwork
}

// terminalAPIFailure reports whether the degradation justifies engaging a
// scrape fallback: the API is broken, not merely throttled or isolated.
func terminalAPIFailure(d Degradation) bool {
	switch d {
	case DegradationUpstreamError, DegradationBadResponse, DegradationParseError:
		return true
	default:
		return false
	}
}

// degraded builds the failure-path Result.
func (b *base) degraded(d Degradation, start time.Time, errs ...error) Result {
	return Result{
		Provider:    b.name,
		Degradation: d,
		Errors:      errs,
		Elapsed:     b.deps.Clock.Since(start),
	}
}

// buildKeywords normalizes raw suggestion terms into candidates, applying
// per-call deduplication, provenance and the provider's intent classifier.
// No state survives across calls.
func (b *base) buildKeywords(terms []string, metrics map[string]Metrics, limit int, classify func(string) keyword.Intent) []keyword.Keyword {
	now := b.deps.Clock.Now()
	seen := make(map[string]bool, len(terms))
	out := make([]keyword.Keyword, 0, len(terms))

	for _, raw := range terms {
		if limit > 0 && len(out) >= limit {
			break
		}
		term := b.normalizer.NormalizeTerm(raw)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true

		m := metrics[term]
		intent := keyword.IntentInformational
		if classify != nil {
			intent = classify(term)
		}
		k := keyword.New(term, m.SearchVolume, m.CPC, m.Competition, intent)
		k.Source = b.name
		k.CollectedAt = now
		out = append(out, k)
	}
	return out
}
