package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keywordforge/internal/breaker"
	"keywordforge/internal/cache"
	"keywordforge/internal/keyword"
	"keywordforge/internal/ratelimit"
	"keywordforge/internal/session"
)

func newTestDeps(t *testing.T, brOpts breaker.Options) Deps {
	t.Helper()
	if brOpts.Classify == nil {
		brOpts.Classify = BreakerClassify
	}
	cfg := session.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.RetryBaseDelay = time.Millisecond
	mgr := session.NewManager(cfg)
	t.Cleanup(mgr.Close)
	return Deps{
		Cache:    cache.NewMemory(cache.DefaultMemoryOptions()),
		Limiter:  ratelimit.New(nil),
		Breaker:  breaker.New(brOpts),
		Sessions: mgr,
	}
}

func openAdapter(t *testing.T, a Adapter) {
	t.Helper()
	require.NoError(t, a.Open(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
}

func TestGoogleSuggestCollectAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "seo tools", r.URL.Query().Get("q"))
		w.Write([]byte(`["seo tools",["seo tools free","Best SEO Tools","seo tools free"]]`))
	}))
	defer srv.Close()

	g := NewGoogleSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, g)

	res := g.CollectKeywords(context.Background(), "seo tools", 0)
	require.False(t, res.Degraded(), "unexpected degradation: %v %v", res.Degradation, res.Errors)
	require.Len(t, res.Keywords, 2, "duplicates collapse within a call")
	assert.Equal(t, "seo tools free", res.Keywords[0].Term)
	assert.Equal(t, "best seo tools", res.Keywords[1].Term)
	assert.Equal(t, keyword.IntentCommercial, res.Keywords[1].Intent)
	assert.Equal(t, "google_suggest", res.Keywords[0].Source)
	assert.False(t, res.CacheServed)

	// Second identical call is served from cache without touching the wire.
	res2 := g.CollectKeywords(context.Background(), "seo tools", 0)
	require.False(t, res2.Degraded())
	assert.True(t, res2.CacheServed)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCollectBeforeOpenDegrades(t *testing.T) {
	g := NewGoogleSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: "http://127.0.0.1:1"})
	res := g.CollectKeywords(context.Background(), "seo", 0)
	assert.True(t, res.Degraded())
	assert.Empty(t, res.Keywords)
}

func TestCollectAfterCloseDegrades(t *testing.T) {
	g := NewGoogleSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, g.Open(context.Background()))
	require.NoError(t, g.Close())
	res := g.CollectKeywords(context.Background(), "seo", 0)
	assert.True(t, res.Degraded())
}

func TestLimitBoundsKeywords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["q",["one","two","three","four","five"]]`))
	}))
	defer srv.Close()

	g := NewGoogleSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, g)

	res := g.CollectKeywords(context.Background(), "q", 3)
	require.False(t, res.Degraded())
	assert.Len(t, res.Keywords, 3)
}

func TestUpstreamErrorThenCircuitOpenSkipsHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	deps := newTestDeps(t, breaker.Options{FailureThreshold: 1, ResetTimeout: time.Hour})
	b := NewBingSuggest(deps, Options{BaseURL: srv.URL})
	openAdapter(t, b)

	res := b.CollectKeywords(context.Background(), "first", 0)
	assert.Equal(t, DegradationUpstreamError, res.Degradation)
	assert.NotEmpty(t, res.Errors)
	tried := hits.Load()
	assert.Greater(t, tried, int32(0))

	// Circuit tripped; different seed avoids the payload cache and the call
	// must be rejected without a request.
	res2 := b.CollectKeywords(context.Background(), "second", 0)
	assert.Equal(t, DegradationCircuitOpen, res2.Degradation)
	assert.Equal(t, tried, hits.Load())
}

func TestRateLimitedDegradation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, d)

	res := d.CollectKeywords(context.Background(), "seo", 0)
	assert.Equal(t, DegradationRateLimited, res.Degradation)
	assert.Empty(t, res.Keywords)
}

func TestMalformedPayloadIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	g := NewGoogleSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, g)

	res := g.CollectKeywords(context.Background(), "seo", 0)
	assert.Equal(t, DegradationParseError, res.Degradation)
}

func TestYouTubeSuggestIntentBias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yt", r.URL.Query().Get("ds"))
		w.Write([]byte(`["q",["golang tutorial for beginners","best golang course"]]`))
	}))
	defer srv.Close()

	y := NewYouTubeSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, y)

	res := y.CollectKeywords(context.Background(), "golang", 0)
	require.False(t, res.Degraded())
	require.Len(t, res.Keywords, 2)
	assert.Equal(t, keyword.IntentInformational, res.Keywords[0].Intent)
	assert.Equal(t, keyword.IntentCommercial, res.Keywords[1].Intent)
}

func TestAmazonScrapeFallbackOnUpstreamError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer api.Close()
	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "running shoes", r.URL.Query().Get("k"))
		w.Write([]byte(`<html><body>
			<h2><a><span>Trail Running Shoes</span></a></h2>
			<span class="a-text-normal">Road Running Shoes</span>
		</body></html>`))
	}))
	defer scrape.Close()

	a := NewAmazonSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: api.URL}, scrape.URL)
	openAdapter(t, a)

	res := a.CollectKeywords(context.Background(), "running shoes", 0)
	assert.True(t, res.ScrapeFallback)
	require.Len(t, res.Keywords, 2)
	assert.Equal(t, keyword.IntentTransactional, res.Keywords[0].Intent)
	assert.NotEmpty(t, res.Errors, "the API failure is still reported")
}

func TestAmazonNoFallbackWhenThrottled(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer api.Close()
	var scrapeHits atomic.Int32
	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scrapeHits.Add(1)
	}))
	defer scrape.Close()

	a := NewAmazonSuggest(newTestDeps(t, breaker.Options{}), Options{BaseURL: api.URL}, scrape.URL)
	openAdapter(t, a)

	res := a.CollectKeywords(context.Background(), "shoes", 0)
	assert.Equal(t, DegradationRateLimited, res.Degradation)
	assert.False(t, res.ScrapeFallback)
	assert.Equal(t, int32(0), scrapeHits.Load(), "throttling must not reroute to scraping")
}

func TestAdPlannerMetricsBatchKeyIsOrderInsensitive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "seo audit,seo tools", r.URL.Query().Get("keywords"))
		w.Write([]byte(`{"metrics":{
			"SEO Tools":{"search_volume":880,"cpc":2.5,"competition":0.7},
			"seo audit":{"search_volume":320,"cpc":4.1,"competition":0.5}
		}}`))
	}))
	defer srv.Close()

	p := NewAdPlanner(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, p)

	res := p.CollectMetrics(context.Background(), []string{"seo tools", "seo audit"})
	require.Equal(t, DegradationNone, res.Degradation, "errors: %v", res.Errors)
	require.Len(t, res.PerTerm, 2)
	assert.Equal(t, 880, res.PerTerm["seo tools"].SearchVolume, "terms are lowercased on extract")

	res2 := p.CollectMetrics(context.Background(), []string{"seo audit", "seo tools"})
	assert.True(t, res2.CacheServed)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAdPlannerEmptyBatch(t *testing.T) {
	p := NewAdPlanner(newTestDeps(t, breaker.Options{}), Options{BaseURL: "http://127.0.0.1:1"})
	openAdapter(t, p)
	res := p.CollectMetrics(context.Background(), nil)
	assert.Equal(t, DegradationNone, res.Degradation)
	assert.Empty(t, res.PerTerm)
}

func TestRedditCollectDerivesMetricsFromEngagement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"children":[
			{"data":{"title":"How do I learn SEO fast?","ups":420,"upvote_ratio":0.95}},
			{"data":{"title":"","ups":10,"upvote_ratio":0.5}},
			{"data":{"title":"this title is way too long to ever work as a keyword phrase for anyone at all","ups":5,"upvote_ratio":0.5}}
		]}}`))
	}))
	defer srv.Close()

	rd := NewReddit(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, rd)

	res := rd.CollectKeywords(context.Background(), "seo", 0)
	require.False(t, res.Degraded(), "errors: %v", res.Errors)
	require.Len(t, res.Keywords, 1, "empty and over-long titles are dropped")
	k := res.Keywords[0]
	assert.Equal(t, keyword.IntentInformational, k.Intent)
	assert.Equal(t, 420, k.SearchVolume)
	assert.InDelta(t, 0.05, k.Competition, 1e-9)
}

func TestForumExtractsQuestionTitles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="question-title" href="/q/1">How to migrate a blog?</a>
			<a class="nav-link" href="/about">About us</a>
			<a class="question-title featured" href="/q/2">Why is my site slow</a>
		</body></html>`))
	}))
	defer srv.Close()

	f := NewForum(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, f)

	res := f.CollectKeywords(context.Background(), "blog", 0)
	require.False(t, res.Degraded(), "errors: %v", res.Errors)
	require.Len(t, res.Keywords, 2, "non-question anchors are ignored")
	assert.Equal(t, keyword.IntentInformational, res.Keywords[0].Intent)
	assert.Equal(t, keyword.IntentInformational, res.Keywords[1].Intent)
}

func TestForumEmptyPageIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>no results</p></body></html>`))
	}))
	defer srv.Close()

	f := NewForum(newTestDeps(t, breaker.Options{}), Options{BaseURL: srv.URL})
	openAdapter(t, f)

	res := f.CollectKeywords(context.Background(), "blog", 0)
	assert.Equal(t, DegradationParseError, res.Degradation)
}

func TestCapabilityDeclarations(t *testing.T) {
	deps := newTestDeps(t, breaker.Options{})
	g := NewGoogleSuggest(deps, Options{})
	assert.True(t, g.Capabilities().Has(CapCollectKeywords))
	assert.False(t, g.Capabilities().Has(CapCollectMetrics))

	p := NewAdPlanner(deps, Options{})
	assert.True(t, p.Capabilities().Has(CapCollectMetrics))
	assert.False(t, p.Capabilities().Has(CapCollectKeywords))

	// Undeclared operations return empty results, not errors.
	res := p.CollectKeywords(context.Background(), "seo", 0)
	assert.Empty(t, res.Keywords)
}

func TestValidateTerm(t *testing.T) {
	g := NewGoogleSuggest(newTestTermDeps(t), Options{})
	assert.True(t, g.ValidateTerm("  Melhor CRM  "))
	assert.False(t, g.ValidateTerm(""))
	assert.False(t, g.ValidateTerm("one two three four five six seven eight nine ten eleven"))
	assert.False(t, g.ValidateTerm("invalid@term"))
}

func newTestTermDeps(t *testing.T) Deps {
	return newTestDeps(t, breaker.Options{})
}

func TestClassifyErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want Degradation
	}{
		{breaker.ErrOpen, DegradationCircuitOpen},
		{&session.Error{Kind: session.KindRateLimited}, DegradationRateLimited},
		{&session.Error{Kind: session.KindAuthExpired}, DegradationAuthFailed},
		{&session.Error{Kind: session.KindUpstream}, DegradationUpstreamError},
		{&session.Error{Kind: session.KindBadResponse}, DegradationBadResponse},
		{&session.Error{Kind: session.KindTimeout}, DegradationTimeout},
		{&session.Error{Kind: session.KindNetwork}, DegradationNetwork},
		{context.DeadlineExceeded, DegradationTimeout},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyError(tc.err), "for %v", tc.err)
	}
}
