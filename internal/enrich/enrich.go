// Package enrich attaches typed signal records to candidate keywords:
// semantic structure, contextual relevance, trend, competition and intent.
// Records are attached non-destructively; the candidate itself is never
// mutated. Results are memoized in a bounded LRU keyed by the candidate's
// identity plus the optional context.
package enrich

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
	"k8s.io/utils/clock"

	"keywordforge/internal/keyword"
	"keywordforge/internal/logging"
)

// SignalType names a signal family.
type SignalType string

const (
	SignalSemantic    SignalType = "semantic"
	SignalContextual  SignalType = "contextual"
	SignalTrend       SignalType = "trend"
	SignalCompetition SignalType = "competition"
	SignalIntent      SignalType = "intent"
)

// Signal is one typed observation about a term.
type Signal struct {
	Type        SignalType     `json:"type"`
	Payload     map[string]any `json:"payload"`
	Confidence  float64        `json:"confidence"`
	Source      string         `json:"source"`
	CollectedAt time.Time      `json:"collected_at"`
}

// Record is the per-term enrichment result.
type Record struct {
	Term    string   `json:"term"`
	Signals []Signal `json:"signals"`
}

// Context carries the optional caller-supplied situational hints. Contextual
// signals are produced only when a context is present.
type Context struct {
	Domain   string   `json:"domain"`
	Audience string   `json:"audience"`
	Season   string   `json:"season"`
	Trends   []string `json:"trends"`
}

// TrendProvider supplies real trend data when one is wired. Without it the
// trend signal degrades to neutral constants.
type TrendProvider interface {
	Trend(term string) (TrendInfo, error)
}

// TrendInfo is the provider's view of a term's trajectory.
type TrendInfo struct {
	Direction       string  // rising, falling, stable
	Strength        float64 // [0,1]
	GrowthPotential float64 // [0,1]
}

// Options configures the enricher.
type Options struct {
	CacheEnabled        bool    `yaml:"cache_enabled"`
	MaxCacheSize        int     `yaml:"max_cache_size"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	BrandTerms    []string `yaml:"brand_terms"`
	LocationTerms []string `yaml:"location_terms"`
	ProductTerms  []string `yaml:"product_terms"`
	SeasonalTerms []string `yaml:"seasonal_terms"`
}

// DefaultOptions returns standard enrichment settings.
func DefaultOptions() Options {
	return Options{
		CacheEnabled:        true,
		MaxCacheSize:        2048,
		ConfidenceThreshold: 0.3,
		SeasonalTerms: []string{
			"christmas", "natal", "black friday", "summer", "winter",
			"verao", "inverno", "easter", "pascoa", "holiday",
		},
	}
}

// Enricher produces enrichment records. Safe for concurrent use; the LRU
// guards its own state.
type Enricher struct {
	opts  Options
	clock clock.PassiveClock
	trend TrendProvider

	brands    map[string]bool
	locations map[string]bool
	products  map[string]bool
	seasonal  []string

	cache *lru.Cache[uint64, *Record]
}

// New builds an enricher. trend may be nil.
func New(opts Options, trend TrendProvider) (*Enricher, error) {
	return NewWithClock(opts, trend, clock.RealClock{})
}

// NewWithClock injects a clock for deterministic timestamps in tests.
func NewWithClock(opts Options, trend TrendProvider, c clock.PassiveClock) (*Enricher, error) {
	if opts.MaxCacheSize <= 0 {
		opts.MaxCacheSize = DefaultOptions().MaxCacheSize
	}

	e := &Enricher{
		opts:      opts,
		clock:     c,
		trend:     trend,
		brands:    termSet(opts.BrandTerms),
		locations: termSet(opts.LocationTerms),
		products:  termSet(opts.ProductTerms),
		seasonal:  lowerAll(opts.SeasonalTerms),
	}
	if opts.CacheEnabled {
		cache, err := lru.New[uint64, *Record](opts.MaxCacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Enrich produces the signal record for one candidate. A nil context skips
// the contextual family. Signals below the confidence threshold are dropped;
// a record with zero surviving signals comes back nil.
func (e *Enricher) Enrich(k keyword.Keyword, qctx *Context) *Record {
	key, keyOK := e.cacheKey(k, qctx)
	if keyOK && e.cache != nil {
		if rec, ok := e.cache.Get(key); ok {
			return rec
		}
	}

	now := e.clock.Now()
	candidates := []Signal{
		e.semanticSignal(k, now),
		e.trendSignal(k, now),
		e.competitionSignal(k, now),
		e.intentSignal(k, now),
	}
	if qctx != nil {
		candidates = append(candidates, e.contextualSignal(k, qctx, now))
	}

	var kept []Signal
	for _, s := range candidates {
		if s.Confidence >= e.opts.ConfidenceThreshold {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		logging.Get(logging.CategoryEnrich).Debugw("no signals above threshold", "term", k.Term)
		return nil
	}

	rec := &Record{Term: k.Term, Signals: kept}
	if keyOK && e.cache != nil {
		e.cache.Add(key, rec)
	}
	return rec
}

// cacheKey hashes the fields that determine the enrichment outcome.
func (e *Enricher) cacheKey(k keyword.Keyword, qctx *Context) (uint64, bool) {
	type identity struct {
		Term    string
		Volume  int
		CPC     float64
		Context *Context
	}
	h, err := hashstructure.Hash(identity{k.Key(), k.SearchVolume, k.CPC, qctx},
		hashstructure.FormatV2, nil)
	if err != nil {
		return 0, false
	}
	return h, true
}

// CacheLen reports the number of memoized records.
func (e *Enricher) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}
