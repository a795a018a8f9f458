// Package collector implements the provider adapter framework: a shared
// guarded call path (cache, rate limit, circuit breaker, session) plus one
// adapter per upstream data source. Adapters never panic or return raw
// errors across the boundary; every failure mode becomes a classified
// degradation on the result.
package collector

import (
	"context"
	"fmt"
	"time"

	"keywordforge/internal/keyword"
)

// Capability names one operation an adapter may support. The orchestrator
// inspects capabilities at construction, not per call.
type Capability int

const (
	CapExtractSuggestions Capability = iota
	CapExtractMetrics
	CapValidateTerm
	CapCollectKeywords
	CapCollectMetrics
	CapClassifyIntent
)

func (c Capability) String() string {
	switch c {
	case CapExtractSuggestions:
		return "extract_suggestions"
	case CapExtractMetrics:
		return "extract_metrics"
	case CapValidateTerm:
		return "validate_term"
	case CapCollectKeywords:
		return "collect_keywords"
	case CapCollectMetrics:
		return "collect_metrics"
	case CapClassifyIntent:
		return "classify_intent"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Capabilities is the declared operation set of one adapter.
type Capabilities map[Capability]bool

// Has reports support for a capability.
func (cs Capabilities) Has(c Capability) bool { return cs[c] }

func caps(list ...Capability) Capabilities {
	set := make(Capabilities, len(list))
	for _, c := range list {
		set[c] = true
	}
	return set
}

// Degradation classifies a less-than-fully-successful collector call.
type Degradation int

const (
	DegradationNone Degradation = iota
	DegradationRateLimited
	DegradationCircuitOpen
	DegradationAuthFailed
	DegradationUpstreamError
	DegradationBadResponse
	DegradationParseError
	DegradationTimeout
	DegradationNetwork
)

func (d Degradation) String() string {
	switch d {
	case DegradationNone:
		return "none"
	case DegradationRateLimited:
		return "rate_limited"
	case DegradationCircuitOpen:
		return "circuit_open"
	case DegradationAuthFailed:
		return "auth_failed"
	case DegradationUpstreamError:
		return "upstream_error"
	case DegradationBadResponse:
		return "bad_response"
	case DegradationParseError:
		return "parse_error"
	case DegradationTimeout:
		return "timeout"
	case DegradationNetwork:
		return "network"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Metrics is the per-term metric bundle a provider reports.
type Metrics struct {
	SearchVolume int     `json:"search_volume"`
	CPC          float64 `json:"cpc"`
	Competition  float64 `json:"competition"`
}

// Result is the outcome of one collect_keywords call. Degraded calls still
// return a Result; Errors carries whatever went wrong and the flags say how
// the call was served.
type Result struct {
	Provider string             `json:"provider"`
	Keywords []keyword.Keyword  `json:"keywords"`
	Metrics  map[string]Metrics `json:"metrics,omitempty"`
	Errors   []error            `json:"-"`

	CacheServed    bool          `json:"cache_served"`
	ScrapeFallback bool          `json:"scrape_fallback"`
	Degradation    Degradation   `json:"degradation"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Degraded reports whether the call fell short of a clean upstream success.
func (r Result) Degraded() bool { return r.Degradation != DegradationNone }

// MetricsResult is the outcome of one collect_metrics call.
type MetricsResult struct {
	Provider    string             `json:"provider"`
	PerTerm     map[string]Metrics `json:"per_term"`
	Errors      []error            `json:"-"`
	CacheServed bool               `json:"cache_served"`
	Degradation Degradation        `json:"degradation"`
}

// Adapter is the capability contract every provider implements. Adapters
// are scoped resources: Open acquires the session, Close cancels in-flight
// work and releases network resources. Methods outside the declared
// capability set return empty results.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	Open(ctx context.Context) error
	Close() error

	// Parsing operations (pure, non-suspending).
	ExtractSuggestions(payload []byte) ([]string, error)
	ExtractMetrics(payload []byte) (map[string]Metrics, error)
	ValidateTerm(term string) bool
	ClassifyIntent(term string) keyword.Intent

	// Upstream operations (suspending, deadline-aware).
	CollectKeywords(ctx context.Context, seed string, limit int) Result
	CollectMetrics(ctx context.Context, terms []string) MetricsResult
}
