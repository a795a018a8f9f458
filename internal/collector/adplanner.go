package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const adPlannerURL = "https://ads.example.com/v2/keyword-metrics"

// AdPlanner is the metrics provider: given terms it returns search volume,
// CPC and competition from the advertising planner API. OAuth client
// credentials; token lifecycle lives in the session manager.
type AdPlanner struct {
	*base
	baseURL string
}

// NewAdPlanner builds the ad_planner adapter. The session manager must have
// the provider registered with AuthOAuth credentials before first use.
func NewAdPlanner(deps Deps, opts Options) *AdPlanner {
	u := opts.BaseURL
	if u == "" {
		u = adPlannerURL
	}
	return &AdPlanner{
		base: newBase("ad_planner",
			caps(CapExtractMetrics, CapValidateTerm, CapCollectMetrics),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

// ExtractMetrics parses the planner reply, a per-term metrics object.
func (p *AdPlanner) ExtractMetrics(payload []byte) (map[string]Metrics, error) {
	var reply struct {
		Metrics map[string]Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("planner payload: %w", err)
	}
	if reply.Metrics == nil {
		return nil, fmt.Errorf("planner payload: missing metrics object")
	}
	out := make(map[string]Metrics, len(reply.Metrics))
	for term, m := range reply.Metrics {
		out[strings.ToLower(term)] = m
	}
	return out, nil
}

// CollectMetrics fetches metrics for a term batch. The batch is sorted before
// keying so equivalent requests share a cache entry regardless of caller
// ordering.
func (p *AdPlanner) CollectMetrics(ctx context.Context, terms []string) MetricsResult {
	if len(terms) == 0 {
		return MetricsResult{Provider: p.name, PerTerm: map[string]Metrics{}}
	}

	opCtx, release, err := p.begin(ctx)
	if err != nil {
		return MetricsResult{Provider: p.name, Degradation: DegradationNetwork, Errors: []error{err}}
	}
	defer release()

	batch := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = p.normalizer.NormalizeTerm(t); t != "" {
			batch = append(batch, t)
		}
	}
	sort.Strings(batch)
	arg := strings.Join(batch, ",")

	params := url.Values{"keywords": {arg}}
	payload, cached, deg, err := p.fetch(opCtx, "metrics", arg, http.MethodGet, p.baseURL, params)
	if err != nil {
		return MetricsResult{Provider: p.name, Degradation: deg, Errors: []error{err}}
	}

	perTerm, err := p.ExtractMetrics(payload)
	if err != nil {
		return MetricsResult{Provider: p.name, Degradation: DegradationParseError, Errors: []error{err}}
	}

	return MetricsResult{Provider: p.name, PerTerm: perTerm, CacheServed: cached}
}

var _ Adapter = (*AdPlanner)(nil)
