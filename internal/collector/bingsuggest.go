package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const bingSuggestURL = "https://www.bing.com/osjson.aspx"

// BingSuggest collects autocomplete suggestions from the osjson endpoint,
// which speaks the same opensearch array shape as google's.
type BingSuggest struct {
	*base
	baseURL string
}

// NewBingSuggest builds the bing_suggest adapter.
func NewBingSuggest(deps Deps, opts Options) *BingSuggest {
	u := opts.BaseURL
	if u == "" {
		u = bingSuggestURL
	}
	return &BingSuggest{
		base: newBase("bing_suggest",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

func (b *BingSuggest) ExtractSuggestions(payload []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("osjson payload: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("osjson payload: expected query and suggestion list, got %d elements", len(raw))
	}
	var suggestions []string
	if err := json.Unmarshal(raw[1], &suggestions); err != nil {
		return nil, fmt.Errorf("osjson payload: suggestion list: %w", err)
	}
	return suggestions, nil
}

func (b *BingSuggest) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := b.deps.Clock.Now()
	opCtx, release, err := b.begin(ctx)
	if err != nil {
		return b.degraded(DegradationNetwork, start, err)
	}
	defer release()

	params := url.Values{"query": {seed}}
	payload, cached, deg, err := b.fetch(opCtx, "suggest", seed, http.MethodGet, b.baseURL, params)
	if err != nil {
		return b.degraded(deg, start, err)
	}

	terms, err := b.ExtractSuggestions(payload)
	if err != nil {
		return b.degraded(DegradationParseError, start, err)
	}

	return Result{
		Provider:    b.name,
		Keywords:    b.buildKeywords(terms, nil, limit, b.ClassifyIntent),
		CacheServed: cached,
		Elapsed:     b.deps.Clock.Since(start),
	}
}

var _ Adapter = (*BingSuggest)(nil)
