package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const googleSuggestURL = "https://suggestqueries.google.com/complete/search"

// GoogleSuggest collects autocomplete suggestions from the public suggest
// endpoint. Suggestions arrive without metrics; downstream enrichment fills
// those in.
type GoogleSuggest struct {
	*base
	baseURL string
}

// NewGoogleSuggest builds the google_suggest adapter.
func NewGoogleSuggest(deps Deps, opts Options) *GoogleSuggest {
	u := opts.BaseURL
	if u == "" {
		u = googleSuggestURL
	}
	return &GoogleSuggest{
		base: newBase("google_suggest",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

// ExtractSuggestions parses the opensearch reply: a two-element JSON array of
// the echoed query and the suggestion list.
func (g *GoogleSuggest) ExtractSuggestions(payload []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("suggest payload: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("suggest payload: expected query and suggestion list, got %d elements", len(raw))
	}
	var suggestions []string
	if err := json.Unmarshal(raw[1], &suggestions); err != nil {
		return nil, fmt.Errorf("suggest payload: suggestion list: %w", err)
	}
	return suggestions, nil
}

func (g *GoogleSuggest) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := g.deps.Clock.Now()
	opCtx, release, err := g.begin(ctx)
	if err != nil {
		return g.degraded(DegradationNetwork, start, err)
	}
	defer release()

	params := url.Values{"client": {"firefox"}, "q": {seed}}
	payload, cached, deg, err := g.fetch(opCtx, "suggest", seed, http.MethodGet, g.baseURL, params)
	if err != nil {
		return g.degraded(deg, start, err)
	}

	terms, err := g.ExtractSuggestions(payload)
	if err != nil {
		return g.degraded(DegradationParseError, start, err)
	}

	return Result{
		Provider:    g.name,
		Keywords:    g.buildKeywords(terms, nil, limit, g.ClassifyIntent),
		CacheServed: cached,
		Elapsed:     g.deps.Clock.Since(start),
	}
}

var _ Adapter = (*GoogleSuggest)(nil)
