package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const duckDuckGoURL = "https://duckduckgo.com/ac/"

// DuckDuckGo collects autocomplete phrases from the /ac/ endpoint, which
// replies with an array of {"phrase": ...} objects.
type DuckDuckGo struct {
	*base
	baseURL string
}

// NewDuckDuckGo builds the duckduckgo adapter.
func NewDuckDuckGo(deps Deps, opts Options) *DuckDuckGo {
	u := opts.BaseURL
	if u == "" {
		u = duckDuckGoURL
	}
	return &DuckDuckGo{
		base: newBase("duckduckgo",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

func (d *DuckDuckGo) ExtractSuggestions(payload []byte) ([]string, error) {
	var entries []struct {
		Phrase string `json:"phrase"`
	}
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("ac payload: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Phrase != "" {
			out = append(out, e.Phrase)
		}
	}
	return out, nil
}

func (d *DuckDuckGo) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := d.deps.Clock.Now()
	opCtx, release, err := d.begin(ctx)
	if err != nil {
		return d.degraded(DegradationNetwork, start, err)
	}
	defer release()

	params := url.Values{"q": {seed}, "type": {"list"}}
	payload, cached, deg, err := d.fetch(opCtx, "suggest", seed, http.MethodGet, d.baseURL, params)
	if err != nil {
		return d.degraded(deg, start, err)
	}

	terms, err := d.ExtractSuggestions(payload)
	if err != nil {
		return d.degraded(DegradationParseError, start, err)
	}

	return Result{
		Provider:    d.name,
		Keywords:    d.buildKeywords(terms, nil, limit, d.ClassifyIntent),
		CacheServed: cached,
		Elapsed:     d.deps.Clock.Since(start),
	}
}

var _ Adapter = (*DuckDuckGo)(nil)
