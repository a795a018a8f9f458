package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"keywordforge/internal/keyword"
)

const youtubeSuggestURL = "https://suggestqueries.google.com/complete/search"

// YouTubeSuggest collects video-flavored autocomplete suggestions. The wire
// shape matches the opensearch array; the ds=yt datasource selects the video
// corpus.
type YouTubeSuggest struct {
	*base
	baseURL string
}

// NewYouTubeSuggest builds the youtube_suggest adapter.
func NewYouTubeSuggest(deps Deps, opts Options) *YouTubeSuggest {
	u := opts.BaseURL
	if u == "" {
		u = youtubeSuggestURL
	}
	return &YouTubeSuggest{
		base: newBase("youtube_suggest",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

func (y *YouTubeSuggest) ExtractSuggestions(payload []byte) ([]string, error) {
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

// ClassifyIntent biases the shared heuristic toward informational: video
// queries are overwhelmingly how-to and tutorial traffic.
func (y *YouTubeSuggest) ClassifyIntent(term string) keyword.Intent {
	t := strings.ToLower(term)
	if strings.Contains(t, "tutorial") || strings.Contains(t, "how to") || strings.Contains(t, "como") {
		return keyword.IntentInformational
	}
	return heuristicIntent(term)
}

func (y *YouTubeSuggest) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := y.deps.Clock.Now()
	opCtx, release, err := y.begin(ctx)
	if err != nil {
		return y.degraded(DegradationNetwork, start, err)
	}
	defer release()

	params := url.Values{"client": {"firefox"}, "ds": {"yt"}, "q": {seed}}
	payload, cached, deg, err := y.fetch(opCtx, "suggest", seed, http.MethodGet, y.baseURL, params)
	if err != nil {
		return y.degraded(deg, start, err)
	}

	terms, err := y.ExtractSuggestions(payload)
	if err != nil {
		return y.degraded(DegradationParseError, start, err)
	}

	return Result{
		Provider:    y.name,
		Keywords:    y.buildKeywords(terms, nil, limit, y.ClassifyIntent),
		CacheServed: cached,
		Elapsed:     y.deps.Clock.Since(start),
	}
}

var _ Adapter = (*YouTubeSuggest)(nil)
