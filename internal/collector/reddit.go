package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"keywordforge/internal/keyword"
)

const redditSearchURL = "https://oauth.reddit.com/search.json"

// Reddit mines discussion titles for candidate phrases. OAuth bearer auth;
// post scores approximate interest volume since the API carries no search
// metrics.
type Reddit struct {
	*base
	baseURL string
}

// NewReddit builds the reddit adapter. The session manager must have the
// provider registered with AuthOAuth credentials before first use.
func NewReddit(deps Deps, opts Options) *Reddit {
	u := opts.BaseURL
	if u == "" {
		u = redditSearchURL
	}
	return &Reddit{
		base: newBase("reddit",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title       string  `json:"title"`
				Ups         int     `json:"ups"`
				UpvoteRatio float64 `json:"upvote_ratio"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// ExtractSuggestions lifts post titles out of the listing, keeping only ones
// short enough to work as keyword phrases.
func (r *Reddit) ExtractSuggestions(payload []byte) ([]string, error) {
	var listing redditListing
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("listing payload: %w", err)
	}
	var terms []string
	for _, child := range listing.Data.Children {
		title := strings.TrimSpace(child.Data.Title)
		if title == "" || len(strings.Fields(title)) > 10 {
			continue
		}
		terms = append(terms, title)
	}
	return terms, nil
}

// ClassifyIntent leans informational: discussion titles are questions and
// experience reports far more often than purchase queries.
func (r *Reddit) ClassifyIntent(term string) keyword.Intent {
	if strings.HasSuffix(strings.TrimSpace(term), "?") {
		return keyword.IntentInformational
	}
	return heuristicIntent(term)
}

func (r *Reddit) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := r.deps.Clock.Now()
	opCtx, release, err := r.begin(ctx)
	if err != nil {
		return r.degraded(DegradationNetwork, start, err)
	}
	defer release()

	fetchLimit := 25
	if limit > 0 && limit < fetchLimit {
		fetchLimit = limit
	}
	params := url.Values{
		"q":     {seed},
		"sort":  {"relevance"},
		"limit": {strconv.Itoa(fetchLimit)},
	}
	payload, cached, deg, err := r.fetch(opCtx, "search", seed, http.MethodGet, r.baseURL, params)
	if err != nil {
		return r.degraded(deg, start, err)
	}

	var listing redditListing
	if err := json.Unmarshal(payload, &listing); err != nil {
		return r.degraded(DegradationParseError, start, fmt.Errorf("listing payload: %w", err))
	}

	// Post engagement stands in for volume and competition.
	var terms []string
	metrics := make(map[string]Metrics)
	for _, child := range listing.Data.Children {
		title := strings.TrimSpace(child.Data.Title)
		if title == "" || len(strings.Fields(title)) > 10 {
			continue
		}
		terms = append(terms, title)
		metrics[r.normalizer.NormalizeTerm(title)] = Metrics{
			SearchVolume: child.Data.Ups,
			Competition:  1 - child.Data.UpvoteRatio,
		}
	}

	return Result{
		Provider:    r.name,
		Keywords:    r.buildKeywords(terms, metrics, limit, r.ClassifyIntent),
		Metrics:     metrics,
		CacheServed: cached,
		Elapsed:     r.deps.Clock.Since(start),
	}
}

var _ Adapter = (*Reddit)(nil)
