package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"keywordforge/internal/keyword"
)

const (
	amazonSuggestURL = "https://completion.amazon.com/api/2017/suggestions"
	amazonSearchURL  = "https://www.amazon.com/s"
)

// AmazonSuggest collects product search suggestions from the completion API
// and falls back to scraping the search results page when the API is
// terminally broken. Throttling and an open breaker do not engage the
// fallback; those are conditions to back off from, not route around.
type AmazonSuggest struct {
	*base
	apiURL    string
	scrapeURL string
}

// NewAmazonSuggest builds the amazon_suggest adapter. ScrapeURL overrides the
// fallback endpoint; BaseURL overrides the API endpoint.
func NewAmazonSuggest(deps Deps, opts Options, scrapeURL string) *AmazonSuggest {
	api := opts.BaseURL
	if api == "" {
		api = amazonSuggestURL
	}
	if scrapeURL == "" {
		scrapeURL = amazonSearchURL
	}
	return &AmazonSuggest{
		base: newBase("amazon_suggest",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		apiURL:    api,
		scrapeURL: scrapeURL,
	}
}

func (a *AmazonSuggest) ExtractSuggestions(payload []byte) ([]string, error) {
	var reply struct {
		Suggestions []struct {
			Value string `json:"value"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("completion payload: %w", err)
	}
	out := make([]string, 0, len(reply.Suggestions))
	for _, s := range reply.Suggestions {
		if s.Value != "" {
			out = append(out, s.Value)
		}
	}
	return out, nil
}

// extractScrape pulls product titles out of the search results markup.
func (a *AmazonSuggest) extractScrape(payload []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search page: %w", err)
	}
	var terms []string
	doc.Find("span.a-text-normal, h2 a span").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			terms = append(terms, text)
		}
	})
	if len(terms) == 0 {
		return nil, fmt.Errorf("search page: no product titles found")
	}
	return terms, nil
}

// ClassifyIntent treats product suggestions as transactional unless the
// shared vocabulary says otherwise.
func (a *AmazonSuggest) ClassifyIntent(term string) keyword.Intent {
	if intent := heuristicIntent(term); intent != keyword.IntentInformational {
		return intent
	}
	return keyword.IntentTransactional
}

func (a *AmazonSuggest) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := a.deps.Clock.Now()
	opCtx, release, err := a.begin(ctx)
	if err != nil {
		return a.degraded(DegradationNetwork, start, err)
	}
	defer release()

	params := url.Values{"prefix": {seed}, "mid": {"ATVPDKIKX0DER"}, "alias": {"aps"}}
	payload, cached, deg, apiErr := a.fetch(opCtx, "suggest", seed, http.MethodGet, a.apiURL, params)

	var terms []string
	if apiErr == nil {
		terms, apiErr = a.ExtractSuggestions(payload)
		if apiErr != nil {
			deg = DegradationParseError
		}
	}
	if apiErr == nil {
		return Result{
			Provider:    a.name,
			Keywords:    a.buildKeywords(terms, nil, limit, a.ClassifyIntent),
			CacheServed: cached,
			Elapsed:     a.deps.Clock.Since(start),
		}
	}
	if !terminalAPIFailure(deg) {
		return a.degraded(deg, start, apiErr)
	}

	// API is terminally broken; try the results page once.
	scrapeParams := url.Values{"k": {seed}}
	payload, cached, scrapeDeg, scrapeErr := a.fetch(opCtx, "scrape", seed, http.MethodGet, a.scrapeURL, scrapeParams)
	if scrapeErr != nil {
		return a.degraded(scrapeDeg, start, apiErr, scrapeErr)
	}
	terms, scrapeErr = a.extractScrape(payload)
	if scrapeErr != nil {
		return a.degraded(DegradationParseError, start, apiErr, scrapeErr)
	}

	return Result{
		Provider:       a.name,
		Keywords:       a.buildKeywords(terms, nil, limit, a.ClassifyIntent),
		CacheServed:    cached,
		ScrapeFallback: true,
		Errors:         []error{apiErr},
		Elapsed:        a.deps.Clock.Since(start),
	}
}

var _ Adapter = (*AmazonSuggest)(nil)
