package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"keywordforge/internal/keyword"
)

const forumSearchURL = "https://community.example.com/search"

// Forum scrapes community Q&A pages for question phrasings. Scrape-only
// provider: the session manager handles the cookie/CSRF login handshake, this
// adapter only walks the markup.
type Forum struct {
	*base
	baseURL string
}

// NewForum builds the forum adapter. The session manager must have the
// provider registered with AuthCookie credentials before first use.
func NewForum(deps Deps, opts Options) *Forum {
	u := opts.BaseURL
	if u == "" {
		u = forumSearchURL
	}
	return &Forum{
		base: newBase("forum",
			caps(CapExtractSuggestions, CapValidateTerm, CapCollectKeywords, CapClassifyIntent),
			deps, opts.CacheTTL),
		baseURL: u,
	}
}

// ExtractSuggestions walks the page for anchors carrying the question-title
// class and returns their text content.
func (f *Forum) ExtractSuggestions(payload []byte) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search page: %w", err)
	}

	var terms []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "question-title") {
			if text := strings.TrimSpace(nodeText(n)); text != "" {
				terms = append(terms, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(terms) == 0 {
		return nil, fmt.Errorf("search page: no question titles found")
	}
	return terms, nil
}

// ClassifyIntent treats question phrasings as informational.
func (f *Forum) ClassifyIntent(term string) keyword.Intent {
	t := strings.ToLower(term)
	if strings.HasSuffix(strings.TrimSpace(t), "?") ||
		strings.HasPrefix(t, "how") || strings.HasPrefix(t, "why") || strings.HasPrefix(t, "como") {
		return keyword.IntentInformational
	}
	return heuristicIntent(term)
}

func (f *Forum) CollectKeywords(ctx context.Context, seed string, limit int) Result {
	start := f.deps.Clock.Now()
	opCtx, release, err := f.begin(ctx)
	if err != nil {
		return f.degraded(DegradationNetwork, start, err)
	}
	defer release()

	params := url.Values{"q": {seed}}
	payload, cached, deg, err := f.fetch(opCtx, "search", seed, http.MethodGet, f.baseURL, params)
	if err != nil {
		return f.degraded(deg, start, err)
	}

	terms, err := f.ExtractSuggestions(payload)
	if err != nil {
		return f.degraded(DegradationParseError, start, err)
	}

	return Result{
		Provider:       f.name,
		Keywords:       f.buildKeywords(terms, nil, limit, f.ClassifyIntent),
		CacheServed:    cached,
		ScrapeFallback: true, // scrape is this provider's primary path
		Elapsed:        f.deps.Clock.Since(start),
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var _ Adapter = (*Forum)(nil)
