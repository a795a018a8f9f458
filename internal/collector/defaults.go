package collector

import (
	"context"
	"regexp"
	"strings"

	"keywordforge/internal/keyword"
	"keywordforge/internal/session"
)

// Default capability implementations. Adapters embed base and override the
// operations they declare; everything else returns empty results instead of
// erroring, so the orchestrator can treat the full interface uniformly.

func (b *base) ExtractSuggestions([]byte) ([]string, error) { return nil, nil }

func (b *base) ExtractMetrics([]byte) (map[string]Metrics, error) { return nil, nil }

// ValidateTerm is the cheap pre-pipeline sanity gate shared by all providers:
// the term must survive normalization and stay within phrase length bounds.
func (b *base) ValidateTerm(term string) bool {
	t := b.normalizer.NormalizeTerm(term)
	if t == "" {
		return false
	}
	words := strings.Fields(t)
	return len(words) >= 1 && len(words) <= 10
}

func (b *base) ClassifyIntent(term string) keyword.Intent {
	return heuristicIntent(term)
}

func (b *base) CollectKeywords(_ context.Context, _ string, _ int) Result {
	return Result{Provider: b.name}
}

func (b *base) CollectMetrics(_ context.Context, _ []string) MetricsResult {
	return MetricsResult{Provider: b.name}
}

// BreakerClassify is the circuit classifier wired into the shared breaker:
// upstream faults and throttling count, client-side rejections do not.
func BreakerClassify(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := session.KindOf(err); ok {
		return kind.IsBreakerFailure()
	}
	return true
}

// Intent vocabulary shared by the suggestion providers. The enrichment layer
// runs a richer ensemble later; this only seeds the initial classification.
var (
	transactionalRe = regexp.MustCompile(`\b(buy|comprar|order|pedido|subscribe|assinar|download|baixar)\b`)
	commercialRe    = regexp.MustCompile(`\b(best|melhor|top|price|preco|cheap|barato|review|avaliacao|deal|discount|desconto)\b`)
	comparisonRe    = regexp.MustCompile(`\b(vs|versus|compare|comparar|alternative|alternativa)\b`)
	navigationalRe  = regexp.MustCompile(`\b(login|entrar|official|oficial|site|website|app)\b`)
)

func heuristicIntent(term string) keyword.Intent {
	t := strings.ToLower(term)
	switch {
	case transactionalRe.MatchString(t):
		return keyword.IntentTransactional
	case comparisonRe.MatchString(t):
		return keyword.IntentComparison
	case commercialRe.MatchString(t):
		return keyword.IntentCommercial
	case navigationalRe.MatchString(t):
		return keyword.IntentNavigational
	default:
		return keyword.IntentInformational
	}
}
