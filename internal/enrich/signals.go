package enrich

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"keywordforge/internal/keyword"
)

// semanticSignal extracts structural features of the term itself.
func (e *Enricher) semanticSignal(k keyword.Keyword, now time.Time) Signal {
	words := strings.Fields(k.Term)
	wordCount := len(words)

	var totalLen int
	for _, w := range words {
		totalLen += len(w)
	}
	avgWordLen := 0.0
	if wordCount > 0 {
		avgWordLen = float64(totalLen) / float64(wordCount)
	}

	hasDigits := strings.IndexFunc(k.Term, unicode.IsDigit) >= 0
	hasSpecial := strings.ContainsAny(k.Term, "-.,?!")
	longTail := wordCount > 2

	isBrand := e.matchesAny(words, e.brands)
	isLocation := e.matchesAny(words, e.locations)
	isProduct := e.matchesAny(words, e.products)

	// Confidence grows with how much structure we actually detected.
	confidence := 0.5
	for _, present := range []bool{hasDigits, hasSpecial, longTail, isBrand, isLocation, isProduct} {
		if present {
			confidence += 0.08
		}
	}
	if confidence > 1 {
		confidence = 1
	}

	return Signal{
		Type: SignalSemantic,
		Payload: map[string]any{
			"word_count":        wordCount,
			"avg_word_length":   avgWordLen,
			"has_digits":        hasDigits,
			"has_special_chars": hasSpecial,
			"long_tail":         longTail,
			"is_brand":          isBrand,
			"is_location":       isLocation,
			"is_product":        isProduct,
		},
		Confidence:  confidence,
		Source:      "semantic_features",
		CollectedAt: now,
	}
}

// contextualSignal scores the term against the caller-supplied context.
func (e *Enricher) contextualSignal(k keyword.Keyword, qctx *Context, now time.Time) Signal {
	term := strings.ToLower(k.Term)

	domainRel := overlapScore(term, qctx.Domain)
	audienceRel := overlapScore(term, qctx.Audience)
	seasonRel := overlapScore(term, qctx.Season)

	trendRel := 0.0
	for _, tr := range qctx.Trends {
		if s := overlapScore(term, tr); s > trendRel {
			trendRel = s
		}
	}

	// Confidence reflects how much context the caller actually supplied.
	supplied := 0
	for _, v := range []string{qctx.Domain, qctx.Audience, qctx.Season} {
		if v != "" {
			supplied++
		}
	}
	if len(qctx.Trends) > 0 {
		supplied++
	}
	confidence := float64(supplied) / 4.0

	return Signal{
		Type: SignalContextual,
		Payload: map[string]any{
			"domain_relevance":   domainRel,
			"audience_relevance": audienceRel,
			"season_relevance":   seasonRel,
			"trend_relevance":    trendRel,
		},
		Confidence:  confidence,
		Source:      "context_match",
		CollectedAt: now,
	}
}

// trendSignal reports trajectory data, real when a provider is wired and
// neutral constants otherwise. Seasonality comes from the vocabulary either
// way.
func (e *Enricher) trendSignal(k keyword.Keyword, now time.Time) Signal {
	term := strings.ToLower(k.Term)
	isSeasonal := false
	for _, season := range e.seasonal {
		if strings.Contains(term, season) {
			isSeasonal = true
			break
		}
	}

	info := TrendInfo{Direction: "stable", Strength: 0.5, GrowthPotential: 0.5}
	source := "trend_stub"
	confidence := 0.4
	if e.trend != nil {
		if real, err := e.trend.Trend(k.Term); err == nil {
			info = real
			source = "trend_provider"
			confidence = 0.8
		}
	}

	return Signal{
		Type: SignalTrend,
		Payload: map[string]any{
			"direction":        info.Direction,
			"strength":         info.Strength,
			"seasonal":         isSeasonal,
			"growth_potential": info.GrowthPotential,
		},
		Confidence:  confidence,
		Source:      source,
		CollectedAt: now,
	}
}

// competitionSignal derives difficulty/opportunity/saturation scalars from
// the candidate's metrics.
func (e *Enricher) competitionSignal(k keyword.Keyword, now time.Time) Signal {
	difficulty := k.Competition

	// High volume with low competition is the opportunity sweet spot.
	volumeFactor := float64(k.SearchVolume) / (float64(k.SearchVolume) + 100.0)
	opportunity := (1 - k.Competition) * volumeFactor

	saturation := k.Competition
	if k.CPC > 0 {
		saturation = (k.Competition + minFloat(k.CPC/5.0, 1.0)) / 2
	}

	return Signal{
		Type: SignalCompetition,
		Payload: map[string]any{
			"difficulty":  difficulty,
			"opportunity": opportunity,
			"saturation":  saturation,
		},
		Confidence:  0.7,
		Source:      "metric_derivation",
		CollectedAt: now,
	}
}

// Intent pattern ensembles. Order matters only for reporting; scoring is
// cumulative across all matching patterns of a class.
var (
	commercialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(buy|comprar|price|preco|cheap|barato|deal|discount|desconto)\b`),
		regexp.MustCompile(`\b(best|melhor|top|review|avaliacao)\b`),
		regexp.MustCompile(`\b(vs|versus|compare|comparar)\b`),
	}
	informationalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(how|como|what|o que|why|por que|tutorial|guide|guia)\b`),
		regexp.MustCompile(`\b(learn|aprender|course|curso|tips|dicas)\b`),
		regexp.MustCompile(`\?`),
	}
	navigationalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(login|entrar|site|website|official|oficial)\b`),
		regexp.MustCompile(`\b(download|baixar|app)\b`),
	}
)

// intentSignal scores the term against each pattern ensemble and reports the
// dominant class with the normalized score vector.
func (e *Enricher) intentSignal(k keyword.Keyword, now time.Time) Signal {
	term := strings.ToLower(k.Term)

	scores := map[string]float64{
		"commercial":    patternScore(term, commercialPatterns),
		"informational": patternScore(term, informationalPatterns),
		"navigational":  patternScore(term, navigationalPatterns),
	}

	var total float64
	for _, s := range scores {
		total += s
	}
	dominant := "informational" // default class when nothing matches
	confidence := 0.3
	if total > 0 {
		best := 0.0
		for class, s := range scores {
			scores[class] = s / total
			if scores[class] > best {
				best = scores[class]
				dominant = class
			}
		}
		confidence = 0.4 + 0.5*best
	}

	return Signal{
		Type: SignalIntent,
		Payload: map[string]any{
			"dominant":      dominant,
			"commercial":    scores["commercial"],
			"informational": scores["informational"],
			"navigational":  scores["navigational"],
		},
		Confidence:  confidence,
		Source:      "intent_patterns",
		CollectedAt: now,
	}
}

func patternScore(term string, patterns []*regexp.Regexp) float64 {
	var score float64
	for _, p := range patterns {
		if p.MatchString(term) {
			score++
		}
	}
	return score
}

func overlapScore(term, context string) float64 {
	if context == "" {
		return 0
	}
	ctxTokens := strings.Fields(strings.ToLower(context))
	if len(ctxTokens) == 0 {
		return 0
	}
	matches := 0
	for _, tok := range ctxTokens {
		if strings.Contains(term, tok) {
			matches++
		}
	}
	return float64(matches) / float64(len(ctxTokens))
}

func (e *Enricher) matchesAny(words []string, set map[string]bool) bool {
	if len(set) == 0 {
		return false
	}
	for _, w := range words {
		if set[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

func termSet(terms []string) map[string]bool {
	if len(terms) == 0 {
		return nil
	}
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, strings.ToLower(strings.TrimSpace(t)))
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
