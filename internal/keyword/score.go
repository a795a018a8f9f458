package keyword

import (
	"fmt"
	"strings"
)

// ScoreWeights holds the weighted-sum coefficients for candidate scoring.
type ScoreWeights struct {
	Volume      float64 `yaml:"volume"`
	CPC         float64 `yaml:"cpc"`
	Intent      float64 `yaml:"intent"`
	Competition float64 `yaml:"competition"`
}

// DefaultScoreWeights returns the standard weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Volume:      0.4,
		CPC:         0.3,
		Intent:      0.2,
		Competition: 0.1,
	}
}

// intentWeight rewards buyer intent: commercial and transactional terms carry
// full weight, everything else half.
func intentWeight(i Intent) float64 {
	switch i {
	case IntentCommercial, IntentTransactional:
		return 1.0
	default:
		return 0.5
	}
}

// ComputeScore fills Score and Justification from the weighted formula
//
//	score = w_vol*volume/100 + w_cpc*cpc + w_int*intent_weight + w_comp*competition
//
// The justification records each contribution so reports can show exactly how
// a score was reached. Deterministic: identical inputs produce identical
// (score, justification).
func (k *Keyword) ComputeScore(w ScoreWeights) {
	volTerm := w.Volume * float64(k.SearchVolume) / 100.0
	cpcTerm := w.CPC * k.CPC
	intTerm := w.Intent * intentWeight(k.Intent)
	compTerm := w.Competition * k.Competition

	k.Score = volTerm + cpcTerm + intTerm + compTerm

	var sb strings.Builder
	fmt.Fprintf(&sb, "volume: %.2f*%d/100=%.2f", w.Volume, k.SearchVolume, volTerm)
	fmt.Fprintf(&sb, " | cpc: %.2f*%.2f=%.2f", w.CPC, k.CPC, cpcTerm)
	fmt.Fprintf(&sb, " | intent(%s): %.2f*%.2f=%.2f", k.Intent, w.Intent, intentWeight(k.Intent), intTerm)
	fmt.Fprintf(&sb, " | competition: %.2f*%.2f=%.2f", w.Competition, k.Competition, compTerm)
	k.Justification = sb.String()
}
