// Package keyword defines the candidate keyword value object and the
// deterministic transforms applied to it: scoring, normalization and
// clustering. Everything here is CPU-only and side-effect free.
package keyword

import (
	"fmt"
	"strings"
	"time"
)

// Intent classifies the searcher's goal behind a term.
type Intent int

const (
	IntentInformational Intent = iota
	IntentCommercial
	IntentNavigational
	IntentTransactional
	IntentComparison
)

func (i Intent) String() string {
	switch i {
	case IntentInformational:
		return "informational"
	case IntentCommercial:
		return "commercial"
	case IntentNavigational:
		return "navigational"
	case IntentTransactional:
		return "transactional"
	case IntentComparison:
		return "comparison"
	default:
		return fmt.Sprintf("unknown(%d)", int(i))
	}
}

// ParseIntent maps the wire/report spelling back to an Intent.
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "informational":
		return IntentInformational, nil
	case "commercial":
		return IntentCommercial, nil
	case "navigational":
		return IntentNavigational, nil
	case "transactional":
		return IntentTransactional, nil
	case "comparison":
		return IntentComparison, nil
	default:
		return IntentInformational, fmt.Errorf("unknown intent: %q", s)
	}
}

// Keyword is the central candidate value object. Candidates are created by
// collector adapters, flow through the processing pipeline and are immutable
// after scoring, except for the cluster-assignment fields which are set
// exactly once by the clustering collaborator.
type Keyword struct {
	Term          string    `json:"term"`
	SearchVolume  int       `json:"search_volume"`
	CPC           float64   `json:"cpc"`
	Competition   float64   `json:"competition"`
	Intent        Intent    `json:"-"`
	Score         float64   `json:"score"`
	Justification string    `json:"justification,omitempty"`
	Source        string    `json:"source,omitempty"`
	CollectedAt   time.Time `json:"collected_at,omitempty"`
	ClusterOrder  int       `json:"cluster_order"`
	FunnelStage   string    `json:"funnel_stage,omitempty"`
}

// New builds a candidate with numeric fields clamped on ingest and the
// cluster-assignment fields at their unassigned defaults.
func New(term string, volume int, cpc, competition float64, intent Intent) Keyword {
	return Keyword{
		Term:         term,
		SearchVolume: clampVolume(volume),
		CPC:          clampCPC(cpc),
		Competition:  clampCompetition(competition),
		Intent:       intent,
		ClusterOrder: -1,
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampCPC(c float64) float64 {
	if c < 0 {
		return 0
	}
	return c
}

func clampCompetition(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Key is the identity of a keyword: the lowercased term. Equality and
// deduplication throughout the pipeline use this key.
func (k Keyword) Key() string {
	return strings.ToLower(k.Term)
}

// Equal reports case-insensitive term equality, consistent with Key.
func (k Keyword) Equal(other Keyword) bool {
	return k.Key() == other.Key()
}

// ArticleName derives the editorial slot name from the cluster order.
// Unassigned keywords have no article name.
func (k Keyword) ArticleName() string {
	if k.ClusterOrder <= 0 {
		return ""
	}
	return fmt.Sprintf("article_%d", k.ClusterOrder)
}

// AssignCluster sets the cluster fields. The assignment happens exactly once;
// subsequent calls on an already-assigned keyword are rejected.
func (k *Keyword) AssignCluster(order int, funnelStage string) error {
	if k.ClusterOrder != -1 {
		return fmt.Errorf("keyword %q already assigned to cluster %d", k.Term, k.ClusterOrder)
	}
	if order < 0 {
		return fmt.Errorf("cluster order must be non-negative, got %d", order)
	}
	k.ClusterOrder = order
	k.FunnelStage = funnelStage
	return nil
}
