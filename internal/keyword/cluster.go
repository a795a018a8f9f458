package keyword

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FunnelStage names the editorial phase a cluster targets.
type FunnelStage string

const (
	StageDiscovery     FunnelStage = "discovery"
	StageCuriosity     FunnelStage = "curiosity"
	StageConsideration FunnelStage = "consideration"
	StageComparison    FunnelStage = "comparison"
	StageDecision      FunnelStage = "decision"
	StageAuthority     FunnelStage = "authority"
)

var funnelStages = map[FunnelStage]bool{
	StageDiscovery:     true,
	StageCuriosity:     true,
	StageConsideration: true,
	StageComparison:    true,
	StageDecision:      true,
	StageAuthority:     true,
}

// ValidFunnelStage reports membership in the closed funnel-stage set.
func ValidFunnelStage(s FunnelStage) bool {
	return funnelStages[s]
}

var clusterIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Cluster groups 4-8 unique keywords sharing a category for one content brief.
type Cluster struct {
	ID            string      `json:"id"`
	Category      string      `json:"category"`
	BlogDomain    string      `json:"blog_domain,omitempty"`
	Keywords      []Keyword   `json:"keywords"`
	AvgSimilarity float64     `json:"avg_similarity"`
	FunnelStage   FunnelStage `json:"funnel_stage"`
}

const (
	minClusterSize = 4
	maxClusterSize = 8
)

// Validate checks the cluster structural invariants.
func (c Cluster) Validate() error {
	if !clusterIDPattern.MatchString(c.ID) {
		return fmt.Errorf("cluster id %q does not match [A-Za-z0-9_-]+", c.ID)
	}
	if len(c.Keywords) < minClusterSize || len(c.Keywords) > maxClusterSize {
		return fmt.Errorf("cluster %s has %d keywords, want %d-%d", c.ID, len(c.Keywords), minClusterSize, maxClusterSize)
	}
	if c.AvgSimilarity < 0 || c.AvgSimilarity > 1 {
		return fmt.Errorf("cluster %s avg similarity %.3f outside [0,1]", c.ID, c.AvgSimilarity)
	}
	if !ValidFunnelStage(c.FunnelStage) {
		return fmt.Errorf("cluster %s has unknown funnel stage %q", c.ID, c.FunnelStage)
	}
	seen := make(map[string]bool, len(c.Keywords))
	for _, k := range c.Keywords {
		key := k.Key()
		if seen[key] {
			return fmt.Errorf("cluster %s contains duplicate term %q", c.ID, k.Term)
		}
		seen[key] = true
	}
	return nil
}

// ClusterOptions configures the greedy grouper.
type ClusterOptions struct {
	Category      string
	BlogDomain    string
	MinSimilarity float64 // token-overlap floor for joining a cluster
}

// BuildClusters greedily groups candidates by token overlap (Jaccard over the
// term's word set) and assigns cluster order and funnel stage exactly once.
// Candidates that cannot fill a minimum-size cluster stay unassigned.
func BuildClusters(candidates []Keyword, opts ClusterOptions) []Cluster {
	remaining := make([]Keyword, len(candidates))
	copy(remaining, candidates)

	// Highest-scoring candidates seed clusters first.
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].Score > remaining[j].Score
	})

	var clusters []Cluster
	used := make(map[string]bool)
	order := 1

	for _, seed := range remaining {
		if used[seed.Key()] {
			continue
		}

		members := []Keyword{seed}
		var simSum float64
		for _, cand := range remaining {
			if len(members) >= maxClusterSize {
				break
			}
			if used[cand.Key()] || cand.Key() == seed.Key() {
				continue
			}
			sim := tokenJaccard(seed.Term, cand.Term)
			if sim >= opts.MinSimilarity {
				members = append(members, cand)
				simSum += sim
			}
		}
		if len(members) < minClusterSize {
			continue
		}

		stage := stageForCluster(members)
		for i := range members {
			used[members[i].Key()] = true
			// Seed copies come from the caller's slice; assignment is on the
			// cluster's own copies, exactly once.
			_ = members[i].AssignCluster(order, string(stage))
		}

		avg := 1.0
		if len(members) > 1 {
			avg = simSum / float64(len(members)-1)
		}
		clusters = append(clusters, Cluster{
			ID:            fmt.Sprintf("cluster_%d", order),
			Category:      opts.Category,
			BlogDomain:    opts.BlogDomain,
			Keywords:      members,
			AvgSimilarity: clampCompetition(avg),
			FunnelStage:   stage,
		})
		order++
	}
	return clusters
}

// stageForCluster picks the funnel stage from the dominant intent.
func stageForCluster(members []Keyword) FunnelStage {
	counts := make(map[Intent]int)
	for _, m := range members {
		counts[m.Intent]++
	}
	// Ties resolve to the lowest intent ordinal so stages are reproducible
	// across runs.
	best, bestCount := IntentInformational, -1
	for intent, n := range counts {
		if n > bestCount || (n == bestCount && intent < best) {
			best, bestCount = intent, n
		}
	}
	switch best {
	case IntentTransactional:
		return StageDecision
	case IntentCommercial:
		return StageConsideration
	case IntentComparison:
		return StageComparison
	case IntentNavigational:
		return StageAuthority
	default:
		return StageDiscovery
	}
}

// tokenJaccard computes intersection-over-union of the lowercase word sets.
func tokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}
