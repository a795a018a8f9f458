// Package mladjust defines the pluggable ML adjustment boundary. The core
// depends only on these interfaces; a nil Adjuster means the pipeline skips
// the ML stage entirely. Every adjuster call is tolerated to fail: callers
// log and proceed with the unadjusted candidate set.
package mladjust

import (
	"context"

	"keywordforge/internal/keyword"
)

// FeedbackKind tags an operator feedback record.
type FeedbackKind string

const (
	FeedbackApproved  FeedbackKind = "approved"
	FeedbackRejected  FeedbackKind = "rejected"
	FeedbackPublished FeedbackKind = "published"
)

// Feedback is one historical operator judgement about a term.
type Feedback struct {
	Term  string       `json:"term"`
	Score float64      `json:"score"`
	Kind  FeedbackKind `json:"kind"`
}

// FeedbackStore is the optional read-only history source.
type FeedbackStore interface {
	List(ctx context.Context) ([]Feedback, error)
}

// Adjuster is the optional re-ranker/blocklister consulted once per pipeline
// run.
type Adjuster interface {
	// Suggest may add, remove or re-rank candidates.
	Suggest(ctx context.Context, candidates []keyword.Keyword, qctx map[string]any) ([]keyword.Keyword, error)

	// BlockRepeats removes candidates the history marks as repeats. Runs
	// strictly after deduplication; it is history-aware filtering only.
	BlockRepeats(ctx context.Context, candidates []keyword.Keyword, history []Feedback) ([]keyword.Keyword, error)

	// TrainIncremental feeds fresh history back into the model. Best-effort.
	TrainIncremental(ctx context.Context, history []Feedback) error
}

// StaticFeedback is a FeedbackStore over a fixed slice. Used in tests and
// for file-loaded history.
type StaticFeedback []Feedback

func (s StaticFeedback) List(context.Context) ([]Feedback, error) {
	return []Feedback(s), nil
}

var _ FeedbackStore = StaticFeedback(nil)
