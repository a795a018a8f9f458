// Package pipeline runs collected candidates through the staged processing
// chain: normalization, cleaning, enrichment, validation and the optional ML
// adjustment pass. Stages are configured by name, fail soft (a broken stage
// passes its input through and reports the fault) and account for every
// candidate they drop.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"keywordforge/internal/enrich"
	"keywordforge/internal/keyword"
	"keywordforge/internal/logging"
	"keywordforge/internal/mladjust"
	"keywordforge/internal/validator"
)

// Stage names accepted in Options.Stages.
const (
	StageNormalize     = "normalize"
	StageClean         = "clean"
	StageEnrich        = "enrich"
	StageValidate      = "validate"
	StageMLAdjust      = "ml_adjust"
	StageFinalValidate = "final_validate"
)

// DefaultStages is the full chain in canonical order.
func DefaultStages() []string {
	return []string{StageNormalize, StageClean, StageEnrich, StageValidate, StageMLAdjust, StageFinalValidate}
}

// Options selects and orders the stages.
type Options struct {
	Stages []string `yaml:"stages"` // empty means DefaultStages
}

// Deps carries the stage collaborators. Nil Enricher disables enrichment, nil
// Adjuster disables the ML pass; the corresponding stages become no-ops.
type Deps struct {
	Normalizer *keyword.Normalizer
	Validator  *validator.Validator
	Enricher   *enrich.Enricher
	EnrichCtx  *enrich.Context
	Adjuster   mladjust.Adjuster
	Feedback   mladjust.FeedbackStore
	Weights    keyword.ScoreWeights
	Clock      clock.PassiveClock
}

// StageReport is the per-stage accounting line.
type StageReport struct {
	Name    string        `json:"name"`
	In      int           `json:"in"`
	Out     int           `json:"out"`
	Elapsed time.Duration `json:"elapsed"`
	Fault   string        `json:"fault,omitempty"` // set when the stage failed and passed through
}

// Report is the full run accounting: stage lines, validator tallies and the
// terms each stage rejected.
type Report struct {
	Stages     []StageReport               `json:"stages"`
	Rejections map[string][]string         `json:"rejections,omitempty"` // stage -> rejected terms
	Validation *validator.Report           `json:"validation,omitempty"`
	Details    map[string]validator.Detail `json:"-"`
	TotalIn    int                         `json:"total_in"`
	TotalOut   int                         `json:"total_out"`
	Elapsed    time.Duration               `json:"elapsed"`
}

type stageFunc func(ctx context.Context, batch []keyword.Keyword, rep *Report) ([]keyword.Keyword, error)

type stage struct {
	name string
	run  stageFunc
}

// Pipeline is the compiled stage chain. Safe for concurrent Run calls; all
// mutable state lives in the per-run Report.
type Pipeline struct {
	stages    []stage
	deps      Deps
	callbacks []func(Report)
}

// New compiles the configured chain. Unknown stage names are a construction
// error, not a run-time surprise.
func New(opts Options, deps Deps) (*Pipeline, error) {
	if deps.Normalizer == nil {
		norm, err := keyword.NewNormalizer(keyword.NormalizerOptions{})
		if err != nil {
			return nil, err
		}
		deps.Normalizer = norm
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Weights == (keyword.ScoreWeights{}) {
		deps.Weights = keyword.DefaultScoreWeights()
	}

	names := opts.Stages
	if len(names) == 0 {
		names = DefaultStages()
	}

	p := &Pipeline{deps: deps}
	for _, name := range names {
		fn, err := p.stageFor(name)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage{name: name, run: fn})
	}
	return p, nil
}

func (p *Pipeline) stageFor(name string) (stageFunc, error) {
	switch name {
	case StageNormalize:
		return p.normalizeStage, nil
	case StageClean:
		return p.cleanStage, nil
	case StageEnrich:
		return p.enrichStage, nil
	case StageValidate, StageFinalValidate:
		return p.validateStage(name), nil
	case StageMLAdjust:
		return p.mlAdjustStage, nil
	default:
		return nil, fmt.Errorf("unknown pipeline stage %q", name)
	}
}

// OnComplete registers a post-run callback. Callback failures are logged and
// swallowed; they never affect the run result.
func (p *Pipeline) OnComplete(fn func(Report)) {
	p.callbacks = append(p.callbacks, fn)
}

// Run executes the chain over the batch and returns the surviving candidates
// with the run report. A faulted stage passes its input through unchanged.
func (p *Pipeline) Run(ctx context.Context, batch []keyword.Keyword) ([]keyword.Keyword, Report) {
	start := p.deps.Clock.Now()
	rep := Report{
		Rejections: make(map[string][]string),
		Details:    make(map[string]validator.Detail),
		TotalIn:    len(batch),
	}

	current := batch
	for _, st := range p.stages {
		stStart := p.deps.Clock.Now()
		out, fault := p.runStage(ctx, st, current, &rep)
		line := StageReport{
			Name:    st.name,
			In:      len(current),
			Out:     len(out),
			Elapsed: p.deps.Clock.Since(stStart),
		}
		if fault != "" {
			line.Fault = fault
			logging.Get(logging.CategoryPipeline).Warnw("stage faulted, passing through",
				"stage", st.name, "fault", fault)
		}
		rep.Stages = append(rep.Stages, line)
		current = out
	}

	rep.TotalOut = len(current)
	rep.Elapsed = p.deps.Clock.Since(start)

	for _, cb := range p.callbacks {
		p.invokeCallback(cb, rep)
	}
	return current, rep
}

// runStage isolates stage faults: an error or panic yields the input batch
// unchanged and a fault string.
func (p *Pipeline) runStage(ctx context.Context, st stage, batch []keyword.Keyword, rep *Report) (out []keyword.Keyword, fault string) {
	defer func() {
		if r := recover(); r != nil {
			out = batch
			fault = fmt.Sprintf("panic: %v", r)
		}
	}()

	out, err := st.run(ctx, batch, rep)
	if err != nil {
		return batch, err.Error()
	}
	return out, ""
}

func (p *Pipeline) invokeCallback(cb func(Report), rep Report) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPipeline).Warnw("completion callback panicked", "panic", r)
		}
	}()
	cb(rep)
}

// normalizeStage canonicalizes terms and collapses duplicates. Dropped terms
// are the delta between in and out; identities are recorded for the report.
func (p *Pipeline) normalizeStage(_ context.Context, batch []keyword.Keyword, rep *Report) ([]keyword.Keyword, error) {
	out := p.deps.Normalizer.Normalize(batch)
	for _, k := range batch {
		if p.deps.Normalizer.NormalizeTerm(k.Term) == "" {
			rep.Rejections[StageNormalize] = append(rep.Rejections[StageNormalize], k.Term)
		}
	}
	return out, nil
}

// cleanStage drops structurally unusable terms that pass the alphabet but
// carry no keyword value: bare numbers, single characters and URL fragments.
func (p *Pipeline) cleanStage(_ context.Context, batch []keyword.Keyword, rep *Report) ([]keyword.Keyword, error) {
	out := lo.Filter(batch, func(k keyword.Keyword, _ int) bool {
		if usableTerm(k.Term) {
			return true
		}
		rep.Rejections[StageClean] = append(rep.Rejections[StageClean], k.Term)
		return false
	})
	return out, nil
}

func usableTerm(term string) bool {
	t := strings.TrimSpace(term)
	if len(t) < 2 {
		return false
	}
	if strings.Contains(t, "www.") || strings.Contains(t, "http") {
		return false
	}
	hasLetter := strings.IndexFunc(t, func(r rune) bool {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127
	}) >= 0
	return hasLetter
}

// enrichStage attaches signals and computes scores. Enrichment is additive;
// nothing is dropped here.
func (p *Pipeline) enrichStage(_ context.Context, batch []keyword.Keyword, _ *Report) ([]keyword.Keyword, error) {
	out := make([]keyword.Keyword, len(batch))
	for i, k := range batch {
		if p.deps.Enricher != nil {
			if rec := p.deps.Enricher.Enrich(k, p.deps.EnrichCtx); rec != nil {
				if adjusted, ok := intentFromSignals(rec); ok {
					k.Intent = adjusted
				}
			}
		}
		k.ComputeScore(p.deps.Weights)
		out[i] = k
	}
	return out, nil
}

// intentFromSignals promotes the enricher's dominant intent class when it is
// confident enough to override the collector's cheap heuristic.
func intentFromSignals(rec *enrich.Record) (keyword.Intent, bool) {
	for _, sig := range rec.Signals {
		if sig.Type != enrich.SignalIntent || sig.Confidence < 0.6 {
			continue
		}
		dominant, _ := sig.Payload["dominant"].(string)
		if intent, err := keyword.ParseIntent(dominant); err == nil {
			return intent, true
		}
	}
	return 0, false
}

// validateStage runs the full rule set and keeps only clean candidates.
// Scores are recomputed first so late stages see consistent numbers.
func (p *Pipeline) validateStage(name string) stageFunc {
	return func(_ context.Context, batch []keyword.Keyword, rep *Report) ([]keyword.Keyword, error) {
		if p.deps.Validator == nil {
			return batch, nil
		}
		if rep.Validation == nil {
			rep.Validation = &validator.Report{ViolationCounts: make(map[string]int)}
		}
		agg := rep.Validation

		accepted := make([]keyword.Keyword, 0, len(batch))
		for _, k := range batch {
			if k.Justification == "" {
				k.ComputeScore(p.deps.Weights)
			}
			ok, detail := p.deps.Validator.ValidateOne(k)
			agg.TotalProcessed++
			if ok {
				agg.TotalAccepted++
				accepted = append(accepted, k)
				continue
			}
			agg.TotalRejected++
			for _, tag := range detail.Violations {
				agg.ViolationCounts[tag]++
			}
			rep.Rejections[name] = append(rep.Rejections[name], k.Term)
			rep.Details[k.Term] = detail
		}
		return accepted, nil
	}
}

// mlAdjustStage applies the optional adjuster: suggestion re-ranking first,
// then history-based repeat blocking. Runs strictly after deduplication.
func (p *Pipeline) mlAdjustStage(ctx context.Context, batch []keyword.Keyword, rep *Report) ([]keyword.Keyword, error) {
	if p.deps.Adjuster == nil {
		return batch, nil
	}

	adjusted, err := p.deps.Adjuster.Suggest(ctx, batch, nil)
	if err != nil {
		return nil, fmt.Errorf("adjuster suggest: %w", err)
	}

	var history []mladjust.Feedback
	if p.deps.Feedback != nil {
		history, err = p.deps.Feedback.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("feedback history: %w", err)
		}
	}

	blocked, err := p.deps.Adjuster.BlockRepeats(ctx, adjusted, history)
	if err != nil {
		return nil, fmt.Errorf("adjuster block repeats: %w", err)
	}

	if len(history) > 0 {
		if err := p.deps.Adjuster.TrainIncremental(ctx, history); err != nil {
			logging.Get(logging.CategoryML).Warnw("incremental training failed", "error", err)
		}
	}

	removed, _ := lo.Difference(
		lo.Map(adjusted, func(k keyword.Keyword, _ int) string { return k.Key() }),
		lo.Map(blocked, func(k keyword.Keyword, _ int) string { return k.Key() }),
	)
	if len(removed) > 0 {
		rep.Rejections[StageMLAdjust] = append(rep.Rejections[StageMLAdjust], removed...)
	}
	return blocked, nil
}
