package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keywordforge/internal/enrich"
	"keywordforge/internal/keyword"
	"keywordforge/internal/mladjust"
	"keywordforge/internal/validator"
)

func newTestPipeline(t *testing.T, opts Options, deps Deps) *Pipeline {
	t.Helper()
	if deps.Validator == nil {
		v, err := validator.New(validator.DefaultOptions())
		require.NoError(t, err)
		deps.Validator = v
	}
	p, err := New(opts, deps)
	require.NoError(t, err)
	return p
}

func candidates(terms ...string) []keyword.Keyword {
	out := make([]keyword.Keyword, 0, len(terms))
	for _, term := range terms {
		out = append(out, keyword.New(term, 100, 1.0, 0.5, keyword.IntentInformational))
	}
	return out
}

func TestUnknownStageNameRejectedAtConstruction(t *testing.T) {
	_, err := New(Options{Stages: []string{"normalize", "frobnicate"}}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestFullChainAccounting(t *testing.T) {
	p := newTestPipeline(t, Options{}, Deps{})

	in := []keyword.Keyword{
		keyword.New("  Marketing Digital  ", 200, 2.0, 0.5, keyword.IntentCommercial),
		keyword.New("marketing digital", 150, 3.0, 0.3, keyword.IntentCommercial), // dupe, merged
		keyword.New("bad@term", 100, 1.0, 0.5, keyword.IntentInformational),       // alphabet
		keyword.New("42", 100, 1.0, 0.5, keyword.IntentInformational),             // cleaned
		keyword.New("niche keyword", 100, 1.0, 0.95, keyword.IntentInformational), // competition gate
	}
	out, rep := p.Run(context.Background(), in)

	require.Len(t, out, 1)
	k := out[0]
	assert.Equal(t, "marketing digital", k.Term)
	assert.Equal(t, 200, k.SearchVolume, "volume merges as max")
	assert.Equal(t, 3.0, k.CPC, "cpc merges as max")
	assert.InDelta(t, 0.4, k.Competition, 1e-9, "competition merges as mean")
	assert.Greater(t, k.Score, 0.0)
	assert.NotEmpty(t, k.Justification)

	assert.Equal(t, 5, rep.TotalIn)
	assert.Equal(t, 1, rep.TotalOut)
	assert.Len(t, rep.Stages, len(DefaultStages()))
	assert.Contains(t, rep.Rejections[StageNormalize], "bad@term")
	assert.Contains(t, rep.Rejections[StageClean], "42")
	assert.Contains(t, rep.Rejections[StageValidate], "niche keyword")

	require.NotNil(t, rep.Validation)
	assert.Equal(t, 1, rep.Validation.ViolationCounts[validator.TagCompetitionOutOfRange])
	detail := rep.Details["niche keyword"]
	assert.Contains(t, detail.Violations, validator.TagCompetitionOutOfRange)
	assert.Len(t, detail.ChecksRun, 13, "every rule runs even after a violation")
}

func TestEnrichPromotesConfidentIntent(t *testing.T) {
	e, err := enrich.New(enrich.DefaultOptions(), nil)
	require.NoError(t, err)
	p := newTestPipeline(t, Options{Stages: []string{StageEnrich}}, Deps{Enricher: e})

	out, _ := p.Run(context.Background(), []keyword.Keyword{
		keyword.New("buy cheap nike shoes", 100, 1.0, 0.5, keyword.IntentInformational),
	})
	require.Len(t, out, 1)
	assert.Equal(t, keyword.IntentCommercial, out[0].Intent)
}

type stubAdjuster struct {
	suggestErr error
	panicOn    bool
	blocked    map[string]bool
}

func (s *stubAdjuster) Suggest(_ context.Context, in []keyword.Keyword, _ map[string]any) ([]keyword.Keyword, error) {
	if s.panicOn {
		panic("model went away")
	}
	if s.suggestErr != nil {
		return nil, s.suggestErr
	}
	return in, nil
}

func (s *stubAdjuster) BlockRepeats(_ context.Context, in []keyword.Keyword, history []mladjust.Feedback) ([]keyword.Keyword, error) {
	blocked := make(map[string]bool)
	for _, f := range history {
		blocked[strings.ToLower(f.Term)] = true
	}
	for k := range s.blocked {
		blocked[k] = true
	}
	var out []keyword.Keyword
	for _, k := range in {
		if !blocked[k.Key()] {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *stubAdjuster) TrainIncremental(context.Context, []mladjust.Feedback) error { return nil }

func TestMLAdjustBlocksRepeatsFromHistory(t *testing.T) {
	p := newTestPipeline(t, Options{Stages: []string{StageMLAdjust}}, Deps{
		Adjuster: &stubAdjuster{},
		Feedback: mladjust.StaticFeedback{{Term: "old topic", Kind: mladjust.FeedbackPublished}},
	})

	out, rep := p.Run(context.Background(), candidates("old topic", "fresh topic"))
	require.Len(t, out, 1)
	assert.Equal(t, "fresh topic", out[0].Term)
	assert.Contains(t, rep.Rejections[StageMLAdjust], "old topic")
}

func TestFaultedStagePassesThrough(t *testing.T) {
	p := newTestPipeline(t, Options{Stages: []string{StageMLAdjust}}, Deps{
		Adjuster: &stubAdjuster{suggestErr: errors.New("model unavailable")},
	})

	in := candidates("keyword one", "keyword two")
	out, rep := p.Run(context.Background(), in)

	assert.Equal(t, in, out, "a faulted stage is an identity transform")
	require.Len(t, rep.Stages, 1)
	assert.Contains(t, rep.Stages[0].Fault, "model unavailable")
}

func TestPanickingStagePassesThrough(t *testing.T) {
	p := newTestPipeline(t, Options{Stages: []string{StageMLAdjust}}, Deps{
		Adjuster: &stubAdjuster{panicOn: true},
	})

	in := candidates("keyword one")
	out, rep := p.Run(context.Background(), in)

	assert.Equal(t, in, out)
	assert.Contains(t, rep.Stages[0].Fault, "panic")
}

func TestNilAdjusterSkipsMLStage(t *testing.T) {
	p := newTestPipeline(t, Options{Stages: []string{StageMLAdjust}}, Deps{})
	in := candidates("keyword one")
	out, rep := p.Run(context.Background(), in)
	assert.Equal(t, in, out)
	assert.Empty(t, rep.Stages[0].Fault)
}

func TestCompletionCallbacksSwallowPanics(t *testing.T) {
	p := newTestPipeline(t, Options{Stages: []string{StageClean}}, Deps{})

	var seen *Report
	p.OnComplete(func(Report) { panic("broken sink") })
	p.OnComplete(func(rep Report) { seen = &rep })

	_, _ = p.Run(context.Background(), candidates("keyword one"))
	require.NotNil(t, seen, "later callbacks still run after an earlier panic")
	assert.Equal(t, 1, seen.TotalIn)
}

func TestStageOrderIsConfigurable(t *testing.T) {
	p := newTestPipeline(t, Options{Stages: []string{StageClean, StageNormalize}}, Deps{})
	_, rep := p.Run(context.Background(), candidates("Keyword One"))
	require.Len(t, rep.Stages, 2)
	assert.Equal(t, StageClean, rep.Stages[0].Name)
	assert.Equal(t, StageNormalize, rep.Stages[1].Name)
}
