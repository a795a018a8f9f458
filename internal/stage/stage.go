// Package stage orchestrates one collection run: bounded fan-out over every
// keyword-capable adapter, commutative merging of their results, metrics
// backfill from the metrics-capable adapters and a final pass through the
// processing pipeline. Each run produces a serializable result that can be
// checkpointed and resumed from.
package stage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"keywordforge/internal/collector"
	"keywordforge/internal/keyword"
	"keywordforge/internal/logging"
	"keywordforge/internal/pipeline"
)

// Options tunes one orchestrator instance.
type Options struct {
	Concurrency     int           `yaml:"concurrency"`      // 0 means one worker per collector
	Deadline        time.Duration `yaml:"-"`                // per-run wall clock budget; 0 means none
	PerSeedLimit    int           `yaml:"per_seed_limit"`   // keyword cap per collector call; 0 means provider default
	MetricsBackfill bool          `yaml:"metrics_backfill"` // fill missing volumes from metrics providers
}

// DefaultOptions returns the standard run settings.
func DefaultOptions() Options {
	return Options{
		Deadline:        2 * time.Minute,
		PerSeedLimit:    20,
		MetricsBackfill: true,
	}
}

// CollectorOutcome is the per-call accounting line in a run result.
type CollectorOutcome struct {
	Provider       string        `json:"provider"`
	Seed           string        `json:"seed"`
	Collected      int           `json:"collected"`
	CacheServed    bool          `json:"cache_served"`
	ScrapeFallback bool          `json:"scrape_fallback"`
	Degradation    string        `json:"degradation,omitempty"`
	Errors         []string      `json:"errors,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Result is the serializable outcome of one run.
type Result struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	Seeds      []string           `json:"seeds"`
	Collectors []CollectorOutcome `json:"collectors"`
	Keywords   []keyword.Keyword  `json:"keywords"`
	Report     pipeline.Report    `json:"report"`
	Elapsed    time.Duration      `json:"elapsed"`
}

// Degraded lists the providers that fell short during the run.
func (r Result) Degraded() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range r.Collectors {
		if c.Degradation != "" && c.Degradation != "none" && !seen[c.Provider] {
			seen[c.Provider] = true
			out = append(out, c.Provider)
		}
	}
	sort.Strings(out)
	return out
}

// Sink persists run results. Failures are logged, never fatal to the run.
type Sink interface {
	Save(ctx context.Context, res Result) error
}

// Orchestrator owns the collector set and the pipeline for repeated runs.
// Capabilities are inspected once at construction.
type Orchestrator struct {
	keywordCollectors []collector.Adapter
	metricsCollectors []collector.Adapter
	pipe              *pipeline.Pipeline
	opts              Options
	clock             clock.PassiveClock
	sink              Sink
}

// New partitions the adapters by declared capability. At least one adapter
// must be able to collect keywords; a run over zero sources is a
// configuration error, not an empty result.
func New(adapters []collector.Adapter, pipe *pipeline.Pipeline, opts Options, sink Sink) (*Orchestrator, error) {
	return NewWithClock(adapters, pipe, opts, sink, clock.RealClock{})
}

// NewWithClock injects a clock for deterministic run timing in tests.
func NewWithClock(adapters []collector.Adapter, pipe *pipeline.Pipeline, opts Options, sink Sink, c clock.PassiveClock) (*Orchestrator, error) {
	if pipe == nil {
		return nil, fmt.Errorf("orchestrator needs a pipeline")
	}

	o := &Orchestrator{pipe: pipe, opts: opts, clock: c, sink: sink}
	for _, a := range adapters {
		caps := a.Capabilities()
		if caps.Has(collector.CapCollectKeywords) {
			o.keywordCollectors = append(o.keywordCollectors, a)
		}
		if caps.Has(collector.CapCollectMetrics) {
			o.metricsCollectors = append(o.metricsCollectors, a)
		}
	}
	if len(o.keywordCollectors) == 0 {
		return nil, fmt.Errorf("no adapter can collect keywords")
	}
	return o, nil
}

// Open opens every adapter. Partial failure closes the ones already opened.
func (o *Orchestrator) Open(ctx context.Context) error {
	var opened []collector.Adapter
	for _, a := range o.all() {
		if err := a.Open(ctx); err != nil {
			for _, prev := range opened {
				_ = prev.Close()
			}
			return fmt.Errorf("open %s: %w", a.Name(), err)
		}
		opened = append(opened, a)
	}
	return nil
}

// Close closes every adapter and reports every failure.
func (o *Orchestrator) Close() error {
	var errs error
	for _, a := range o.all() {
		if err := a.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", a.Name(), err))
		}
	}
	return errs
}

func (o *Orchestrator) all() []collector.Adapter {
	seen := map[string]bool{}
	var out []collector.Adapter
	for _, a := range append(append([]collector.Adapter{}, o.keywordCollectors...), o.metricsCollectors...) {
		if !seen[a.Name()] {
			seen[a.Name()] = true
			out = append(out, a)
		}
	}
	return out
}

// Run fans every seed out to every keyword collector, merges, backfills
// metrics and pushes the merged batch through the pipeline. Collector
// degradations never abort the run; they are recorded in the result.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) (Result, error) {
	if len(seeds) == 0 {
		return Result{}, fmt.Errorf("run needs at least one seed")
	}

	start := o.clock.Now()
	res := Result{
		RunID:     uuid.NewString(),
		StartedAt: start,
		Seeds:     seeds,
	}
	log := logging.Get(logging.CategoryStage)
	log.Infow("run started", "run_id", res.RunID, "seeds", len(seeds),
		"collectors", len(o.keywordCollectors))

	if o.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Deadline)
		defer cancel()
	}

	outcomes, batch := o.collect(ctx, seeds)
	res.Collectors = outcomes

	if o.opts.MetricsBackfill && len(o.metricsCollectors) > 0 {
		batch = o.backfillMetrics(ctx, batch, &res)
	}

	keywords, report := o.pipe.Run(ctx, batch)
	res.Keywords = keywords
	res.Report = report
	res.Elapsed = o.clock.Since(start)

	log.Infow("run finished", "run_id", res.RunID,
		"collected", len(batch), "accepted", len(keywords),
		"degraded", res.Degraded(), "elapsed", res.Elapsed)

	if o.sink != nil {
		if err := o.sink.Save(ctx, res); err != nil {
			log.Warnw("checkpoint save failed", "run_id", res.RunID, "error", err)
		}
	}
	return res, nil
}

// collect runs the bounded fan-out and gathers all keywords. Worker count
// defaults to one per collector so a slow provider cannot starve the rest.
func (o *Orchestrator) collect(ctx context.Context, seeds []string) ([]CollectorOutcome, []keyword.Keyword) {
	concurrency := o.opts.Concurrency
	if concurrency <= 0 {
		concurrency = len(o.keywordCollectors)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	var outcomes []CollectorOutcome
	var batch []keyword.Keyword

	for _, a := range o.keywordCollectors {
		for _, seed := range seeds {
			a, seed := a, seed
			g.Go(func() error {
				r := a.CollectKeywords(gctx, seed, o.opts.PerSeedLimit)

				outcome := CollectorOutcome{
					Provider:       r.Provider,
					Seed:           seed,
					Collected:      len(r.Keywords),
					CacheServed:    r.CacheServed,
					ScrapeFallback: r.ScrapeFallback,
					Elapsed:        r.Elapsed,
				}
				if r.Degraded() {
					outcome.Degradation = r.Degradation.String()
				}
				for _, err := range r.Errors {
					outcome.Errors = append(outcome.Errors, err.Error())
				}

				mu.Lock()
				outcomes = append(outcomes, outcome)
				batch = append(batch, r.Keywords...)
				mu.Unlock()
				return nil // degradations are data, not run failures
			})
		}
	}
	_ = g.Wait()

	// Deterministic ordering regardless of goroutine interleaving.
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Provider != outcomes[j].Provider {
			return outcomes[i].Provider < outcomes[j].Provider
		}
		return outcomes[i].Seed < outcomes[j].Seed
	})
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Source != batch[j].Source {
			return batch[i].Source < batch[j].Source
		}
		return batch[i].Key() < batch[j].Key()
	})
	return outcomes, batch
}

// backfillMetrics asks the metrics providers about terms that arrived without
// volume data and merges the best answer per term.
func (o *Orchestrator) backfillMetrics(ctx context.Context, batch []keyword.Keyword, res *Result) []keyword.Keyword {
	var missing []string
	for _, k := range batch {
		if k.SearchVolume == 0 {
			missing = append(missing, k.Term)
		}
	}
	if len(missing) == 0 {
		return batch
	}

	merged := make(map[string]collector.Metrics)
	for _, a := range o.metricsCollectors {
		mr := a.CollectMetrics(ctx, missing)

		outcome := CollectorOutcome{
			Provider:    mr.Provider,
			Collected:   len(mr.PerTerm),
			CacheServed: mr.CacheServed,
		}
		if mr.Degradation != collector.DegradationNone {
			outcome.Degradation = mr.Degradation.String()
		}
		for _, err := range mr.Errors {
			outcome.Errors = append(outcome.Errors, err.Error())
		}
		res.Collectors = append(res.Collectors, outcome)

		for term, m := range mr.PerTerm {
			best := merged[term]
			if m.SearchVolume > best.SearchVolume {
				best.SearchVolume = m.SearchVolume
			}
			if m.CPC > best.CPC {
				best.CPC = m.CPC
			}
			if m.Competition > best.Competition {
				best.Competition = m.Competition
			}
			merged[term] = best
		}
	}

	out := make([]keyword.Keyword, len(batch))
	for i, k := range batch {
		if m, ok := merged[k.Key()]; ok && k.SearchVolume == 0 {
			k.SearchVolume = m.SearchVolume
			if k.CPC == 0 {
				k.CPC = m.CPC
			}
			if k.Competition == 0 {
				k.Competition = m.Competition
			}
		}
		out[i] = k
	}
	return out
}
