package main

import (
	"fmt"
	"strings"

	"keywordforge/internal/breaker"
	"keywordforge/internal/cache"
	"keywordforge/internal/collector"
	"keywordforge/internal/config"
	"keywordforge/internal/enrich"
	"keywordforge/internal/keyword"
	"keywordforge/internal/pipeline"
	"keywordforge/internal/ratelimit"
	"keywordforge/internal/session"
	"keywordforge/internal/stage"
	"keywordforge/internal/validator"
)

// runtime is the composition root: every shared piece of infrastructure is
// built exactly once here and injected downward.
type runtime struct {
	orchestrator *stage.Orchestrator
	sessions     *session.Manager
	sink         *stage.FileSink
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	payloadCache := cache.NewMemory(cache.MemoryOptions{
		DefaultTTL:      cfg.GetCacheTTL(),
		CleanupInterval: cfg.GetCacheCleanupInterval(),
		MaxEntries:      cfg.Cache.MaxEntries,
	})
	limiter := ratelimit.New(cfg.Quotas())
	circuits := breaker.New(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.GetFailureWindow(),
		ResetTimeout:     cfg.GetResetTimeout(),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Classify:         collector.BreakerClassify,
	})

	sessions := session.NewManager(session.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		Proxy:          cfg.HTTP.Proxy,
		Timeout:        cfg.GetHTTPTimeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		RetryBaseDelay: cfg.GetRetryBaseDelay(),
		RefreshMargin:  cfg.GetRefreshMargin(),
	})

	deps := collector.Deps{
		Cache:    payloadCache,
		Limiter:  limiter,
		Breaker:  circuits,
		Sessions: sessions,
	}

	var adapters []collector.Adapter
	for _, name := range cfg.EnabledProviders() {
		p := cfg.Providers[name]
		if err := sessions.Register(name, sessionConfig(p)); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}

		a, err := buildAdapter(name, deps, p, cfg)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	v, err := validator.New(cfg.Validator)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}
	enricher, err := enrich.New(cfg.Enrich, nil)
	if err != nil {
		return nil, fmt.Errorf("enricher: %w", err)
	}
	norm, err := keyword.NewNormalizer(keyword.NormalizerOptions{})
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Options{Stages: cfg.Pipeline.Stages}, pipeline.Deps{
		Normalizer: norm,
		Validator:  v,
		Enricher:   enricher,
		Weights:    cfg.Scoring,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	sink, err := stage.NewFileSink(cfg.Stage.CheckpointDir)
	if err != nil {
		return nil, err
	}

	orch, err := stage.New(adapters, pipe, stage.Options{
		Concurrency:     cfg.Stage.Concurrency,
		Deadline:        cfg.GetStageDeadline(),
		PerSeedLimit:    cfg.Stage.PerSeedLimit,
		MetricsBackfill: cfg.Stage.MetricsBackfill,
	}, sink)
	if err != nil {
		return nil, err
	}

	return &runtime{orchestrator: orch, sessions: sessions, sink: sink}, nil
}

func (rt *runtime) close() {
	_ = rt.orchestrator.Close()
	rt.sessions.Close()
}

func sessionConfig(p config.ProviderConfig) session.ProviderConfig {
	sc := session.ProviderConfig{
		Headers:      p.Headers,
		TokenURL:     p.TokenURL,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scopes:       p.Scopes,
		LoginURL:     p.LoginURL,
		Username:     p.Username,
		Password:     p.Password,
		CSRFField:    p.CSRFField,
	}
	switch strings.ToLower(p.Auth) {
	case "oauth":
		sc.Auth = session.AuthOAuth
	case "cookie":
		sc.Auth = session.AuthCookie
	default:
		sc.Auth = session.AuthNone
	}
	return sc
}

func buildAdapter(name string, deps collector.Deps, p config.ProviderConfig, cfg *config.Config) (collector.Adapter, error) {
	opts := collector.Options{
		BaseURL:  p.BaseURL,
		CacheTTL: cfg.GetProviderCacheTTL(name),
	}
	switch name {
	case "google_suggest":
		return collector.NewGoogleSuggest(deps, opts), nil
	case "bing_suggest":
		return collector.NewBingSuggest(deps, opts), nil
	case "duckduckgo":
		return collector.NewDuckDuckGo(deps, opts), nil
	case "youtube_suggest":
		return collector.NewYouTubeSuggest(deps, opts), nil
	case "amazon_suggest":
		return collector.NewAmazonSuggest(deps, opts, ""), nil
	case "ad_planner":
		return collector.NewAdPlanner(deps, opts), nil
	case "reddit":
		return collector.NewReddit(deps, opts), nil
	case "forum":
		return collector.NewForum(deps, opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
