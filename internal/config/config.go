// Package config holds the whole keywordforge configuration: provider
// endpoints and credentials, rate quotas, breaker thresholds, pipeline and
// validator knobs. Defaults are always complete; a YAML file and environment
// overrides layer on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"keywordforge/internal/enrich"
	"keywordforge/internal/keyword"
	"keywordforge/internal/ratelimit"
	"keywordforge/internal/validator"
)

// Config holds all keywordforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Upstream providers
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Shared HTTP behavior
	HTTP HTTPConfig `yaml:"http"`

	// Circuit breaker thresholds
	Breaker BreakerConfig `yaml:"breaker"`

	// Payload cache
	Cache CacheConfig `yaml:"cache"`

	// Processing pipeline
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Keyword quality gate
	Validator validator.Options `yaml:"validator"`

	// Signal enrichment
	Enrich enrich.Options `yaml:"enrich"`

	// Score weighting
	Scoring keyword.ScoreWeights `yaml:"scoring"`

	// Collection runs
	Stage StageConfig `yaml:"stage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig describes one upstream source.
type ProviderConfig struct {
	Enabled  bool            `yaml:"enabled"`
	BaseURL  string          `yaml:"base_url"`   // empty uses the adapter's default endpoint
	CacheTTL string          `yaml:"cache_ttl"`  // payload cache lifetime, e.g. "15m"
	Quota    ratelimit.Quota `yaml:"quota"`

	// Credentials. Auth selects the lifecycle: none, oauth or cookie.
	Auth         string   `yaml:"auth"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	LoginURL     string   `yaml:"login_url"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	CSRFField    string   `yaml:"csrf_field"`

	Headers map[string]string `yaml:"headers"`
}

// HTTPConfig configures the shared session manager.
type HTTPConfig struct {
	UserAgent      string `yaml:"user_agent"`
	Proxy          string `yaml:"proxy"`
	Timeout        string `yaml:"timeout"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryBaseDelay string `yaml:"retry_base_delay"`
	RefreshMargin  string `yaml:"refresh_margin"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	FailureWindow    string `yaml:"failure_window"`
	ResetTimeout     string `yaml:"reset_timeout"`
	SuccessThreshold int    `yaml:"success_threshold"`
}

// CacheConfig configures the payload cache.
type CacheConfig struct {
	DefaultTTL      string `yaml:"default_ttl"`
	CleanupInterval string `yaml:"cleanup_interval"`
	MaxEntries      int    `yaml:"max_entries"`
}

// PipelineConfig configures the processing chain.
type PipelineConfig struct {
	Stages []string `yaml:"stages"` // empty means the full default chain
}

// StageConfig configures collection runs.
type StageConfig struct {
	Concurrency     int    `yaml:"concurrency"`
	Deadline        string `yaml:"deadline"`
	PerSeedLimit    int    `yaml:"per_seed_limit"`
	MetricsBackfill bool   `yaml:"metrics_backfill"`
	CheckpointDir   string `yaml:"checkpoint_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string   `yaml:"level"`  // debug, info, warn, error
	Format     string   `yaml:"format"` // json, text
	Categories []string `yaml:"categories"`
}

// DefaultConfig returns the default configuration with every public provider
// enabled and the credentialed ones waiting on secrets.
func DefaultConfig() *Config {
	return &Config{
		Name:    "keywordforge",
		Version: "1.2.0",

		Providers: map[string]ProviderConfig{
			"google_suggest":  {Enabled: true, CacheTTL: "15m", Quota: ratelimit.Quota{PerMinute: 60, PerHour: 1000}},
			"bing_suggest":    {Enabled: true, CacheTTL: "15m", Quota: ratelimit.Quota{PerMinute: 60, PerHour: 1000}},
			"duckduckgo":      {Enabled: true, CacheTTL: "15m", Quota: ratelimit.Quota{PerMinute: 30, PerHour: 500}},
			"youtube_suggest": {Enabled: true, CacheTTL: "15m", Quota: ratelimit.Quota{PerMinute: 60, PerHour: 1000}},
			"amazon_suggest":  {Enabled: true, CacheTTL: "30m", Quota: ratelimit.Quota{PerMinute: 20, PerHour: 300}},
			"ad_planner":      {Enabled: false, Auth: "oauth", CacheTTL: "1h", Quota: ratelimit.Quota{PerMinute: 10, PerHour: 100}},
			"reddit":          {Enabled: false, Auth: "oauth", TokenURL: "https://www.reddit.com/api/v1/access_token", CacheTTL: "30m", Quota: ratelimit.Quota{PerMinute: 30, PerHour: 600}},
			"forum":           {Enabled: false, Auth: "cookie", CacheTTL: "30m", Quota: ratelimit.Quota{PerMinute: 10, PerHour: 200}},
		},

		HTTP: HTTPConfig{
			UserAgent:      "keywordforge/1.0",
			Timeout:        "15s",
			MaxAttempts:    3,
			RetryBaseDelay: "250ms",
			RefreshMargin:  "5m",
		},

		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    "60s",
			ResetTimeout:     "30s",
			SuccessThreshold: 2,
		},

		Cache: CacheConfig{
			DefaultTTL:      "15m",
			CleanupInterval: "5m",
			MaxEntries:      10000,
		},

		Pipeline:  PipelineConfig{},
		Validator: validator.DefaultOptions(),
		Enrich:    enrich.DefaultOptions(),
		Scoring:   keyword.DefaultScoreWeights(),

		Stage: StageConfig{
			Deadline:        "2m",
			PerSeedLimit:    20,
			MetricsBackfill: true,
			CheckpointDir:   "data/runs",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets always
// come from the environment in deployment; the YAML keys exist for local
// development only.
func (c *Config) applyEnvOverrides() {
	c.overrideCredential("ad_planner", "KWFORGE_ADPLANNER_CLIENT_ID", "KWFORGE_ADPLANNER_CLIENT_SECRET")
	c.overrideCredential("reddit", "KWFORGE_REDDIT_CLIENT_ID", "KWFORGE_REDDIT_CLIENT_SECRET")

	if user := os.Getenv("KWFORGE_FORUM_USERNAME"); user != "" {
		p := c.Providers["forum"]
		p.Username = user
		p.Enabled = true
		c.Providers["forum"] = p
	}
	if pass := os.Getenv("KWFORGE_FORUM_PASSWORD"); pass != "" {
		p := c.Providers["forum"]
		p.Password = pass
		c.Providers["forum"] = p
	}

	if proxy := os.Getenv("KWFORGE_PROXY"); proxy != "" {
		c.HTTP.Proxy = proxy
	}
	if level := os.Getenv("KWFORGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("KWFORGE_CHECKPOINT_DIR"); dir != "" {
		c.Stage.CheckpointDir = dir
	}
}

func (c *Config) overrideCredential(provider, idKey, secretKey string) {
	id := os.Getenv(idKey)
	secret := os.Getenv(secretKey)
	if id == "" && secret == "" {
		return
	}
	p := c.Providers[provider]
	if id != "" {
		p.ClientID = id
	}
	if secret != "" {
		p.ClientSecret = secret
	}
	if p.ClientID != "" && p.ClientSecret != "" {
		p.Enabled = true
	}
	c.Providers[provider] = p
}

// duration parses a duration string with a fallback for empty or bad values.
func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetHTTPTimeout returns the per-request timeout.
func (c *Config) GetHTTPTimeout() time.Duration {
	return duration(c.HTTP.Timeout, 15*time.Second)
}

// GetRetryBaseDelay returns the first-retry backoff delay.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return duration(c.HTTP.RetryBaseDelay, 250*time.Millisecond)
}

// GetRefreshMargin returns the token early-refresh margin.
func (c *Config) GetRefreshMargin() time.Duration {
	return duration(c.HTTP.RefreshMargin, 5*time.Minute)
}

// GetFailureWindow returns the breaker failure accumulation window.
func (c *Config) GetFailureWindow() time.Duration {
	return duration(c.Breaker.FailureWindow, 60*time.Second)
}

// GetResetTimeout returns the breaker open-state duration.
func (c *Config) GetResetTimeout() time.Duration {
	return duration(c.Breaker.ResetTimeout, 30*time.Second)
}

// GetCacheTTL returns the default payload cache lifetime.
func (c *Config) GetCacheTTL() time.Duration {
	return duration(c.Cache.DefaultTTL, 15*time.Minute)
}

// GetCacheCleanupInterval returns the expired-entry sweep period.
func (c *Config) GetCacheCleanupInterval() time.Duration {
	return duration(c.Cache.CleanupInterval, 5*time.Minute)
}

// GetStageDeadline returns the per-run wall clock budget.
func (c *Config) GetStageDeadline() time.Duration {
	return duration(c.Stage.Deadline, 2*time.Minute)
}

// GetProviderCacheTTL returns one provider's payload cache lifetime, falling
// back to the global default.
func (c *Config) GetProviderCacheTTL(provider string) time.Duration {
	p, ok := c.Providers[provider]
	if !ok {
		return c.GetCacheTTL()
	}
	return duration(p.CacheTTL, c.GetCacheTTL())
}

// EnabledProviders returns the enabled provider names, sorted for stable
// iteration.
func (c *Config) EnabledProviders() []string {
	var out []string
	for name, p := range c.Providers {
		if p.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Quotas returns the per-provider rate quotas for the enabled providers.
func (c *Config) Quotas() map[string]ratelimit.Quota {
	out := make(map[string]ratelimit.Quota)
	for name, p := range c.Providers {
		if p.Enabled {
			out[name] = p.Quota
		}
	}
	return out
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.EnabledProviders()) == 0 {
		return fmt.Errorf("no providers enabled")
	}
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		switch strings.ToLower(p.Auth) {
		case "", "none":
		case "oauth":
			if p.ClientID == "" || p.ClientSecret == "" {
				return fmt.Errorf("provider %s: oauth needs client_id and client_secret", name)
			}
		case "cookie":
			if p.Username == "" || p.Password == "" {
				return fmt.Errorf("provider %s: cookie auth needs username and password", name)
			}
		default:
			return fmt.Errorf("provider %s: unknown auth %q", name, p.Auth)
		}
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be >= 1")
	}
	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http max_attempts must be >= 1")
	}
	return nil
}
