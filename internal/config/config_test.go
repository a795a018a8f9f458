package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValidOnceCredentialedProvidersAreOff(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	enabled := cfg.EnabledProviders()
	assert.Contains(t, enabled, "google_suggest")
	assert.NotContains(t, enabled, "ad_planner", "credentialed providers start disabled")
	assert.NotContains(t, enabled, "forum")
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "keywordforge", cfg.Name)
	assert.Equal(t, 15*time.Second, cfg.GetHTTPTimeout())
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  timeout: 3s
breaker:
  failure_threshold: 9
validator:
  volume_min: 50
providers:
  duckduckgo:
    enabled: false
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.GetHTTPTimeout())
	assert.Equal(t, 9, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 50, cfg.Validator.VolumeMin)
	assert.NotContains(t, cfg.EnabledProviders(), "duckduckgo")
	assert.Contains(t, cfg.EnabledProviders(), "google_suggest", "untouched defaults survive")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: ["), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesEnableCredentialedProviders(t *testing.T) {
	t.Setenv("KWFORGE_REDDIT_CLIENT_ID", "id-from-env")
	t.Setenv("KWFORGE_REDDIT_CLIENT_SECRET", "secret-from-env")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	p := cfg.Providers["reddit"]
	assert.True(t, p.Enabled)
	assert.Equal(t, "id-from-env", p.ClientID)
	assert.Equal(t, "secret-from-env", p.ClientSecret)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridePartialCredentialDoesNotEnable(t *testing.T) {
	t.Setenv("KWFORGE_ADPLANNER_CLIENT_ID", "id-only")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	p := cfg.Providers["ad_planner"]
	assert.False(t, p.Enabled, "half a credential must not enable the provider")
	assert.Equal(t, "id-only", p.ClientID)
}

func TestEnvOverridesForumAndGlobals(t *testing.T) {
	t.Setenv("KWFORGE_FORUM_USERNAME", "bot")
	t.Setenv("KWFORGE_FORUM_PASSWORD", "hunter2")
	t.Setenv("KWFORGE_PROXY", "http://proxy:3128")
	t.Setenv("KWFORGE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.True(t, cfg.Providers["forum"].Enabled)
	assert.Equal(t, "bot", cfg.Providers["forum"].Username)
	assert.Equal(t, "http://proxy:3128", cfg.HTTP.Proxy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidateCatchesIncompleteAuth(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Providers["ad_planner"]
	p.Enabled = true
	cfg.Providers["ad_planner"] = p
	require.Error(t, cfg.Validate(), "oauth without credentials must not validate")

	p.ClientID, p.ClientSecret = "id", "secret"
	cfg.Providers["ad_planner"] = p
	require.NoError(t, cfg.Validate())
}

func TestProviderCacheTTLFallsBackToGlobal(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Hour, cfg.GetProviderCacheTTL("ad_planner"))
	assert.Equal(t, cfg.GetCacheTTL(), cfg.GetProviderCacheTTL("unknown_provider"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Validator.Blacklist = []string{"spam"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"spam"}, loaded.Validator.Blacklist)
	assert.Equal(t, cfg.Breaker, loaded.Breaker)
}
