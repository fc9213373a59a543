package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Pipeline.CollectionConcurrency)
	require.Equal(t, 32, cfg.Pipeline.FetchConcurrency)
	require.Equal(t, 3, cfg.Pipeline.RetryCount)
	require.Equal(t, 3, cfg.Discovery.ScrollStabilityRounds)
	require.Equal(t, 200, cfg.Discovery.MaxScrollRounds)
	require.Equal(t, 10*time.Second, cfg.HTTP.RequestTimeout)
	require.True(t, cfg.HTTP.RejectHTMLContent)
	require.True(t, cfg.Render.Enabled)
	require.Equal(t, "data/records.csv", cfg.Output.RecordsFile)
	require.False(t, cfg.Server.Enabled)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  fetch_concurrency: 8
  retry_count: 5
discovery:
  scroll_stability_rounds: 2
render:
  enabled: false
output:
  media_dir: /tmp/harvest/media
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Pipeline.FetchConcurrency)
	require.Equal(t, 5, cfg.Pipeline.RetryCount)
	require.Equal(t, 2, cfg.Discovery.ScrollStabilityRounds)
	require.False(t, cfg.Render.Enabled)
	require.Equal(t, "/tmp/harvest/media", cfg.Output.MediaDir)

	// Untouched keys keep their defaults.
	require.Equal(t, 4, cfg.Pipeline.CollectionConcurrency)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HARVEST_PIPELINE_FETCH_CONCURRENCY", "2")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Pipeline.FetchConcurrency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fetch workers", func(c *Config) { c.Pipeline.FetchConcurrency = 0 }},
		{"negative fallback", func(c *Config) { c.Pipeline.FallbackConcurrency = -1 }},
		{"zero retries", func(c *Config) { c.Pipeline.RetryCount = 0 }},
		{"zero stability rounds", func(c *Config) { c.Discovery.ScrollStabilityRounds = 0 }},
		{"zero scroll cap", func(c *Config) { c.Discovery.MaxScrollRounds = 0 }},
		{"blank user agent", func(c *Config) { c.HTTP.UserAgent = "" }},
		{"zero request timeout", func(c *Config) { c.HTTP.RequestTimeout = 0 }},
		{"render enabled without timeout", func(c *Config) { c.Render.Timeout = 0 }},
		{"blank media dir", func(c *Config) { c.Output.MediaDir = "" }},
		{"blank records file", func(c *Config) { c.Output.RecordsFile = "" }},
		{"blank checkpoint file", func(c *Config) { c.Output.CheckpointFile = "" }},
		{"server enabled without port", func(c *Config) { c.Server.Enabled = true; c.Server.Port = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
