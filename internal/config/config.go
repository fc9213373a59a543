// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Render    RenderConfig    `mapstructure:"render"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Output    OutputConfig    `mapstructure:"output"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PipelineConfig sizes the worker pools and the retry budget.
type PipelineConfig struct {
	CollectionConcurrency int    `mapstructure:"collection_concurrency"`
	DiscoveryConcurrency  int    `mapstructure:"discovery_concurrency"`
	FetchConcurrency      int    `mapstructure:"fetch_concurrency"`
	FallbackConcurrency   int    `mapstructure:"fallback_concurrency"`
	RetryCount            int    `mapstructure:"retry_count"`
	CollectionsFile       string `mapstructure:"collections_file"`
}

// DiscoveryConfig tunes discovery termination.
type DiscoveryConfig struct {
	ScrollStabilityRounds int `mapstructure:"scroll_stability_rounds"`
	MaxScrollRounds       int `mapstructure:"max_scroll_rounds"`
}

// HTTPConfig governs the primary fetch path.
type HTTPConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimitPerDomain int           `mapstructure:"rate_limit_per_domain"`
	MaxBodyBytes       int           `mapstructure:"max_body_bytes"`
	RejectHTMLContent  bool          `mapstructure:"reject_html_content"`
}

// RenderConfig governs the fallback capture path.
type RenderConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	DomainQPS float64       `mapstructure:"domain_qps"`
}

// RedisConfig locates the shared fingerprint backend. An empty address means
// the run starts directly on the in-process set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// OutputConfig sets where durable run state lands.
type OutputConfig struct {
	MediaDir       string `mapstructure:"media_dir"`
	RecordsFile    string `mapstructure:"records_file"`
	CheckpointFile string `mapstructure:"checkpoint_file"`
}

// ServerConfig controls the optional observability endpoint.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Bad configuration is fatal at
// startup; no partial run is attempted.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.collection_concurrency", 4)
	v.SetDefault("pipeline.discovery_concurrency", 4)
	v.SetDefault("pipeline.fetch_concurrency", 32)
	v.SetDefault("pipeline.fallback_concurrency", 2)
	v.SetDefault("pipeline.retry_count", 3)
	v.SetDefault("discovery.scroll_stability_rounds", 3)
	v.SetDefault("discovery.max_scroll_rounds", 200)
	v.SetDefault("http.user_agent", "mediaharvest/1.0 (+https://github.com/crawlkit/mediaharvest)")
	v.SetDefault("http.request_timeout", "10s")
	v.SetDefault("http.rate_limit_per_domain", 4)
	v.SetDefault("http.max_body_bytes", 64*1024*1024)
	v.SetDefault("http.reject_html_content", true)
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.timeout", "25s")
	v.SetDefault("render.domain_qps", 0.5)
	v.SetDefault("redis.namespace", "mediaharvest")
	v.SetDefault("output.media_dir", "data/media")
	v.SetDefault("output.records_file", "data/records.csv")
	v.SetDefault("output.checkpoint_file", "data/checkpoint.txt")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pipeline.CollectionConcurrency <= 0 {
		return fmt.Errorf("pipeline.collection_concurrency must be > 0")
	}
	if c.Pipeline.DiscoveryConcurrency <= 0 {
		return fmt.Errorf("pipeline.discovery_concurrency must be > 0")
	}
	if c.Pipeline.FetchConcurrency <= 0 {
		return fmt.Errorf("pipeline.fetch_concurrency must be > 0")
	}
	if c.Pipeline.FallbackConcurrency < 0 {
		return fmt.Errorf("pipeline.fallback_concurrency must be >= 0")
	}
	if c.Pipeline.RetryCount <= 0 {
		return fmt.Errorf("pipeline.retry_count must be > 0")
	}
	if c.Discovery.ScrollStabilityRounds <= 0 {
		return fmt.Errorf("discovery.scroll_stability_rounds must be > 0")
	}
	if c.Discovery.MaxScrollRounds <= 0 {
		return fmt.Errorf("discovery.max_scroll_rounds must be > 0")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be > 0")
	}
	if c.HTTP.RateLimitPerDomain <= 0 {
		return fmt.Errorf("http.rate_limit_per_domain must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if c.Render.Enabled && c.Render.Timeout <= 0 {
		return fmt.Errorf("render.timeout must be > 0 when rendering is enabled")
	}
	if c.Output.MediaDir == "" {
		return fmt.Errorf("output.media_dir must be set")
	}
	if c.Output.RecordsFile == "" {
		return fmt.Errorf("output.records_file must be set")
	}
	if c.Output.CheckpointFile == "" {
		return fmt.Errorf("output.checkpoint_file must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}
