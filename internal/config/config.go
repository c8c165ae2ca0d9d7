package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the radar session. Thresholds are product
// heuristics; the mechanism cares only that they are applied consistently.
type Config struct {
	Session   SessionConfig   `mapstructure:"session"`
	Balance   BalanceConfig   `mapstructure:"balance"`
	Outlier   OutlierConfig   `mapstructure:"outlier"`
	Relevance RelevanceConfig `mapstructure:"relevance"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Skills    SkillsConfig    `mapstructure:"skills"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type SessionConfig struct {
	TargetItems    int `mapstructure:"target_items"`
	MaxPlanSteps   int `mapstructure:"max_plan_steps"`
	EngineLag      int `mapstructure:"engine_lag_threshold"`
	MaxChasePerCyc int `mapstructure:"max_chase_tasks_per_cycle"`
	MaxTaskHistory int `mapstructure:"max_task_history"`
	MaxErrors      int `mapstructure:"max_error_history"`
}

type BalanceConfig struct {
	Mode           string `mapstructure:"mode"` // strict | soft | adaptive
	SoftThreshold  int    `mapstructure:"soft_threshold"`
	StrictInterval int    `mapstructure:"strict_interval"`
	MinItems       int    `mapstructure:"min_items_for_balance"`
	HistorySize    int    `mapstructure:"history_size"`
}

type OutlierConfig struct {
	TopN              int     `mapstructure:"top_n"`
	MonitorWindowDays int     `mapstructure:"monitor_window_days"`
	HunterWindowDays  int     `mapstructure:"hunter_window_days"`
	VerticalRatio     float64 `mapstructure:"vertical_ratio"`
	AbsoluteHitViews  int64   `mapstructure:"absolute_hit_views"`
	BaselineViews     int64   `mapstructure:"baseline_views"`
	BaselineInteract  int64   `mapstructure:"baseline_interactions"`
	MedianMultiple    float64 `mapstructure:"median_multiple"`
	EngagementRate    float64 `mapstructure:"engagement_rate"`
	NormalizedView    float64 `mapstructure:"normalized_view"`
	TextOverrideMin   int64   `mapstructure:"text_override_interactions"`
	DefaultFans       int64   `mapstructure:"default_author_fans"`
	EstimatedEngage   float64 `mapstructure:"estimated_engagement"`
	DefaultMedian     float64 `mapstructure:"default_median_views"`
}

type RelevanceConfig struct {
	Threshold      float64 `mapstructure:"threshold"`
	TopK           int     `mapstructure:"top_k"`
	FuzzySimilar   float64 `mapstructure:"fuzzy_similarity"`
	MinTokenLength int     `mapstructure:"min_token_length"`
}

type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	EnableBackoff bool          `mapstructure:"enable_backoff"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type FeedbackConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxGuardRetry  int     `mapstructure:"max_guard_retries"`
	MaxGuardCost   float64 `mapstructure:"max_guard_cost_usd"`
	GlobalRetryCap int     `mapstructure:"global_retry_cap"`
	MaxVerdicts    int     `mapstructure:"max_verdict_history"`
}

type MemoryConfig struct {
	Dir            string `mapstructure:"dir"`
	ExternalizeAt  int    `mapstructure:"externalize_threshold"`
	RetentionDays  int    `mapstructure:"retention_days"`
	ScratchpadKeep int    `mapstructure:"scratchpad_keep"`
}

type SkillsConfig struct {
	Dir         string `mapstructure:"dir"`
	MaxSnippets int    `mapstructure:"max_snippets"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	applyDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("session.target_items", 50)
	v.SetDefault("session.max_plan_steps", 50)
	v.SetDefault("session.engine_lag_threshold", 10)
	v.SetDefault("session.max_chase_tasks_per_cycle", 5)
	v.SetDefault("session.max_task_history", 100)
	v.SetDefault("session.max_error_history", 50)

	v.SetDefault("balance.mode", "adaptive")
	v.SetDefault("balance.soft_threshold", 5)
	v.SetDefault("balance.strict_interval", 2)
	v.SetDefault("balance.min_items_for_balance", 4)
	v.SetDefault("balance.history_size", 20)

	v.SetDefault("outlier.top_n", 10)
	v.SetDefault("outlier.monitor_window_days", 30)
	v.SetDefault("outlier.hunter_window_days", 60)
	v.SetDefault("outlier.vertical_ratio", 1.2)
	v.SetDefault("outlier.absolute_hit_views", 500000)
	v.SetDefault("outlier.baseline_views", 1000)
	v.SetDefault("outlier.baseline_interactions", 50)
	v.SetDefault("outlier.median_multiple", 1.5)
	v.SetDefault("outlier.engagement_rate", 0.01)
	v.SetDefault("outlier.normalized_view", 2.0)
	v.SetDefault("outlier.text_override_interactions", 50)
	v.SetDefault("outlier.default_author_fans", 5000)
	v.SetDefault("outlier.estimated_engagement", 0.02)
	v.SetDefault("outlier.default_median_views", 1000)

	v.SetDefault("relevance.threshold", 0.30)
	v.SetDefault("relevance.top_k", 10)
	v.SetDefault("relevance.fuzzy_similarity", 0.85)
	v.SetDefault("relevance.min_token_length", 2)

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.backoff_factor", 1.8)
	v.SetDefault("retry.max_backoff", 16*time.Second)
	v.SetDefault("retry.enable_backoff", true)

	v.SetDefault("circuit_breaker.failure_threshold", 3)
	v.SetDefault("circuit_breaker.reset_timeout", 60*time.Second)

	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.max_guard_retries", 2)
	v.SetDefault("feedback.max_guard_cost_usd", 1.0)
	v.SetDefault("feedback.global_retry_cap", 3)
	v.SetDefault("feedback.max_verdict_history", 100)

	v.SetDefault("memory.dir", "data/memory")
	v.SetDefault("memory.externalize_threshold", 100)
	v.SetDefault("memory.retention_days", 7)
	v.SetDefault("memory.scratchpad_keep", 200)

	v.SetDefault("skills.dir", "skills")
	v.SetDefault("skills.max_snippets", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 2112)
}

// Load reads radar.yaml from RADAR_CONFIG_PATH or ./config/radar.yaml,
// layering env overrides (RADAR_ prefix) over the file over defaults. A
// missing file is not an error; defaults apply.
func Load() (*Config, error) {
	path := os.Getenv("RADAR_CONFIG_PATH")
	if path == "" {
		path = "config/radar.yaml"
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)
	v.SetEnvPrefix("RADAR")
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the loop cannot run safely with.
func (c *Config) Validate() error {
	if c.Session.TargetItems <= 0 {
		return fmt.Errorf("session.target_items must be positive, got %d", c.Session.TargetItems)
	}
	if c.Session.MaxPlanSteps <= 0 {
		return fmt.Errorf("session.max_plan_steps must be positive, got %d", c.Session.MaxPlanSteps)
	}
	switch c.Balance.Mode {
	case "strict", "soft", "adaptive":
	default:
		return fmt.Errorf("balance.mode must be strict, soft or adaptive, got %q", c.Balance.Mode)
	}
	if c.Relevance.Threshold < 0 || c.Relevance.Threshold > 1 {
		return fmt.Errorf("relevance.threshold must be in [0,1], got %f", c.Relevance.Threshold)
	}
	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry.max_retries must be positive, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffFactor <= 1 {
		return fmt.Errorf("retry.backoff_factor must exceed 1, got %f", c.Retry.BackoffFactor)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Feedback.GlobalRetryCap < 0 {
		return fmt.Errorf("feedback.global_retry_cap must not be negative, got %d", c.Feedback.GlobalRetryCap)
	}
	return nil
}
