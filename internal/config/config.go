// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Evidence  EvidenceConfig  `mapstructure:"evidence"`
	Keywords  []KeywordSeed   `mapstructure:"keywords"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScanConfig governs keyword scan cycles.
type ScanConfig struct {
	Cron              string  `mapstructure:"cron"`
	KeywordsPerCycle  int     `mapstructure:"keywords_per_cycle"`
	WindowDays        int     `mapstructure:"window_days"`
	SearchesPerSecond float64 `mapstructure:"searches_per_second"`
	SearchBurst       int     `mapstructure:"search_burst"`
}

// QuotaConfig sets the daily search quota in API units.
type QuotaConfig struct {
	DailyLimit float64 `mapstructure:"daily_limit"`
	SearchCost float64 `mapstructure:"search_cost"`
}

// BudgetConfig sets the daily analysis budget in dollars.
type BudgetConfig struct {
	DailyLimit float64 `mapstructure:"daily_limit"`
}

// AnalysisConfig configures the AI analysis provider.
type AnalysisConfig struct {
	APIKey           string  `mapstructure:"api_key"`
	Model            string  `mapstructure:"model"`
	MaxTokens        int64   `mapstructure:"max_tokens"`
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
}

// WorkersConfig governs the analysis worker pool.
type WorkersConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// DatabaseConfig controls access to the relational database. Provider is
// "postgres" or "memory".
type DatabaseConfig struct {
	Provider           string `mapstructure:"provider"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// QueueConfig selects the dispatch queue backend: "pubsub" or "memory".
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	TopicID      string `mapstructure:"topic_id"`
	Subscription string `mapstructure:"subscription"`
}

// EvidenceConfig selects the evidence archive backend: "gcs", "memory", or
// "none".
type EvidenceConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
}

// KeywordSeed declares a monitored search term.
type KeywordSeed struct {
	Term     string `mapstructure:"term"`
	Priority string `mapstructure:"priority"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// LifecycleConfig tunes reconciliation behavior.
type LifecycleConfig struct {
	StuckThresholdMinutes int    `mapstructure:"stuck_threshold_minutes"`
	ReconcileCron         string `mapstructure:"reconcile_cron"`
	ChannelRefreshCron    string `mapstructure:"channel_refresh_cron"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VIDSENTRY")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("scan.cron", "@every 15m")
	v.SetDefault("scan.keywords_per_cycle", 10)
	v.SetDefault("scan.window_days", 7)
	v.SetDefault("scan.searches_per_second", 1)
	v.SetDefault("scan.search_burst", 1)
	v.SetDefault("quota.daily_limit", 10000)
	v.SetDefault("quota.search_cost", 100)
	v.SetDefault("budget.daily_limit", 50)
	v.SetDefault("analysis.max_tokens", 1024)
	v.SetDefault("analysis.input_per_million", 3)
	v.SetDefault("analysis.output_per_million", 15)
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("database.provider", "memory")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("evidence.provider", "none")
	v.SetDefault("logging.development", true)
	v.SetDefault("lifecycle.stuck_threshold_minutes", 15)
	v.SetDefault("lifecycle.reconcile_cron", "@every 5m")
	v.SetDefault("lifecycle.channel_refresh_cron", "@every 1h")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be > 0")
	}
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be > 0")
	}
	if c.Budget.DailyLimit <= 0 {
		return fmt.Errorf("budget.daily_limit must be > 0")
	}
	if c.Database.Provider == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set for the postgres provider")
	}
	if c.Queue.Provider == "pubsub" {
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" {
			return fmt.Errorf("queue.project_id and queue.topic_id must be set for the pubsub provider")
		}
	}
	if c.Evidence.Provider == "gcs" && c.Evidence.Bucket == "" {
		return fmt.Errorf("evidence.bucket must be set for the gcs provider")
	}
	for _, kw := range c.Keywords {
		if strings.TrimSpace(kw.Term) == "" {
			return fmt.Errorf("keywords entries must have a term")
		}
	}
	return nil
}

// StuckThreshold converts the reconciliation threshold to a duration.
func (c Config) StuckThreshold() time.Duration {
	return time.Duration(c.Lifecycle.StuckThresholdMinutes) * time.Minute
}

// ConnLifetime converts the pool lifetime knob to a duration.
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMinute) * time.Minute
}
