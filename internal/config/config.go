// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bizradar/reddit-scanner/internal/ratelimit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Reddit    RedditConfig    `mapstructure:"reddit"`
	APILimits APILimitsConfig `mapstructure:"api_limits"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles and the credential store.
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIKey   string `mapstructure:"api_key"`
	TokenDir string `mapstructure:"token_dir"`
}

// RedditConfig holds upstream API credentials and the account roster.
type RedditConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	UserAgent    string   `mapstructure:"user_agent"`
	Usernames    []string `mapstructure:"usernames"`
}

// APILimitsConfig governs per-account rate limiting and backoff.
type APILimitsConfig struct {
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	RequestsPerHour   int     `mapstructure:"requests_per_hour"`
	BurstLimit        int     `mapstructure:"burst_limit"`
	CooldownSeconds   int     `mapstructure:"cooldown_seconds"`
	BackoffFactor     float64 `mapstructure:"backoff_factor"`
	MaxBackoffSeconds int     `mapstructure:"max_backoff_seconds"`
}

// ScannerConfig governs fetch orchestration behavior.
type ScannerConfig struct {
	MaxConcurrentRequests int     `mapstructure:"max_concurrent_requests"`
	RetryAttempts         int     `mapstructure:"retry_attempts"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	LeadThreshold         float64 `mapstructure:"lead_threshold"`
	KeywordsFile          string  `mapstructure:"keywords_file"`
}

// SearchConfig supplies defaults applied to incoming queries.
type SearchConfig struct {
	DefaultSubreddits []string `mapstructure:"default_subreddits"`
	DefaultLimit      int      `mapstructure:"default_limit"`
	DefaultSort       string   `mapstructure:"default_sort"`
	DefaultTimeFilter string   `mapstructure:"default_time_filter"`
}

// StorageConfig sets the export backend and its paths.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe lead notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANNER")
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
	v.SetDefault("auth.token_dir", "tokens")
	v.SetDefault("reddit.user_agent", "bizradar-scanner/0.1")
	v.SetDefault("api_limits.requests_per_minute", 60)
	v.SetDefault("api_limits.requests_per_hour", 3600)
	v.SetDefault("api_limits.burst_limit", 5)
	v.SetDefault("api_limits.cooldown_seconds", 60)
	v.SetDefault("api_limits.backoff_factor", 2.0)
	v.SetDefault("api_limits.max_backoff_seconds", 300)
	v.SetDefault("scanner.max_concurrent_requests", 5)
	v.SetDefault("scanner.retry_attempts", 3)
	v.SetDefault("scanner.request_timeout_seconds", 30)
	v.SetDefault("scanner.lead_threshold", 1.0)
	v.SetDefault("scanner.keywords_file", "keywords.json")
	v.SetDefault("search.default_subreddits", []string{
		"entrepreneur", "smallbusiness", "freelance", "automation", "productivity",
	})
	v.SetDefault("search.default_limit", 100)
	v.SetDefault("search.default_sort", "relevance")
	v.SetDefault("search.default_time_filter", "month")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "exports")
	v.SetDefault("storage.prefix", "scans")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.APILimits.RequestsPerMinute <= 0 && c.APILimits.RequestsPerHour <= 0 {
		return fmt.Errorf("api_limits must set requests_per_minute or requests_per_hour")
	}
	if c.Scanner.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("scanner.max_concurrent_requests must be > 0")
	}
	if c.Scanner.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("scanner.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "local", "gcs", "":
	default:
		return fmt.Errorf("storage.backend must be local or gcs, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when backend is gcs")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// LimiterConfig converts the api_limits section into rate limiter settings.
func (c Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerMinute: float64(c.APILimits.RequestsPerMinute),
		RequestsPerHour:   float64(c.APILimits.RequestsPerHour),
		BurstLimit:        c.APILimits.BurstLimit,
		Cooldown:          time.Duration(c.APILimits.CooldownSeconds) * time.Second,
		BackoffFactor:     c.APILimits.BackoffFactor,
		MaxBackoff:        time.Duration(c.APILimits.MaxBackoffSeconds) * time.Second,
	}
}

// RequestTimeout converts the per-request budget into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Scanner.RequestTimeoutSeconds) * time.Second
}
