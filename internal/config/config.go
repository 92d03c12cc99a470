// Package config loads and validates boltflow configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/boltflow/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. BOLTFLOW_DB_DSN.
const EnvPrefix = "BOLTFLOW"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                 int      `mapstructure:"port"`
	ShutdownGraceSeconds int      `mapstructure:"shutdown_grace_seconds"`
	CORSOrigins          []string `mapstructure:"cors_origins"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime"`
}

// AuthConfig configures bearer token signing.
type AuthConfig struct {
	SecretKey       string `mapstructure:"secret_key"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
	Issuer          string `mapstructure:"issuer"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
}

// ScrapeConfig governs job execution and the scrape engines.
type ScrapeConfig struct {
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
	MaxPagesLimit      int      `mapstructure:"max_pages_limit"`
	MaxPagesDefault    int      `mapstructure:"max_pages_default"`
	ProgressBuffer     int      `mapstructure:"progress_buffer"`
	UserAgent          string   `mapstructure:"user_agent"`
	RespectRobots      bool     `mapstructure:"respect_robots"`
	Headless           bool     `mapstructure:"headless"`
	HeadlessParallel   int      `mapstructure:"headless_parallel"`
	PromotionThreshold int      `mapstructure:"promotion_threshold"`
	BlockedHosts       []string `mapstructure:"blocked_hosts"`
	AllowPrivateHosts  bool     `mapstructure:"allow_private_hosts"`
}

// NotifyConfig configures observer delivery.
type NotifyConfig struct {
	WriteTimeoutMs int    `mapstructure:"write_timeout_ms"`
	RedisURL       string `mapstructure:"redis_url"`
	RedisChannel   string `mapstructure:"redis_channel"`
}

// StorageConfig selects where page artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the completion topic. Publishing is off without a project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig bounds API requests per caller.
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Requests      int  `mapstructure:"requests"`
	PeriodSeconds int  `mapstructure:"period_seconds"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// Every key needs a default (even an empty one) so AutomaticEnv can see it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_grace_seconds", 15)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.conn_max_lifetime", 30)
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.token_ttl_minutes", 60*24)
	v.SetDefault("auth.issuer", "boltflow")
	v.SetDefault("auth.bcrypt_cost", 0)
	v.SetDefault("scrape.timeout_seconds", 300)
	v.SetDefault("scrape.max_pages_limit", 100)
	v.SetDefault("scrape.max_pages_default", 50)
	v.SetDefault("scrape.progress_buffer", 64)
	v.SetDefault("scrape.user_agent", "boltflow-bot/0.1")
	v.SetDefault("scrape.respect_robots", true)
	v.SetDefault("scrape.headless", false)
	v.SetDefault("scrape.headless_parallel", 2)
	v.SetDefault("scrape.promotion_threshold", 60)
	v.SetDefault("scrape.blocked_hosts", []string{})
	v.SetDefault("scrape.allow_private_hosts", false)
	v.SetDefault("notify.write_timeout_ms", 5000)
	v.SetDefault("notify.redis_url", "")
	v.SetDefault("notify.redis_channel", "boltflow:events")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "./data/artifacts")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "boltflow-jobs")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.period_seconds", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Auth.SecretKey) < 16 {
		return fmt.Errorf("auth.secret_key must be at least 16 characters")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.MaxPagesLimit <= 0 {
		return fmt.Errorf("scrape.max_pages_limit must be > 0")
	}
	if c.Scrape.MaxPagesDefault <= 0 || c.Scrape.MaxPagesDefault > c.Scrape.MaxPagesLimit {
		return fmt.Errorf("scrape.max_pages_default must be between 1 and scrape.max_pages_limit")
	}
	if c.Scrape.ProgressBuffer <= 0 {
		return fmt.Errorf("scrape.progress_buffer must be > 0")
	}
	if c.Scrape.Headless && c.Scrape.HeadlessParallel <= 0 {
		return fmt.Errorf("scrape.headless_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.PeriodSeconds <= 0) {
		return fmt.Errorf("ratelimit.requests and ratelimit.period_seconds must be > 0 when enabled")
	}
	return nil
}

// JobTimeout is the wall-clock budget for one scrape job.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// ShutdownGrace bounds graceful shutdown.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSeconds) * time.Second
}

// TokenTTL is the lifetime of issued access tokens.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// WriteTimeout bounds a single observer send.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Notify.WriteTimeoutMs) * time.Millisecond
}

// RatePeriod is the window for RateLimit.Requests.
func (c Config) RatePeriod() time.Duration {
	return time.Duration(c.RateLimit.PeriodSeconds) * time.Second
}

// ConnMaxLifetime is the pool connection lifetime.
func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DB.ConnMaxLifetimeMinutes) * time.Minute
}
