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
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Export    ExportConfig    `mapstructure:"export"`
	Events    EventsConfig    `mapstructure:"events"`
	Graph     GraphConfig     `mapstructure:"graph"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig holds traversal defaults and bounds.
type CrawlerConfig struct {
	MinFollowers       int64 `mapstructure:"min_followers"`
	MaxDepth           int   `mapstructure:"max_depth"`
	DefaultDepth       int   `mapstructure:"default_depth"`
	MaxPagesPerAccount int   `mapstructure:"max_pages_per_account"`
	PageSize           int   `mapstructure:"page_size"`
}

// RateLimitConfig paces and retries provider calls.
type RateLimitConfig struct {
	Delay             time.Duration `mapstructure:"delay"`
	DelayJitter       time.Duration `mapstructure:"delay_jitter"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// JobsConfig sizes the worker pool and job lifetimes.
type JobsConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retention      time.Duration `mapstructure:"retention"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

// ProviderConfig selects and configures the account data source.
type ProviderConfig struct {
	Kind        string        `mapstructure:"kind"`
	Username    string        `mapstructure:"username"`
	SessionFile string        `mapstructure:"session_file"`
	BaseURL     string        `mapstructure:"base_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FixtureFile string        `mapstructure:"fixture_file"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig addresses the Redis server shared by the job store and cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	JobPrefix string `mapstructure:"job_prefix"`
}

// CacheConfig controls the Redis profile cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// DatabaseConfig controls the Postgres job archive.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ExportConfig selects where terminal result snapshots are written.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// EventsConfig selects the lifecycle event publisher.
type EventsConfig struct {
	Backend     string `mapstructure:"backend"`
	KafkaBroker string `mapstructure:"kafka_broker"`
	Topic       string `mapstructure:"topic"`
	ProjectID   string `mapstructure:"project_id"`
}

// GraphConfig enables follower-edge export to Neo4j when URI is set.
type GraphConfig struct {
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INFLUENCE")
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

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("crawler.min_followers", 3000)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.default_depth", 1)
	v.SetDefault("crawler.max_pages_per_account", 10)
	v.SetDefault("crawler.page_size", 50)

	v.SetDefault("ratelimit.delay", 2*time.Second)
	v.SetDefault("ratelimit.delay_jitter", time.Second)
	v.SetDefault("ratelimit.backoff_base", 2*time.Second)
	v.SetDefault("ratelimit.backoff_multiplier", 2.0)
	v.SetDefault("ratelimit.backoff_max", 60*time.Second)
	v.SetDefault("ratelimit.max_retries", 4)

	v.SetDefault("jobs.concurrency", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.timeout", 0)
	v.SetDefault("jobs.retention", 24*time.Hour)
	v.SetDefault("jobs.enqueue_timeout", 5*time.Second)

	v.SetDefault("provider.kind", "instagram")
	v.SetDefault("provider.username", "")
	v.SetDefault("provider.session_file", "")
	v.SetDefault("provider.base_url", "https://i.instagram.com")
	v.SetDefault("provider.user_agent", "")
	v.SetDefault("provider.timeout", 20*time.Second)
	v.SetDefault("provider.fixture_file", "")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.job_prefix", "job:")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.prefix", "user:")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "influence_jobs")
	v.SetDefault("export.backend", "none")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.base_dir", "")
	v.SetDefault("export.prefix", "results")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.kafka_broker", "")
	v.SetDefault("events.topic", "influence.jobs")
	v.SetDefault("events.project_id", "")
	v.SetDefault("graph.neo4j_uri", "")
	v.SetDefault("graph.neo4j_user", "neo4j")
	v.SetDefault("graph.neo4j_password", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.MinFollowers < 0 {
		return fmt.Errorf("crawler.min_followers must be >= 0")
	}
	if c.Crawler.MaxDepth < 1 {
		return fmt.Errorf("crawler.max_depth must be >= 1")
	}
	if c.Crawler.DefaultDepth < 1 || c.Crawler.DefaultDepth > c.Crawler.MaxDepth {
		return fmt.Errorf("crawler.default_depth must be between 1 and crawler.max_depth")
	}
	if c.Crawler.MaxPagesPerAccount < 0 {
		return fmt.Errorf("crawler.max_pages_per_account must be >= 0")
	}
	if c.RateLimit.Delay < 0 || c.RateLimit.DelayJitter < 0 {
		return fmt.Errorf("ratelimit delays must be >= 0")
	}
	if c.RateLimit.MaxRetries < 0 {
		return fmt.Errorf("ratelimit.max_retries must be >= 0")
	}
	if c.RateLimit.BackoffMultiplier < 1 {
		return fmt.Errorf("ratelimit.backoff_multiplier must be >= 1")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Jobs.Timeout < 0 {
		return fmt.Errorf("jobs.timeout must be >= 0")
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Provider.Kind {
	case "instagram":
		if c.Provider.SessionFile == "" {
			return fmt.Errorf("provider.session_file is required for the instagram provider")
		}
	case "memory":
		if c.Provider.FixtureFile == "" {
			return fmt.Errorf("provider.fixture_file is required for the memory provider")
		}
	default:
		return fmt.Errorf("unknown provider.kind %q", c.Provider.Kind)
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Cache.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when cache.enabled is set")
	}
	switch c.Export.Backend {
	case "none", "memory":
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir is required for local export")
		}
	case "gcs":
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket is required for gcs export")
		}
	default:
		return fmt.Errorf("unknown export.backend %q", c.Export.Backend)
	}
	switch c.Events.Backend {
	case "none", "memory":
	case "kafka":
		if c.Events.KafkaBroker == "" {
			return fmt.Errorf("events.kafka_broker is required for kafka events")
		}
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id is required for pubsub events")
		}
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}
	return nil
}
