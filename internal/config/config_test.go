package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  min_followers: 10000
  max_depth: 4
  default_depth: 2
  max_pages_per_account: 0
ratelimit:
  delay: 500ms
  backoff_max: 30s
  max_retries: 2
jobs:
  concurrency: 3
  timeout: 10m
provider:
  kind: memory
  fixture_file: fixtures.yaml
store:
  backend: redis
cache:
  enabled: true
export:
  backend: local
  base_dir: /tmp/exports
events:
  backend: kafka
  kafka_broker: localhost:9092
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.MinFollowers != 10000 || cfg.Crawler.MaxDepth != 4 || cfg.Crawler.DefaultDepth != 2 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.MaxPagesPerAccount != 0 {
		t.Fatalf("expected unlimited page cap, got %d", cfg.Crawler.MaxPagesPerAccount)
	}
	if cfg.RateLimit.Delay != 500*time.Millisecond || cfg.RateLimit.BackoffMax != 30*time.Second {
		t.Fatalf("expected duration overrides: %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.BackoffBase != 2*time.Second {
		t.Fatalf("expected default backoff base, got %v", cfg.RateLimit.BackoffBase)
	}
	if cfg.Jobs.Concurrency != 3 || cfg.Jobs.Timeout != 10*time.Minute {
		t.Fatalf("expected jobs overrides: %+v", cfg.Jobs)
	}
	if cfg.Store.Backend != "redis" || cfg.Redis.Addr != "localhost:6379" || !cfg.Cache.Enabled {
		t.Fatalf("expected redis store and cache: %+v %+v", cfg.Store, cfg.Redis)
	}
	if cfg.Events.Topic != "influence.jobs" {
		t.Fatalf("expected default topic, got %q", cfg.Events.Topic)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INFLUENCE_PROVIDER_SESSION_FILE", "/secrets/session.json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.MinFollowers != 3000 || cfg.Crawler.MaxDepth != 3 || cfg.Crawler.DefaultDepth != 1 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.MaxPagesPerAccount != 10 || cfg.Crawler.PageSize != 50 {
		t.Fatalf("unexpected paging defaults: %+v", cfg.Crawler)
	}
	want := RateLimitConfig{
		Delay:             2 * time.Second,
		DelayJitter:       time.Second,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        60 * time.Second,
		MaxRetries:        4,
	}
	if cfg.RateLimit != want {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Jobs.Concurrency != 2 || cfg.Jobs.QueueDepth != 64 || cfg.Jobs.Timeout != 0 || cfg.Jobs.Retention != 24*time.Hour {
		t.Fatalf("unexpected jobs defaults: %+v", cfg.Jobs)
	}
	if cfg.Provider.Kind != "instagram" || cfg.Provider.SessionFile != "/secrets/session.json" {
		t.Fatalf("expected instagram provider from env: %+v", cfg.Provider)
	}
	if cfg.Store.Backend != "memory" || cfg.Export.Backend != "none" || cfg.Events.Backend != "none" {
		t.Fatalf("expected optional backends off by default")
	}
	if cfg.Cache.TTL != 24*time.Hour || cfg.Cache.Prefix != "user:" {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INFLUENCE_PROVIDER_KIND", "memory")
	t.Setenv("INFLUENCE_PROVIDER_FIXTURE_FILE", "fixtures.yaml")
	t.Setenv("INFLUENCE_CRAWLER_MIN_FOLLOWERS", "500")
	t.Setenv("INFLUENCE_RATELIMIT_DELAY", "0s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.MinFollowers != 500 {
		t.Fatalf("expected env min followers, got %d", cfg.Crawler.MinFollowers)
	}
	if cfg.RateLimit.Delay != 0 {
		t.Fatalf("expected zero delay, got %v", cfg.RateLimit.Delay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Crawler:   CrawlerConfig{MaxDepth: 3, DefaultDepth: 1},
		RateLimit: RateLimitConfig{BackoffMultiplier: 2},
		Jobs:      JobsConfig{Concurrency: 1, QueueDepth: 1},
		Provider:  ProviderConfig{Kind: "memory", FixtureFile: "f.yaml"},
		Store:     StoreConfig{Backend: "memory"},
		Export:    ExportConfig{Backend: "none"},
		Events:    EventsConfig{Backend: "none"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"negative min followers", func(c *Config) { c.Crawler.MinFollowers = -1 }, "crawler.min_followers"},
		{"default depth above max", func(c *Config) { c.Crawler.DefaultDepth = 4 }, "crawler.default_depth"},
		{"negative retries", func(c *Config) { c.RateLimit.MaxRetries = -1 }, "ratelimit.max_retries"},
		{"shrinking backoff", func(c *Config) { c.RateLimit.BackoffMultiplier = 0.5 }, "ratelimit.backoff_multiplier"},
		{"invalid concurrency", func(c *Config) { c.Jobs.Concurrency = 0 }, "jobs.concurrency"},
		{"instagram without session", func(c *Config) { c.Provider = ProviderConfig{Kind: "instagram"} }, "provider.session_file"},
		{"unknown provider", func(c *Config) { c.Provider.Kind = "tiktok" }, "provider.kind"},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis" }, "redis.addr"},
		{"gcs without bucket", func(c *Config) { c.Export.Backend = "gcs" }, "export.bucket"},
		{"pubsub without project", func(c *Config) { c.Events.Backend = "pubsub" }, "events.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
