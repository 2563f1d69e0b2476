package server

import (
	"context"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/config"
	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/influence-crawler/internal/provider/cache"
	"github.com/JakeFAU/influence-crawler/internal/provider/instagram"
	providermemory "github.com/JakeFAU/influence-crawler/internal/provider/memory"
)

// NewRedisClient builds the client shared by the job store and profile cache
// and checks connectivity.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewSourceProvider builds the raw account data source selected by
// provider.kind.
func NewSourceProvider(cfg *config.Config, logger *zap.Logger) (crawler.Provider, error) {
	switch cfg.Provider.Kind {
	case "memory":
		p, err := providermemory.LoadFile(cfg.Provider.FixtureFile, cfg.Crawler.PageSize)
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		logger.Info("using fixture provider", zap.String("file", cfg.Provider.FixtureFile))
		return p, nil
	case "instagram":
		session, err := instagram.LoadSession(cfg.Provider.SessionFile)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		client := instagram.New(instagram.Config{
			BaseURL:   cfg.Provider.BaseURL,
			UserAgent: cfg.Provider.UserAgent,
			PageSize:  cfg.Crawler.PageSize,
			Timeout:   cfg.Provider.Timeout,
		}, session, &http.Client{Timeout: cfg.Provider.Timeout}, logger.Named("instagram"))
		logger.Info("using instagram provider", zap.String("base_url", cfg.Provider.BaseURL))
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// NewGate builds the process-wide pacing and retry gate.
func NewGate(cfg *config.Config, logger *zap.Logger) *ratelimit.Gate {
	rl := cfg.RateLimit
	logger.Info("rate limit gate",
		zap.Duration("delay", rl.Delay),
		zap.Duration("delay_jitter", rl.DelayJitter),
		zap.Duration("backoff_base", rl.BackoffBase),
		zap.Float64("backoff_multiplier", rl.BackoffMultiplier),
		zap.Duration("backoff_max", rl.BackoffMax),
		zap.Int("max_retries", rl.MaxRetries),
	)
	return ratelimit.New(ratelimit.Config{
		Delay:             rl.Delay,
		DelayJitter:       rl.DelayJitter,
		BackoffBase:       rl.BackoffBase,
		BackoffMultiplier: rl.BackoffMultiplier,
		BackoffMax:        rl.BackoffMax,
		MaxRetries:        rl.MaxRetries,
	}, logger.Named("gate"))
}

// NewProviderStack layers the source, the optional profile cache and the
// gate. Cache hits never pass through the gate.
func NewProviderStack(
	cfg *config.Config,
	source crawler.Provider,
	redisClient *goredis.Client,
	logger *zap.Logger,
) crawler.Provider {
	paced := NewGate(cfg, logger).Provider(source)
	if !cfg.Cache.Enabled || redisClient == nil {
		return paced
	}
	logger.Info("profile cache enabled", zap.Duration("ttl", cfg.Cache.TTL), zap.String("prefix", cfg.Cache.Prefix))
	return cache.New(paced, redisClient, cfg.Cache.Prefix, cfg.Cache.TTL, logger.Named("cache"))
}

// NewEngine builds the traversal engine over provider.
func NewEngine(cfg *config.Config, provider crawler.Provider, logger *zap.Logger) *crawler.Engine {
	return crawler.NewEngine(provider, crawler.EngineConfig{
		MaxPagesPerAccount: cfg.Crawler.MaxPagesPerAccount,
	}, logger.Named("engine"))
}
