// Package ratelimit funnels every provider call through one shared gate that
// paces calls and retries transient failures with exponential backoff.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/metrics"
)

// Config holds gate configuration.
type Config struct {
	Delay             time.Duration
	DelayJitter       time.Duration
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	MaxRetries        int
}

// Gate serializes provider calls process-wide. The slot is held for the
// whole call, backoff included, so a provider throttle pauses every job
// sharing the session. Waiters give up as soon as their context ends.
type Gate struct {
	slot    *semaphore.Weighted
	limiter *rate.Limiter
	jitter  time.Duration
	backoff *ExponentialBackoff
	logger  *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	random func(limit time.Duration) time.Duration
}

// Option customizes a Gate.
type Option func(*Gate)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// WithJitterSource replaces the random jitter source.
func WithJitterSource(random func(limit time.Duration) time.Duration) Option {
	return func(g *Gate) {
		g.random = random
	}
}

// New creates a Gate.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	g := &Gate{
		slot:    semaphore.NewWeighted(1),
		limiter: rate.NewLimiter(limit, 1),
		jitter:  cfg.DelayJitter,
		backoff: NewExponentialBackoff(cfg),
		logger:  logger,
		sleep:   sleepContext,
		random:  randomJitter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs call under the gate. op labels logs and metrics.
func (g *Gate) Execute(ctx context.Context, op string, call func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gate wait: %w", err)
	}
	if err := g.slot.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("gate wait: %w", err)
	}
	defer g.slot.Release(1)

	for attempt := 1; ; attempt++ {
		if err := g.pace(ctx); err != nil {
			return err
		}
		err := call(ctx)
		if err == nil {
			metrics.ObserveProviderCall(op, "ok")
			return nil
		}
		code := crawler.ErrorCode(err)
		metrics.ObserveProviderCall(op, code)
		if !g.backoff.ShouldRetry(err, attempt) {
			if crawler.IsRetryable(err) {
				g.logger.Warn("provider retries exhausted",
					zap.String("op", op),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
			}
			return err
		}

		delay := g.backoff.Delay(attempt)
		g.logger.Info("provider call failed, backing off",
			zap.String("op", op),
			zap.String("code", code),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		metrics.ObserveProviderRetry(op, code)
		metrics.ObserveGateWait("backoff", delay)
		if err := g.sleep(ctx, delay); err != nil {
			return fmt.Errorf("backoff wait: %w", err)
		}
	}
}

// pace waits for the spacing token plus optional random extra delay.
func (g *Gate) pace(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if extra := g.random(g.jitter); extra > 0 {
		if err := g.sleep(ctx, extra); err != nil {
			return fmt.Errorf("rate limit jitter: %w", err)
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveGateWait("spacing", waited)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Provider wraps next so every call passes through the gate.
func (g *Gate) Provider(next crawler.Provider) crawler.Provider {
	return &gatedProvider{gate: g, next: next}
}

type gatedProvider struct {
	gate *Gate
	next crawler.Provider
}

func (p *gatedProvider) FetchProfile(ctx context.Context, username string) (crawler.Profile, error) {
	var profile crawler.Profile
	err := p.gate.Execute(ctx, "fetch_profile", func(ctx context.Context) error {
		var err error
		profile, err = p.next.FetchProfile(ctx, username)
		return err
	})
	return profile, err
}

// FetchFollowersPage resolves an unseen user id with its own gated profile
// call first, so every provider request gets a spacing token.
func (p *gatedProvider) FetchFollowersPage(ctx context.Context, username, cursor string) (crawler.FollowersPage, error) {
	if index, ok := p.next.(crawler.UserIDIndex); ok {
		if _, known := index.UserID(username); !known {
			if _, err := p.FetchProfile(ctx, username); err != nil {
				return crawler.FollowersPage{}, err
			}
		}
	}
	var page crawler.FollowersPage
	err := p.gate.Execute(ctx, "fetch_followers", func(ctx context.Context) error {
		var err error
		page, err = p.next.FetchFollowersPage(ctx, username, cursor)
		return err
	})
	return page, err
}

func (p *gatedProvider) UserID(username string) (string, bool) {
	if index, ok := p.next.(crawler.UserIDIndex); ok {
		return index.UserID(username)
	}
	return "", false
}

func (p *gatedProvider) RememberUserID(username, userID string) {
	if index, ok := p.next.(crawler.UserIDIndex); ok {
		index.RememberUserID(username, userID)
	}
}
