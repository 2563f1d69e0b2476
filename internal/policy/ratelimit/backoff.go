package ratelimit

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

// ExponentialBackoff decides whether a failed provider call is retried and
// how long to wait before the next attempt.
type ExponentialBackoff struct {
	maxRetries int
	baseDelay  time.Duration
	multiplier float64
	maxDelay   time.Duration
}

// NewExponentialBackoff builds a policy from cfg, falling back to sane
// defaults for unset fields.
func NewExponentialBackoff(cfg Config) *ExponentialBackoff {
	b := &ExponentialBackoff{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BackoffBase,
		multiplier: cfg.BackoffMultiplier,
		maxDelay:   cfg.BackoffMax,
	}
	if b.maxRetries < 0 {
		b.maxRetries = 0
	}
	if b.multiplier < 1 {
		b.multiplier = 2
	}
	if b.maxDelay <= 0 {
		b.maxDelay = time.Minute
	}
	return b
}

// ShouldRetry reports whether the call may be retried after its attempt-th
// failure (attempt starts at 1).
func (b *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt > b.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return crawler.IsRetryable(err)
}

// Delay returns the wait before retry number retry (starting at 1):
// base * multiplier^(retry-1), capped at the maximum.
func (b *ExponentialBackoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := float64(b.baseDelay) * math.Pow(b.multiplier, float64(retry-1))
	if delay > float64(b.maxDelay) || math.IsInf(delay, 0) {
		return b.maxDelay
	}
	return time.Duration(delay)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
