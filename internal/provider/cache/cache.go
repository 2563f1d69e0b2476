// Package cache decorates a crawler.Provider with a Redis-backed profile cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/metrics"
)

// DefaultTTL keeps profiles for a day.
const DefaultTTL = 24 * time.Hour

// KV is the subset of *redis.Client used by the cache.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Provider serves profiles from Redis and falls back to next on a miss.
// Cache failures are logged and never fail the call.
type Provider struct {
	next   crawler.Provider
	kv     KV
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps next. An empty prefix defaults to "user:".
func New(next crawler.Provider, kv KV, prefix string, ttl time.Duration, logger *zap.Logger) *Provider {
	if prefix == "" {
		prefix = "user:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{next: next, kv: kv, prefix: prefix, ttl: ttl, logger: logger}
}

type cachedProfile struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	IsPrivate      bool   `json:"is_private"`
}

// FetchProfile implements crawler.Provider.
func (p *Provider) FetchProfile(ctx context.Context, username string) (crawler.Profile, error) {
	key := p.prefix + username
	raw, err := p.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp cachedProfile
		if errDecode := json.Unmarshal(raw, &cp); errDecode == nil {
			metrics.ObserveProfileCache("hit")
			if index, ok := p.next.(crawler.UserIDIndex); ok {
				index.RememberUserID(username, cp.UserID)
			}
			return crawler.Profile(cp), nil
		}
		p.logger.Warn("discarding undecodable cached profile", zap.String("key", key))
		metrics.ObserveProfileCache("error")
	case errors.Is(err, redis.Nil):
		metrics.ObserveProfileCache("miss")
	default:
		p.logger.Warn("profile cache read failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveProfileCache("error")
	}

	profile, err := p.next.FetchProfile(ctx, username)
	if err != nil {
		return crawler.Profile{}, err
	}
	payload, err := json.Marshal(cachedProfile(profile))
	if err != nil {
		return profile, nil
	}
	if err := p.kv.Set(ctx, key, payload, p.ttl).Err(); err != nil {
		p.logger.Warn("profile cache write failed", zap.String("key", key), zap.Error(err))
	}
	return profile, nil
}

// FetchFollowersPage implements crawler.Provider. Listings are not cached.
func (p *Provider) FetchFollowersPage(ctx context.Context, username, cursor string) (crawler.FollowersPage, error) {
	return p.next.FetchFollowersPage(ctx, username, cursor)
}
