package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Request describes one traversal run.
type Request struct {
	Target       string `json:"target_username"`
	Depth        int    `json:"depth"`
	MinFollowers int64  `json:"min_followers"`
}

// EngineConfig tunes the traversal.
type EngineConfig struct {
	// MaxPagesPerAccount caps follower pagination per expanded account.
	// Zero or negative means the listing is read to exhaustion.
	MaxPagesPerAccount int
}

// Hooks receive traversal output as it happens. All fields are optional.
type Hooks struct {
	// OnResult is called once per qualifying account, in discovery order.
	// Returning an error aborts the run.
	OnResult func(ctx context.Context, entry ResultEntry) error
	// OnExpand receives every follower username listed for an expanded account.
	OnExpand func(ctx context.Context, account string, depth int, followers []string)
	// OnProgress receives human-readable progress messages.
	OnProgress func(ctx context.Context, msg string)
}

// Stats summarizes one run.
type Stats struct {
	Visited   int
	Evaluated int
	Expanded  int
	Pages     int
	Results   int
}

// Engine performs depth-limited breadth-first discovery over the follower graph.
type Engine struct {
	provider Provider
	cfg      EngineConfig
	logger   *zap.Logger
}

// NewEngine constructs an Engine. The provider is expected to be the
// rate-limited view of the adapter.
func NewEngine(provider Provider, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

type frontierItem struct {
	username string
	depth    int
}

// visitedSet indexes usernames into an append-only arena so membership checks
// stay O(1) and the set can only grow.
type visitedSet struct {
	index map[string]int
	names []string
}

func newVisitedSet() *visitedSet {
	return &visitedSet{index: make(map[string]int)}
}

// add returns false when username was already present.
func (v *visitedSet) add(username string) bool {
	if _, ok := v.index[username]; ok {
		return false
	}
	v.index[username] = len(v.names)
	v.names = append(v.names, username)
	return true
}

func (v *visitedSet) len() int {
	return len(v.names)
}

// Run executes the traversal for req and reports results through hooks.
// Accounts are marked visited when first discovered, so an account reachable
// through several parents is evaluated exactly once. Level d+1 is only ever
// seeded by qualifying, public accounts found at level d.
func (e *Engine) Run(ctx context.Context, req Request, hooks Hooks) (Stats, error) {
	var stats Stats
	if req.Target == "" || req.Depth < 1 || req.MinFollowers < 0 {
		return stats, fmt.Errorf("%w: target=%q depth=%d min_followers=%d",
			ErrInvalidInput, req.Target, req.Depth, req.MinFollowers)
	}
	visited := newVisitedSet()
	visited.add(req.Target)
	defer func() { stats.Visited = visited.len() }()

	if err := checkpoint(ctx); err != nil {
		return stats, err
	}
	target, err := e.provider.FetchProfile(ctx, req.Target)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		e.logger.Warn("target account not found", zap.String("target", req.Target))
		hooks.progress(ctx, fmt.Sprintf("Target %s not found", req.Target))
		return stats, nil
	case err != nil:
		return stats, fmt.Errorf("fetch target profile %s: %w", req.Target, err)
	case target.IsPrivate:
		e.logger.Info("skipping private target", zap.String("target", req.Target))
		hooks.progress(ctx, fmt.Sprintf("Target %s is private", req.Target))
		return stats, nil
	}

	frontier := []frontierItem{{username: req.Target, depth: 0}}
	for head := 0; head < len(frontier); head++ {
		if err := checkpoint(ctx); err != nil {
			return stats, err
		}
		item := frontier[head]
		frontier[head] = frontierItem{}
		hooks.progress(ctx, fmt.Sprintf("Analyzing %s at depth %d", item.username, item.depth+1))
		next, err := e.expand(ctx, req, item, visited, hooks, &stats)
		if err != nil {
			return stats, err
		}
		frontier = append(frontier, next...)
	}
	return stats, nil
}

// expand pages through item's followers, evaluates every unseen follower and
// returns the followers that qualify for expansion at the next level.
func (e *Engine) expand(
	ctx context.Context,
	req Request,
	item frontierItem,
	visited *visitedSet,
	hooks Hooks,
	stats *Stats,
) ([]frontierItem, error) {
	var (
		next      []frontierItem
		followers []string
		cursor    string
	)
	childDepth := item.depth + 1
	stats.Expanded++
	for page := 0; e.cfg.MaxPagesPerAccount <= 0 || page < e.cfg.MaxPagesPerAccount; page++ {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
		listing, err := e.provider.FetchFollowersPage(ctx, item.username, cursor)
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrPrivateAccount) {
			e.logger.Info("follower listing unavailable",
				zap.String("account", item.username),
				zap.Error(err),
			)
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fetch followers of %s: %w", item.username, err)
		}
		stats.Pages++

		for _, follower := range listing.Followers {
			if follower.Username == "" {
				continue
			}
			followers = append(followers, follower.Username)
			if !visited.add(follower.Username) {
				continue
			}
			if err := checkpoint(ctx); err != nil {
				return nil, err
			}
			entry, found, err := e.evaluate(ctx, follower, childDepth)
			if err != nil {
				return nil, err
			}
			stats.Evaluated++
			if !found || entry.FollowerCount < req.MinFollowers {
				continue
			}
			if err := hooks.result(ctx, entry); err != nil {
				return nil, fmt.Errorf("record result %s: %w", entry.Username, err)
			}
			stats.Results++
			if !entry.IsPrivate && childDepth < req.Depth {
				next = append(next, frontierItem{username: entry.Username, depth: childDepth})
			}
		}

		if listing.NextCursor == "" {
			break
		}
		cursor = listing.NextCursor
	}

	e.logger.Debug("account expanded",
		zap.String("account", item.username),
		zap.Int("depth", item.depth),
		zap.Int("followers", len(followers)),
		zap.Int("enqueued", len(next)),
	)
	hooks.expand(ctx, item.username, item.depth, followers)
	return next, nil
}

// evaluate resolves follower counts for a newly discovered account. found is
// false when the provider no longer knows the account.
func (e *Engine) evaluate(ctx context.Context, follower FollowerSummary, depth int) (ResultEntry, bool, error) {
	if follower.HasCounts {
		return ResultEntry{
			Username:       follower.Username,
			FullName:       follower.FullName,
			FollowerCount:  follower.FollowerCount,
			FollowingCount: follower.FollowingCount,
			IsPrivate:      follower.IsPrivate,
			Depth:          depth,
		}, true, nil
	}
	profile, err := e.provider.FetchProfile(ctx, follower.Username)
	if errors.Is(err, ErrAccountNotFound) {
		e.logger.Debug("skipping vanished account", zap.String("account", follower.Username))
		return ResultEntry{}, false, nil
	}
	if err != nil {
		return ResultEntry{}, false, fmt.Errorf("fetch profile %s: %w", follower.Username, err)
	}
	return ResultEntry{
		Username:       follower.Username,
		FullName:       profile.FullName,
		FollowerCount:  profile.FollowerCount,
		FollowingCount: profile.FollowingCount,
		IsPrivate:      profile.IsPrivate,
		Depth:          depth,
	}, true, nil
}

func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		return fmt.Errorf("traversal stopped: %w", err)
	}
	return nil
}

func (h Hooks) result(ctx context.Context, entry ResultEntry) error {
	if h.OnResult == nil {
		return nil
	}
	return h.OnResult(ctx, entry)
}

func (h Hooks) expand(ctx context.Context, account string, depth int, followers []string) {
	if h.OnExpand != nil {
		h.OnExpand(ctx, account, depth, followers)
	}
}

func (h Hooks) progress(ctx context.Context, msg string) {
	if h.OnProgress != nil {
		h.OnProgress(ctx, msg)
	}
}
