package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestGate(t *testing.T, cfg Config) (*Gate, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	gate := New(cfg, zap.NewNop(),
		WithSleep(rec.sleep),
		WithJitterSource(func(time.Duration) time.Duration { return 0 }),
	)
	return gate, rec
}

func backoffConfig() Config {
	return Config{
		BackoffBase:       time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        5 * time.Second,
		MaxRetries:        3,
	}
}

func TestGate_RetriesRateLimitedPageOnce(t *testing.T) {
	t.Parallel()

	gate, rec := newTestGate(t, backoffConfig())
	var calls atomic.Int32
	fake := providerFunc{
		followers: func(_ context.Context, username, cursor string) (crawler.FollowersPage, error) {
			if calls.Add(1) == 1 {
				return crawler.FollowersPage{}, fmt.Errorf("%s page %q: %w", username, cursor, crawler.ErrRateLimited)
			}
			return crawler.FollowersPage{Followers: []crawler.FollowerSummary{{Username: "a"}}}, nil
		},
	}

	page, err := gate.Provider(fake).FetchFollowersPage(context.Background(), "target", "")
	require.NoError(t, err)
	require.Len(t, page.Followers, 1)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, []time.Duration{time.Second}, rec.recorded())
}

func TestGate_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	gate, rec := newTestGate(t, backoffConfig())
	calls := 0
	err := gate.Execute(context.Background(), "fetch_profile", func(context.Context) error {
		calls++
		return crawler.ErrRateLimited
	})
	require.ErrorIs(t, err, crawler.ErrRateLimited)
	require.Equal(t, 4, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.recorded())
}

func TestGate_BackoffCappedAtMax(t *testing.T) {
	t.Parallel()

	cfg := backoffConfig()
	cfg.MaxRetries = 5
	gate, rec := newTestGate(t, cfg)
	_ = gate.Execute(context.Background(), "fetch_profile", func(context.Context) error {
		return crawler.ErrNetwork
	})
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, rec.recorded())
}

func TestGate_DoesNotRetrySessionFaults(t *testing.T) {
	t.Parallel()

	for _, fault := range []error{
		crawler.ErrAuthenticationRequired,
		crawler.ErrChallengeRequired,
		crawler.ErrAccountNotFound,
		errors.New("unexpected payload"),
	} {
		gate, rec := newTestGate(t, backoffConfig())
		calls := 0
		err := gate.Execute(context.Background(), "fetch_profile", func(context.Context) error {
			calls++
			return fault
		})
		require.ErrorIs(t, err, fault)
		require.Equal(t, 1, calls, fault.Error())
		require.Empty(t, rec.recorded())
	}
}

func TestGate_RecoversFromTransientNetworkErrors(t *testing.T) {
	t.Parallel()

	gate, rec := newTestGate(t, backoffConfig())
	calls := 0
	err := gate.Execute(context.Background(), "fetch_profile", func(context.Context) error {
		calls++
		if calls < 3 {
			return crawler.ErrTimeout
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, rec.recorded(), 2)
}

func TestGate_BackoffHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	gate := New(backoffConfig(), zap.NewNop(),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
		WithJitterSource(func(time.Duration) time.Duration { return 0 }),
	)
	calls := 0
	err := gate.Execute(ctx, "fetch_profile", func(context.Context) error {
		calls++
		return crawler.ErrRateLimited
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestGate_EnforcesSpacing(t *testing.T) {
	t.Parallel()

	gate := New(Config{Delay: 30 * time.Millisecond}, zap.NewNop(),
		WithJitterSource(func(time.Duration) time.Duration { return 0 }),
	)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Execute(context.Background(), "noop", func(context.Context) error { return nil }))
	}
	require.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestGate_AddsJitter(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	gate := New(Config{DelayJitter: time.Second}, zap.NewNop(),
		WithSleep(rec.sleep),
		WithJitterSource(func(limit time.Duration) time.Duration { return limit / 4 }),
	)
	require.NoError(t, gate.Execute(context.Background(), "noop", func(context.Context) error { return nil }))
	require.Equal(t, []time.Duration{250 * time.Millisecond}, rec.recorded())
}

func TestGate_SerializesConcurrentCallers(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t, backoffConfig())
	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = gate.Execute(context.Background(), "noop", func(context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), peak.Load())
}

func TestGate_WaitersLeaveWhenContextEnds(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t, backoffConfig())
	holding := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- gate.Execute(context.Background(), "fetch_followers", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := gate.Execute(canceled, "fetch_profile", func(context.Context) error {
		t.Error("call ran for a canceled caller")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	waiting, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	err = gate.Execute(waiting, "fetch_profile", func(context.Context) error {
		t.Error("call ran after the deadline")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, <-holderDone)
	require.NoError(t, gate.Execute(context.Background(), "noop", func(context.Context) error { return nil }))
}

func TestRandomJitterBounds(t *testing.T) {
	t.Parallel()

	require.Zero(t, randomJitter(0))
	for i := 0; i < 20; i++ {
		d := randomJitter(10 * time.Millisecond)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, 10*time.Millisecond)
	}
}

type providerFunc struct {
	profile   func(ctx context.Context, username string) (crawler.Profile, error)
	followers func(ctx context.Context, username, cursor string) (crawler.FollowersPage, error)
}

func (p providerFunc) FetchProfile(ctx context.Context, username string) (crawler.Profile, error) {
	return p.profile(ctx, username)
}

func (p providerFunc) FetchFollowersPage(ctx context.Context, username, cursor string) (crawler.FollowersPage, error) {
	return p.followers(ctx, username, cursor)
}

// indexedProvider records request times and, like the HTTP adapter, needs a
// profile lookup before it can list an unseen account's followers.
type indexedProvider struct {
	mu       sync.Mutex
	ids      map[string]string
	requests []time.Time
}

func (p *indexedProvider) record() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, time.Now())
}

func (p *indexedProvider) FetchProfile(_ context.Context, username string) (crawler.Profile, error) {
	p.record()
	p.RememberUserID(username, "id-"+username)
	return crawler.Profile{UserID: "id-" + username, Username: username}, nil
}

func (p *indexedProvider) FetchFollowersPage(ctx context.Context, username, _ string) (crawler.FollowersPage, error) {
	if _, ok := p.UserID(username); !ok {
		if _, err := p.FetchProfile(ctx, username); err != nil {
			return crawler.FollowersPage{}, err
		}
	}
	p.record()
	return crawler.FollowersPage{Followers: []crawler.FollowerSummary{{Username: "follower"}}}, nil
}

func (p *indexedProvider) UserID(username string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.ids[username]
	return id, ok
}

func (p *indexedProvider) RememberUserID(username, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[username] = userID
}

func (p *indexedProvider) times() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.requests...)
}

func TestGate_ResolvesUserIDInItsOwnSlot(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond
	backing := &indexedProvider{ids: map[string]string{}}
	gate := New(Config{Delay: delay}, zap.NewNop(),
		WithJitterSource(func(time.Duration) time.Duration { return 0 }),
	)
	provider := gate.Provider(backing)

	_, err := provider.FetchFollowersPage(context.Background(), "target", "")
	require.NoError(t, err)
	requests := backing.times()
	require.Len(t, requests, 2)
	require.GreaterOrEqual(t, requests[1].Sub(requests[0]), delay-5*time.Millisecond)

	_, err = provider.FetchFollowersPage(context.Background(), "target", "next")
	require.NoError(t, err)
	require.Len(t, backing.times(), 3)
}

func TestGate_ForwardsUserIDIndex(t *testing.T) {
	t.Parallel()

	backing := &indexedProvider{ids: map[string]string{}}
	gate, _ := newTestGate(t, Config{})
	index, ok := gate.Provider(backing).(crawler.UserIDIndex)
	require.True(t, ok)

	index.RememberUserID("target", "42")
	id, known := index.UserID("target")
	require.True(t, known)
	require.Equal(t, "42", id)

	_, err := gate.Provider(backing).FetchFollowersPage(context.Background(), "target", "")
	require.NoError(t, err)
	require.Len(t, backing.times(), 1)
}
