package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
	queuememory "github.com/JakeFAU/influence-crawler/internal/queue/memory"
	storemem "github.com/JakeFAU/influence-crawler/internal/storage/memory"
	"github.com/JakeFAU/influence-crawler/internal/worker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func newOrchestrator(t *testing.T, queueDepth int) (*Orchestrator, *storemem.JobStore, *queuememory.Queue, *worker.Registry) {
	t.Helper()
	clock := fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := storemem.NewJobStore(clock, 0)
	queue := queuememory.NewQueue(queueDepth)
	registry := worker.NewRegistry()
	o := New(store, queue, registry, &seqIDs{}, clock, Config{
		DefaultDepth:        1,
		MaxDepth:            3,
		DefaultMinFollowers: 3000,
		EnqueueTimeout:      10 * time.Millisecond,
	}, zap.NewNop())
	return o, store, queue, registry
}

func ptr[T any](v T) *T { return &v }

func TestCreateJob_StoresAndQueues(t *testing.T) {
	t.Parallel()

	o, store, queue, _ := newOrchestrator(t, 4)
	job, err := o.CreateJob(context.Background(), CreateRequest{Username: "  @Some.User_1 ", Depth: ptr(2)})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
	require.Equal(t, "some.user_1", job.TargetUsername)
	require.Equal(t, 2, job.Depth)
	require.EqualValues(t, 3000, job.MinFollowers)

	stored, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, stored.Status)
	require.Equal(t, job.CreatedAt, stored.CreatedAt)

	require.Equal(t, 1, queue.Len())
	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.Request{Target: "some.user_1", Depth: 2, MinFollowers: 3000}, item.Request)
}

func TestCreateJob_DistinctIDs(t *testing.T) {
	t.Parallel()

	o, _, _, _ := newOrchestrator(t, 4)
	first, err := o.CreateJob(context.Background(), CreateRequest{Username: "a"})
	require.NoError(t, err)
	second, err := o.CreateJob(context.Background(), CreateRequest{Username: "a"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestCreateJob_InvalidInput(t *testing.T) {
	t.Parallel()

	cases := map[string]CreateRequest{
		"empty":            {Username: "  "},
		"only at":          {Username: "@"},
		"too long":         {Username: "abcdefghijklmnopqrstuvwxyz12345"},
		"bad characters":   {Username: "bad name!"},
		"depth zero":       {Username: "ok", Depth: ptr(0)},
		"depth too deep":   {Username: "ok", Depth: ptr(4)},
		"negative minimum": {Username: "ok", MinFollowers: ptr(int64(-1))},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			o, _, queue, _ := newOrchestrator(t, 4)
			_, err := o.CreateJob(context.Background(), req)
			require.ErrorIs(t, err, crawler.ErrInvalidInput)
			require.Zero(t, queue.Len(), "invalid requests never reach the queue")
		})
	}
}

func TestCreateJob_ExplicitZeroMinFollowers(t *testing.T) {
	t.Parallel()

	o, _, _, _ := newOrchestrator(t, 4)
	job, err := o.CreateJob(context.Background(), CreateRequest{Username: "x", MinFollowers: ptr(int64(0))})
	require.NoError(t, err)
	require.Zero(t, job.MinFollowers)
}

func TestCreateJob_QueueFullFailsStoredJob(t *testing.T) {
	t.Parallel()

	o, store, _, _ := newOrchestrator(t, 1)
	_, err := o.CreateJob(context.Background(), CreateRequest{Username: "first"})
	require.NoError(t, err)

	_, err = o.CreateJob(context.Background(), CreateRequest{Username: "second"})
	require.ErrorIs(t, err, ErrQueueUnavailable)

	job, err := store.Get(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, crawler.CodeEnqueueFailed, job.Error.Code)
}

func TestCreateJob_IDFailure(t *testing.T) {
	t.Parallel()

	o := New(storemem.NewJobStore(nil, 0), queuememory.NewQueue(1), worker.NewRegistry(),
		failingIDs{}, fixedClock{}, Config{}, nil)
	_, err := o.CreateJob(context.Background(), CreateRequest{Username: "x"})
	require.ErrorContains(t, err, "generate job id")
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	o, _, _, _ := newOrchestrator(t, 1)
	_, err := o.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	o, store, _, registry := newOrchestrator(t, 4)
	job, err := o.CreateJob(context.Background(), CreateRequest{Username: "x"})
	require.NoError(t, err)

	_, err = o.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	runCtx, release := registry.Register(context.Background(), job.ID)
	defer release()
	require.Error(t, runCtx.Err(), "queued job starts canceled")

	_, err = o.CancelJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)

	require.NoError(t, store.MarkRunning(context.Background(), job.ID))
	require.NoError(t, store.Complete(context.Background(), job.ID))
	_, err = o.CancelJob(context.Background(), job.ID)
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)
}

// finishingCanceler completes the job just before the cancel lands, the way a
// worker finishing concurrently would.
type finishingCanceler struct {
	*worker.Registry
	store *storemem.JobStore
}

func (c finishingCanceler) Cancel(jobID string) bool {
	ctx := context.Background()
	_ = c.store.MarkRunning(ctx, jobID)
	_ = c.store.Complete(ctx, jobID)
	return c.Registry.Cancel(jobID)
}

func TestCancelJob_FinishedDuringCancelLeavesNoTombstone(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := storemem.NewJobStore(clock, 0)
	registry := worker.NewRegistry()
	o := New(store, queuememory.NewQueue(4), finishingCanceler{Registry: registry, store: store},
		&seqIDs{}, clock, Config{}, zap.NewNop())

	job, err := o.CreateJob(context.Background(), CreateRequest{Username: "x"})
	require.NoError(t, err)
	_, err = o.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)

	runCtx, release := registry.Register(context.Background(), job.ID)
	defer release()
	require.NoError(t, runCtx.Err(), "tombstone for a finished job should be dropped")
}
