// Package redis stores job records as JSON documents in Redis so several
// API replicas can serve polls for the same jobs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

// KV is the subset of *goredis.Client used by the store.
type KV interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
}

// JobStore keeps one JSON record per job under prefix+id. Every write
// refreshes the TTL, so a record expires retention after its last change.
// Each job has a single writer (its worker); the per-job locks only order
// writers inside this process, and different jobs never wait on each other.
type JobStore struct {
	kv     KV
	prefix string
	ttl    time.Duration
	clock  crawler.Clock

	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewJobStore constructs a JobStore. An empty prefix defaults to "job:".
func NewJobStore(kv KV, prefix string, ttl time.Duration, clock crawler.Clock) *JobStore {
	if prefix == "" {
		prefix = "job:"
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{kv: kv, prefix: prefix, ttl: ttl, clock: clock, locks: make(map[string]*jobLock)}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

func (s *JobStore) key(jobID string) string {
	return s.prefix + jobID
}

// Create stores a new job, failing if the id is taken.
func (s *JobStore) Create(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.kv.SetNX(ctx, s.key(job.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrJobExists, job.ID)
	}
	return nil
}

// Get reads a job snapshot.
func (s *JobStore) Get(ctx context.Context, jobID string) (crawler.Job, error) {
	raw, err := s.kv.Get(ctx, s.key(jobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	var job crawler.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// MarkRunning transitions a queued job to running.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(job *crawler.Job, now time.Time) error {
		return job.Start(now)
	})
}

// AppendResult appends a discovered account to a running job.
func (s *JobStore) AppendResult(ctx context.Context, jobID string, entry crawler.ResultEntry) error {
	return s.mutate(ctx, jobID, func(job *crawler.Job, now time.Time) error {
		return job.Append(entry, now)
	})
}

// SetProgress records the latest progress message.
func (s *JobStore) SetProgress(ctx context.Context, jobID string, msg string) error {
	return s.mutate(ctx, jobID, func(job *crawler.Job, now time.Time) error {
		return job.Report(msg, now)
	})
}

// Complete marks a running job completed.
func (s *JobStore) Complete(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(job *crawler.Job, now time.Time) error {
		return job.Finish(crawler.JobStatusCompleted, nil, now)
	})
}

// Fail marks a job failed, passing through running for jobs that never started.
func (s *JobStore) Fail(ctx context.Context, jobID string, jobErr *crawler.JobError) error {
	return s.mutate(ctx, jobID, func(job *crawler.Job, now time.Time) error {
		if job.Status == crawler.JobStatusQueued {
			if err := job.Start(now); err != nil {
				return err
			}
		}
		return job.Finish(crawler.JobStatusFailed, jobErr, now)
	})
}

// lock takes the job's lock and returns its release func. Entries are dropped
// once nobody holds or waits on them.
func (s *JobStore) lock(jobID string) func() {
	s.mu.Lock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &jobLock{}
		s.locks[jobID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, jobID)
		}
		s.mu.Unlock()
	}
}

func (s *JobStore) mutate(ctx context.Context, jobID string, fn func(job *crawler.Job, now time.Time) error) error {
	unlock := s.lock(jobID)
	defer unlock()
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := fn(&job, s.clock.Now()); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(jobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("write job %s: %w", jobID, err)
	}
	return nil
}
