// Package memory provides in-memory storage backends for development,
// testing and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

// JobStore provides an in-memory crawler.JobStore. Readers always receive
// deep copies, so a snapshot never changes under a poller.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]crawler.Job
	clock     crawler.Clock
	retention time.Duration
}

// NewJobStore constructs a JobStore. Terminal jobs older than retention are
// dropped by Evict; retention <= 0 keeps them forever.
func NewJobStore(clock crawler.Clock, retention time.Duration) *JobStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{
		jobs:      make(map[string]crawler.Job),
		clock:     clock,
		retention: retention,
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", crawler.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get fetches a snapshot of a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

// MarkRunning transitions a queued job to running.
func (s *JobStore) MarkRunning(_ context.Context, jobID string) error {
	return s.mutate(jobID, func(job *crawler.Job, now time.Time) error {
		return job.Start(now)
	})
}

// AppendResult appends a discovered account to a running job.
func (s *JobStore) AppendResult(_ context.Context, jobID string, entry crawler.ResultEntry) error {
	return s.mutate(jobID, func(job *crawler.Job, now time.Time) error {
		return job.Append(entry, now)
	})
}

// SetProgress records the latest progress message.
func (s *JobStore) SetProgress(_ context.Context, jobID string, msg string) error {
	return s.mutate(jobID, func(job *crawler.Job, now time.Time) error {
		return job.Report(msg, now)
	})
}

// Complete marks a running job completed.
func (s *JobStore) Complete(_ context.Context, jobID string) error {
	return s.mutate(jobID, func(job *crawler.Job, now time.Time) error {
		return job.Finish(crawler.JobStatusCompleted, nil, now)
	})
}

// Fail marks a job failed. A queued job is moved through running first so
// jobs that never started (enqueue failures, early cancels) still terminate.
func (s *JobStore) Fail(_ context.Context, jobID string, jobErr *crawler.JobError) error {
	return s.mutate(jobID, func(job *crawler.Job, now time.Time) error {
		if job.Status == crawler.JobStatusQueued {
			if err := job.Start(now); err != nil {
				return err
			}
		}
		return job.Finish(crawler.JobStatusFailed, jobErr, now)
	})
}

// mutate applies fn to a working copy and commits it only on success.
func (s *JobStore) mutate(jobID string, fn func(job *crawler.Job, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	working := job.Clone()
	if err := fn(&working, s.clock.Now()); err != nil {
		return err
	}
	s.jobs[jobID] = working
	return nil
}

// Evict drops terminal jobs that finished before now minus retention and
// returns how many were removed.
func (s *JobStore) Evict(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// RunJanitor calls Evict every interval until ctx is done.
func (s *JobStore) RunJanitor(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if s.retention <= 0 || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(s.clock.Now()); n > 0 {
				logger.Info("evicted expired jobs", zap.Int("count", n))
			}
		}
	}
}
