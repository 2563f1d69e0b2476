// Package orchestrator accepts discovery requests, records them as queued
// jobs and hands them to the worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

const maxUsernameLen = 30

var usernamePattern = regexp.MustCompile(`^[a-z0-9._]+$`)

// ErrQueueUnavailable reports that a job was stored but could not be queued.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// Canceler signals a running job or leaves a tombstone for a queued one.
// *worker.Registry satisfies it.
type Canceler interface {
	Cancel(jobID string) bool
	Forget(jobID string)
}

// Enqueuer hands a job to the worker pool. *dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Config carries the request defaults and bounds.
type Config struct {
	DefaultDepth        int
	MaxDepth            int
	DefaultMinFollowers int64
	EnqueueTimeout      time.Duration
}

// CreateRequest is a discovery request. Nil fields take configured defaults.
type CreateRequest struct {
	Username     string
	Depth        *int
	MinFollowers *int64
}

// Orchestrator owns job creation, lookup and cancellation.
type Orchestrator struct {
	store    crawler.JobStore
	queue    Enqueuer
	canceler Canceler
	ids      crawler.IDGenerator
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(
	store crawler.JobStore,
	queue Enqueuer,
	canceler Canceler,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		queue:    queue,
		canceler: canceler,
		ids:      ids,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultDepth <= 0 {
		c.DefaultDepth = 1
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 5 * time.Second
	}
	return c
}

// NormalizeUsername trims whitespace, strips a leading "@" and lowercases.
func NormalizeUsername(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimPrefix(name, "@")
	return strings.ToLower(name)
}

// Validate normalizes req and resolves defaults from cfg into an engine
// request.
func Validate(cfg Config, req CreateRequest) (crawler.Request, error) {
	cfg = cfg.withDefaults()
	name := NormalizeUsername(req.Username)
	switch {
	case name == "":
		return crawler.Request{}, fmt.Errorf("%w: username is required", crawler.ErrInvalidInput)
	case len(name) > maxUsernameLen:
		return crawler.Request{}, fmt.Errorf("%w: username longer than %d characters", crawler.ErrInvalidInput, maxUsernameLen)
	case !usernamePattern.MatchString(name):
		return crawler.Request{}, fmt.Errorf("%w: username %q has invalid characters", crawler.ErrInvalidInput, name)
	}

	depth := cfg.DefaultDepth
	if req.Depth != nil {
		depth = *req.Depth
	}
	if depth < 1 || depth > cfg.MaxDepth {
		return crawler.Request{}, fmt.Errorf("%w: depth must be between 1 and %d", crawler.ErrInvalidInput, cfg.MaxDepth)
	}

	minFollowers := cfg.DefaultMinFollowers
	if req.MinFollowers != nil {
		minFollowers = *req.MinFollowers
	}
	if minFollowers < 0 {
		return crawler.Request{}, fmt.Errorf("%w: min_followers must not be negative", crawler.ErrInvalidInput)
	}
	return crawler.Request{Target: name, Depth: depth, MinFollowers: minFollowers}, nil
}

// CreateJob validates req, stores a queued job and enqueues it. It never
// waits on the traversal itself.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateRequest) (crawler.Job, error) {
	run, err := Validate(o.cfg, req)
	if err != nil {
		return crawler.Job{}, err
	}
	jobID, err := o.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := o.clock.Now()
	job := crawler.Job{
		ID:             jobID,
		Status:         crawler.JobStatusQueued,
		TargetUsername: run.Target,
		Depth:          run.Depth,
		MinFollowers:   run.MinFollowers,
		Results:        []crawler.ResultEntry{},
		Progress:       "Job created, waiting to start",
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.Create(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, o.cfg.EnqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Request:   run,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := o.queue.Enqueue(queueCtx, item); err != nil {
		o.logger.Warn("enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		failErr := o.store.Fail(context.WithoutCancel(ctx), jobID, &crawler.JobError{
			Code:    crawler.CodeEnqueueFailed,
			Message: err.Error(),
		})
		if failErr != nil {
			o.logger.Error("record enqueue failure", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return crawler.Job{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	o.logger.Info("job queued",
		zap.String("job_id", jobID),
		zap.String("target", run.Target),
		zap.Int("depth", run.Depth),
		zap.Int64("min_followers", run.MinFollowers),
	)
	return job, nil
}

// GetJob returns the current snapshot of a job.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// CancelJob requests cancellation of a queued or running job. Terminal jobs
// report crawler.ErrInvalidTransition.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := o.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	if job.Status.IsTerminal() {
		return job, fmt.Errorf("%w: job %s already %s", crawler.ErrInvalidTransition, jobID, job.Status)
	}
	running := o.canceler.Cancel(jobID)
	if !running {
		// The job may have finished between the read and the cancel; its
		// tombstone would never be consumed.
		if latest, err := o.store.Get(ctx, jobID); err == nil && latest.Status.IsTerminal() {
			o.canceler.Forget(jobID)
		}
	}
	o.logger.Info("job cancel requested", zap.String("job_id", jobID), zap.Bool("running", running))
	return job, nil
}
