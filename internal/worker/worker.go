// Package worker runs discovery jobs pulled from the queue and records their
// progress and outcome in the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/metrics"
)

// Runner executes one traversal. *crawler.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req crawler.Request, hooks crawler.Hooks) (crawler.Stats, error)
}

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds a single run; zero disables it.
	Timeout time.Duration
	// Topic receives lifecycle events when a publisher is configured.
	Topic string
	// ExportPrefix is the blob path prefix for exported results.
	ExportPrefix string
	// SinkTimeout bounds the terminal side effects of a job.
	SinkTimeout time.Duration
}

// Sinks are the optional destinations notified when a job ends.
type Sinks struct {
	Blobs     crawler.BlobStore
	Archive   crawler.Archive
	Publisher crawler.Publisher
	Graph     crawler.GraphSink
}

// Worker consumes queue items and executes the traversal engine.
type Worker struct {
	queue    crawler.Queue
	jobStore crawler.JobStore
	runner   Runner
	registry *Registry
	sinks    Sinks
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	runner Runner,
	registry *Registry,
	sinks Sinks,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = "results"
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 30 * time.Second
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		runner:   runner,
		registry: registry,
		sinks:    sinks,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	// Store writes outlive cancellation so partial results and the terminal
	// status are always recorded.
	storeCtx := context.WithoutCancel(ctx)

	if err := w.jobStore.MarkRunning(storeCtx, item.JobID); err != nil {
		logger.Warn("job not runnable", zap.Error(err))
		w.registry.Forget(item.JobID)
		return
	}
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	runCtx, release := w.registry.Register(ctx, item.JobID)
	defer release()
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Info("job started",
		zap.String("target", item.Request.Target),
		zap.Int("depth", item.Request.Depth),
		zap.Int64("min_followers", item.Request.MinFollowers),
	)
	stats, runErr := w.runner.Run(runCtx, item.Request, w.hooks(storeCtx, item.JobID, logger))

	status := crawler.JobStatusCompleted
	if runErr == nil {
		if err := w.jobStore.Complete(storeCtx, item.JobID); err != nil {
			logger.Error("complete job failed", zap.Error(err))
			return
		}
	} else {
		status = crawler.JobStatusFailed
		jobErr := crawler.NewJobError(runErr)
		if err := w.jobStore.Fail(storeCtx, item.JobID, jobErr); err != nil {
			logger.Error("fail job failed", zap.Error(err))
			return
		}
		logger.Warn("job failed", zap.String("code", jobErr.Code), zap.Error(runErr))
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("results", stats.Results),
		zap.Int("visited", stats.Visited),
		zap.Int("pages", stats.Pages),
		zap.Duration("elapsed", time.Since(start)),
	)
	w.finalize(storeCtx, item.JobID, logger)
}

func (w *Worker) hooks(ctx context.Context, jobID string, logger *zap.Logger) crawler.Hooks {
	hooks := crawler.Hooks{
		OnResult: func(_ context.Context, entry crawler.ResultEntry) error {
			if err := w.jobStore.AppendResult(ctx, jobID, entry); err != nil {
				return fmt.Errorf("append result: %w", err)
			}
			metrics.ObserveResult()
			return nil
		},
		OnProgress: func(_ context.Context, msg string) {
			if err := w.jobStore.SetProgress(ctx, jobID, msg); err != nil {
				logger.Debug("progress update failed", zap.Error(err))
			}
		},
	}
	if w.sinks.Graph != nil {
		hooks.OnExpand = func(runCtx context.Context, account string, _ int, followers []string) {
			if err := w.sinks.Graph.RecordFollowers(runCtx, jobID, account, followers); err != nil {
				logger.Warn("graph export failed", zap.String("account", account), zap.Error(err))
			}
		}
	}
	return hooks
}
