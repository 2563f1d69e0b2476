package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

// finalize fans the terminal snapshot out to the configured sinks. Every
// sink is best-effort: failures are logged and never change the job.
func (w *Worker) finalize(ctx context.Context, jobID string, logger *zap.Logger) {
	if w.sinks.Blobs == nil && w.sinks.Archive == nil && w.sinks.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SinkTimeout)
	defer cancel()

	job, err := w.jobStore.Get(ctx, jobID)
	if err != nil {
		logger.Error("load terminal job failed", zap.Error(err))
		return
	}

	var exportURI, digest string
	if w.sinks.Blobs != nil {
		exportURI, digest, err = w.export(ctx, job)
		if err != nil {
			logger.Warn("result export failed", zap.Error(err))
		}
	}

	var g errgroup.Group
	if w.sinks.Archive != nil {
		g.Go(func() error {
			if err := w.sinks.Archive.ArchiveJob(ctx, job); err != nil {
				logger.Warn("archive failed", zap.Error(err))
			}
			return nil
		})
	}
	if w.sinks.Publisher != nil && w.cfg.Topic != "" {
		g.Go(func() error {
			id, err := w.sinks.Publisher.Publish(ctx, w.cfg.Topic, jobEvent(job, exportURI, digest))
			if err != nil {
				logger.Warn("event publish failed", zap.Error(err))
				return nil
			}
			logger.Debug("event published", zap.String("message_id", id))
			return nil
		})
	}
	_ = g.Wait()
}

// export writes the terminal snapshot and returns its URI and SHA-256 hex
// digest.
func (w *Worker) export(ctx context.Context, job crawler.Job) (string, string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", "", fmt.Errorf("marshal job: %w", err)
	}
	sum := sha256.Sum256(payload)
	name := path.Join(w.cfg.ExportPrefix, job.ID+".json")
	uri, err := w.sinks.Blobs.PutObject(ctx, name, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}
	return uri, hex.EncodeToString(sum[:]), nil
}

func jobEvent(job crawler.Job, exportURI, digest string) crawler.JobEvent {
	ev := crawler.JobEvent{
		JobID:          job.ID,
		Status:         job.Status,
		TargetUsername: job.TargetUsername,
		Depth:          job.Depth,
		MinFollowers:   job.MinFollowers,
		ResultCount:    len(job.Results),
		Error:          job.Error,
		ExportURI:      exportURI,
		ExportSHA256:   digest,
	}
	if job.FinishedAt != nil {
		ev.FinishedAt = *job.FinishedAt
	}
	return ev
}
