package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore persists job records and enforces the lifecycle state machine.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	MarkRunning(ctx context.Context, jobID string) error
	AppendResult(ctx context.Context, jobID string, entry ResultEntry) error
	SetProgress(ctx context.Context, jobID string, msg string) error
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, jobErr *JobError) error
}

// Provider is the data source for profiles and follower listings. Only one
// authenticated session exists per process, so implementations are expected
// to be funneled through a single rate-limit gate.
type Provider interface {
	FetchProfile(ctx context.Context, username string) (Profile, error)
	FetchFollowersPage(ctx context.Context, username string, cursor string) (FollowersPage, error)
}

// UserIDIndex is implemented by providers whose follower listings are keyed
// by a provider user id. Wrappers use it to resolve the id with a separate
// call, or to seed it from a cached profile.
type UserIDIndex interface {
	UserID(username string) (string, bool)
	RememberUserID(username, userID string)
}

// Queue provides enqueue/dequeue semantics for discovery jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes lifecycle events to Kafka, Pub/Sub or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Archive keeps a durable copy of finished jobs.
type Archive interface {
	ArchiveJob(ctx context.Context, job Job) error
}

// GraphSink records follower edges observed while expanding an account.
type GraphSink interface {
	RecordFollowers(ctx context.Context, jobID string, account string, followers []string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
