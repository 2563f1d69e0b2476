// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// JobStatus represents the lifecycle state of a discovery job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// ResultEntry is one influential account discovered during a run.
type ResultEntry struct {
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	IsPrivate      bool   `json:"is_private"`
	Depth          int    `json:"depth"`
}

// JobError is the structured failure reason attached to failed jobs.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job represents the metadata persisted for each submitted discovery request.
type Job struct {
	ID             string        `json:"job_id"`
	Status         JobStatus     `json:"status"`
	TargetUsername string        `json:"target_username"`
	Depth          int           `json:"depth"`
	MinFollowers   int64         `json:"min_followers"`
	Results        []ResultEntry `json:"results"`
	Error          *JobError     `json:"error,omitempty"`
	Progress       string        `json:"progress,omitempty"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers never share the result slice.
func (j Job) Clone() Job {
	cp := j
	if j.Results != nil {
		cp.Results = make([]ResultEntry, len(j.Results))
		copy(cp.Results, j.Results)
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.StartedAt != nil {
		ts := *j.StartedAt
		cp.StartedAt = &ts
	}
	if j.FinishedAt != nil {
		ts := *j.FinishedAt
		cp.FinishedAt = &ts
	}
	return cp
}

// HasResult reports whether username is already listed in the job results.
func (j Job) HasResult(username string) bool {
	for _, r := range j.Results {
		if r.Username == username {
			return true
		}
	}
	return false
}

// Profile is the provider's view of an account.
type Profile struct {
	UserID         string
	Username       string
	FullName       string
	FollowerCount  int64
	FollowingCount int64
	IsPrivate      bool
}

// FollowerSummary is one entry of a follower listing. Listings rarely carry
// counts; HasCounts marks summaries that can be evaluated without a profile
// fetch.
type FollowerSummary struct {
	Username       string
	FullName       string
	IsPrivate      bool
	FollowerCount  int64
	FollowingCount int64
	HasCounts      bool
}

// FollowersPage is one page of a follower listing. An empty NextCursor means
// the listing is exhausted.
type FollowersPage struct {
	Followers  []FollowerSummary
	NextCursor string
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   Request
	Attempt   int
	Submitted int64
}

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	TargetUsername string    `json:"target_username"`
	Depth          int       `json:"depth"`
	MinFollowers   int64     `json:"min_followers"`
	ResultCount    int       `json:"result_count"`
	Error          *JobError `json:"error,omitempty"`
	ExportURI      string    `json:"export_uri,omitempty"`
	ExportSHA256   string    `json:"export_sha256,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}
