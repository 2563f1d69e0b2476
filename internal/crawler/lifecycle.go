package crawler

import (
	"fmt"
	"time"
)

// The mutators below implement the job state machine once so every JobStore
// backend applies identical rules. Each successful mutation bumps Version.

func (j *Job) touch(now time.Time) {
	j.UpdatedAt = now
	j.Version++
}

func (j *Job) transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.ID, j.Status, next)
	}
	j.Status = next
	return nil
}

// Start moves a queued job to running.
func (j *Job) Start(now time.Time) error {
	if err := j.transition(JobStatusRunning); err != nil {
		return err
	}
	ts := now
	j.StartedAt = &ts
	j.touch(now)
	return nil
}

// Append adds a result to a running job, rejecting duplicate usernames.
func (j *Job) Append(entry ResultEntry, now time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: append to %s job %s", ErrInvalidTransition, j.Status, j.ID)
	}
	if j.HasResult(entry.Username) {
		return fmt.Errorf("%w: %s in job %s", ErrDuplicateResult, entry.Username, j.ID)
	}
	j.Results = append(j.Results, entry)
	j.touch(now)
	return nil
}

// Report records a progress message on a non-terminal job.
func (j *Job) Report(msg string, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: progress on %s job %s", ErrInvalidTransition, j.Status, j.ID)
	}
	j.Progress = msg
	j.touch(now)
	return nil
}

// Finish moves a running job to a terminal status. jobErr is only kept for
// failed jobs.
func (j *Job) Finish(status JobStatus, jobErr *JobError, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	if err := j.transition(status); err != nil {
		return err
	}
	if status == JobStatusFailed {
		if jobErr == nil {
			jobErr = &JobError{Code: CodeInternal, Message: "job failed"}
		}
		e := *jobErr
		j.Error = &e
	}
	if status == JobStatusCompleted {
		j.Progress = fmt.Sprintf("Completed: found %d accounts", len(j.Results))
	}
	ts := now
	j.FinishedAt = &ts
	j.touch(now)
	return nil
}
