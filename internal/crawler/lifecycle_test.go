package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	job := Job{ID: "job-1", Status: JobStatusQueued, CreatedAt: now}

	require.ErrorIs(t, job.Append(ResultEntry{Username: "a"}, now), ErrInvalidTransition)
	require.ErrorIs(t, job.Finish(JobStatusCompleted, nil, now), ErrInvalidTransition)

	require.NoError(t, job.Start(now))
	require.NotNil(t, job.StartedAt)
	require.ErrorIs(t, job.Start(now), ErrInvalidTransition)

	require.NoError(t, job.Append(ResultEntry{Username: "a", Depth: 1}, now))
	require.ErrorIs(t, job.Append(ResultEntry{Username: "a", Depth: 2}, now), ErrDuplicateResult)
	require.NoError(t, job.Report("Analyzing a at depth 2", now))

	require.ErrorIs(t, job.Finish(JobStatusRunning, nil, now), ErrInvalidTransition)
	require.NoError(t, job.Finish(JobStatusCompleted, nil, now.Add(time.Second)))
	require.Equal(t, "Completed: found 1 accounts", job.Progress)
	require.Nil(t, job.Error)
	require.Equal(t, int64(4), job.Version)

	require.ErrorIs(t, job.Append(ResultEntry{Username: "b"}, now), ErrInvalidTransition)
	require.ErrorIs(t, job.Report("late", now), ErrInvalidTransition)
	require.ErrorIs(t, job.Finish(JobStatusFailed, nil, now), ErrInvalidTransition)
	require.Len(t, job.Results, 1)
}

func TestJobFinishFailedDefaultsError(t *testing.T) {
	t.Parallel()

	job := Job{ID: "job-2", Status: JobStatusRunning}
	require.NoError(t, job.Finish(JobStatusFailed, nil, time.Now()))
	require.Equal(t, CodeInternal, job.Error.Code)
}
