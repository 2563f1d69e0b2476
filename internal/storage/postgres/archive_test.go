package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

func TestArchiveJobUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewArchiveWithPool(mock, "")
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)
	finished := created.Add(time.Minute)
	job := crawler.Job{
		ID:             "job-1",
		Status:         crawler.JobStatusCompleted,
		TargetUsername: "target",
		Depth:          2,
		MinFollowers:   3000,
		Results:        []crawler.ResultEntry{{Username: "a", FollowerCount: 5000, Depth: 1}},
		CreatedAt:      created,
		StartedAt:      &started,
		FinishedAt:     &finished,
	}

	mock.ExpectExec("INSERT INTO influence_jobs").
		WithArgs(
			"job-1",
			"target",
			2,
			int64(3000),
			"completed",
			(*string)(nil),
			(*string)(nil),
			1,
			[]byte(`[{"username":"a","full_name":"","follower_count":5000,"following_count":0,"is_private":false,"depth":1}]`),
			created,
			&started,
			&finished,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, archive.ArchiveJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveJobFailedRowCarriesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewArchiveWithPool(mock, "jobs_archive")
	require.NoError(t, err)

	job := crawler.Job{
		ID:     "job-2",
		Status: crawler.JobStatusFailed,
		Error:  &crawler.JobError{Code: crawler.CodeRateLimited, Message: "throttled"},
	}
	mock.ExpectExec("INSERT INTO jobs_archive").
		WithArgs("job-2", "", 0, int64(0), "failed",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 0, []byte(`[]`),
			time.Time{}, (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnError(errors.New("connection reset"))

	err = archive.ArchiveJob(context.Background(), job)
	require.ErrorContains(t, err, "upsert job job-2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewArchiveValidation(t *testing.T) {
	t.Parallel()

	_, err := NewArchiveWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewArchiveWithPool(mock, "bad;table")
	require.Error(t, err)

	_, err = NewArchive(context.Background(), ArchiveConfig{})
	require.Error(t, err)

	var nilArchive *Archive
	require.Error(t, nilArchive.ArchiveJob(context.Background(), crawler.Job{ID: "x"}))
	nilArchive.Close()
}
