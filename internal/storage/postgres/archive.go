// Package postgres archives finished discovery jobs into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "influence_jobs"

// ArchiveConfig controls the Postgres connection pool used for job rows.
type ArchiveConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Archive writes one row per terminal job. Rows are upserted by job id, so
// archiving the same job twice is harmless. Expected schema:
//
//	CREATE TABLE influence_jobs (
//		job_id          TEXT PRIMARY KEY,
//		target_username TEXT NOT NULL,
//		depth           INT NOT NULL,
//		min_followers   BIGINT NOT NULL,
//		status          TEXT NOT NULL,
//		error_code      TEXT,
//		error_message   TEXT,
//		result_count    INT NOT NULL,
//		results         JSONB NOT NULL,
//		created_at      TIMESTAMPTZ NOT NULL,
//		started_at      TIMESTAMPTZ,
//		finished_at     TIMESTAMPTZ
//	);
type Archive struct {
	pool  execCloser
	table string
}

// NewArchive connects a pool using cfg.
func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Archive{pool: pool, table: table}, nil
}

// NewArchiveWithPool constructs an archive from an existing pool (primarily for testing).
func NewArchiveWithPool(pool execCloser, table string) (*Archive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Archive{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// ArchiveJob upserts the job row.
func (a *Archive) ArchiveJob(ctx context.Context, job crawler.Job) error {
	if a == nil || a.pool == nil {
		return fmt.Errorf("archive is not configured")
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	results := job.Results
	if results == nil {
		results = []crawler.ResultEntry{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	var errCode, errMessage *string
	if job.Error != nil {
		errCode, errMessage = &job.Error.Code, &job.Error.Message
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	target_username,
	depth,
	min_followers,
	status,
	error_code,
	error_message,
	result_count,
	results,
	created_at,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	error_code = EXCLUDED.error_code,
	error_message = EXCLUDED.error_message,
	result_count = EXCLUDED.result_count,
	results = EXCLUDED.results,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`, a.table)

	args := []any{
		job.ID,
		job.TargetUsername,
		job.Depth,
		job.MinFollowers,
		string(job.Status),
		errCode,
		errMessage,
		len(results),
		resultsJSON,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}
