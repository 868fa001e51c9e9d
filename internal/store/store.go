package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when a job id is not in the ledger.
var ErrJobNotFound = errors.New("job not found")

// Store manages the PostgreSQL job ledger. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the ledger tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS redaction_jobs (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL DEFAULT '',
			source_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			bucket TEXT NOT NULL,
			status TEXT NOT NULL,
			display_width INT NOT NULL DEFAULT 0,
			display_height INT NOT NULL DEFAULT 0,
			rotation INT NOT NULL DEFAULT 0,
			region_count INT NOT NULL DEFAULT 0,
			url TEXT NOT NULL DEFAULT '',
			failure_kind TEXT NOT NULL DEFAULT '',
			failure_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS job_regions (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES redaction_jobs(id) ON DELETE CASCADE,
			region_index INT NOT NULL,
			x INT NOT NULL,
			y INT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION
		);
		CREATE INDEX IF NOT EXISTS job_regions_job_id_idx ON job_regions (job_id);
		CREATE INDEX IF NOT EXISTS redaction_jobs_created_at_idx ON redaction_jobs (created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job in the pending state.
func (s *Store) CreateJob(ctx context.Context, job types.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO redaction_jobs (id, source_id, source_path, output_path, bucket, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.SourceID, job.SourcePath, job.OutputPath, job.Bucket, types.JobPending)
	return err
}

// RecordPlan stores the resolved geometry and regions of a job and moves it
// to rendering. Regions of an earlier attempt are replaced.
func (s *Store) RecordPlan(ctx context.Context, jobID, sourceID string, width, height, rotation int, regions []types.RegionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE redaction_jobs
		SET source_id = $2, display_width = $3, display_height = $4, rotation = $5, region_count = $6, status = $7
		WHERE id = $1
	`, jobID, sourceID, width, height, rotation, len(regions), types.JobRendering)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}

	if _, err := tx.Exec(ctx, "DELETE FROM job_regions WHERE job_id = $1", jobID); err != nil {
		return err
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"job_regions"},
		[]string{"job_id", "region_index", "x", "y", "width", "height", "start_time", "end_time"},
		pgx.CopyFromSlice(len(regions), func(i int) ([]any, error) {
			r := regions[i]
			return []any{jobID, r.Index, r.X, r.Y, r.Width, r.Height, r.Start, r.End}, nil
		}),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkPublished finalizes a job after its output was uploaded.
func (s *Store) MarkPublished(ctx context.Context, jobID, url string) error {
	return s.finish(ctx, jobID, types.JobPublished, url, "", "")
}

// MarkFailed finalizes a job that did not publish.
func (s *Store) MarkFailed(ctx context.Context, jobID, kind, detail string) error {
	return s.finish(ctx, jobID, types.JobFailed, "", kind, detail)
}

func (s *Store) finish(ctx context.Context, jobID string, status types.JobStatus, url, kind, detail string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE redaction_jobs
		SET status = $2, url = $3, failure_kind = $4, failure_detail = $5, finished_at = NOW()
		WHERE id = $1
	`, jobID, status, url, kind, detail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

const jobColumns = `id, source_id, source_path, output_path, bucket, status,
	display_width, display_height, rotation, region_count, url,
	failure_kind, failure_detail, created_at, finished_at`

func scanJob(row pgx.Row) (types.Job, error) {
	var j types.Job
	var status string
	err := row.Scan(&j.ID, &j.SourceID, &j.SourcePath, &j.OutputPath, &j.Bucket, &status,
		&j.DisplayWidth, &j.DisplayHeight, &j.Rotation, &j.RegionCount, &j.URL,
		&j.FailureKind, &j.FailureDetail, &j.CreatedAt, &j.FinishedAt)
	j.Status = types.JobStatus(status)
	return j, err
}

// GetJob fetches a single job.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM redaction_jobs WHERE id = $1", jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns the most recent jobs first. limit <= 0 means no limit.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]types.Job, error) {
	query := "SELECT " + jobColumns + " FROM redaction_jobs ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJobRegions returns the regions of a job in compositing order.
func (s *Store) GetJobRegions(ctx context.Context, jobID string) ([]types.RegionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT region_index, x, y, width, height, start_time, end_time
		FROM job_regions WHERE job_id = $1 ORDER BY region_index
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []types.RegionRecord
	for rows.Next() {
		var r types.RegionRecord
		if err := rows.Scan(&r.Index, &r.X, &r.Y, &r.Width, &r.Height, &r.Start, &r.End); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS job_regions CASCADE;
		DROP TABLE IF EXISTS redaction_jobs CASCADE;
	`)
	return err
}
