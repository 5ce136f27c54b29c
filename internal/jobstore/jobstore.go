// Package jobstore is the durable record of every submitted analysis job.
// The API service creates and reads records; the worker owns every mutation
// after creation. Status updates always carry a WHERE guard on the expected
// current status, so a job never regresses out of a terminal state.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/finsightlab/finsight/internal/domain"
)

const jobColumns = `
	job_id, filename, file_size, file_path, query, status,
	summary, detailed_result, agents_used, from_cache, error_message,
	worker_id, created_at, started_at, completed_at, processing_time_seconds`

// Store handles all database operations on job records
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store instance
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Create inserts a freshly submitted job with status queued.
func (s *Store) Create(ctx context.Context, job *domain.JobRecord) error {
	query := `
		INSERT INTO jobs (
			job_id, filename, file_size, file_path,
			query, status, from_cache, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.Filename,
		job.FileSize,
		job.FilePath,
		job.Query,
		domain.JobStatusQueued,
		false,
		job.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a job by its ID.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.JobRecord
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// Claim attempts the queued -> processing transition using optimistic locking.
// Exactly one worker wins for a given job; everyone else gets
// domain.ErrJobAlreadyClaimed, which makes duplicate queue deliveries safe.
func (s *Store) Claim(ctx context.Context, jobID, workerID string) (*domain.JobRecord, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var job domain.JobRecord
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, workerID, jobID, domain.JobStatusQueued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	return &job, nil
}

// Complete applies the processing -> completed transition and writes the
// result fields in the same statement.
func (s *Store) Complete(ctx context.Context, jobID string, c domain.Completion) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    summary = $2,
		    detailed_result = $3,
		    agents_used = $4,
		    from_cache = $5,
		    processing_time_seconds = $6,
		    completed_at = NOW(),
		    error_message = NULL
		WHERE job_id = $7
		  AND status = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCompleted,
		c.Summary,
		c.DetailedResult,
		pq.Array(c.AgentsUsed),
		c.FromCache,
		c.ProcessingTime,
		jobID,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return s.requireTransition(result, jobID, domain.JobStatusCompleted)
}

// Fail applies the processing -> failed transition. The elapsed processing
// time is derived from started_at so failed jobs carry it too.
func (s *Store) Fail(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    processing_time_seconds = EXTRACT(EPOCH FROM (NOW() - started_at))
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		errorMessage,
		jobID,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return s.requireTransition(result, jobID, domain.JobStatusFailed)
}

// AbortSubmission applies the queued -> failed transition for a job whose
// enqueue failed after the record was created. Nothing will ever deliver the
// job to a worker, so the API terminates it here rather than leaving a
// permanently queued orphan. Jobs a worker has claimed go through Fail.
func (s *Store) AbortSubmission(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    processing_time_seconds = 0
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		errorMessage,
		jobID,
		domain.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to abort submission: %w", err)
	}

	return s.requireTransition(result, jobID, domain.JobStatusFailed)
}

// requireTransition turns a zero-row guarded update into ErrInvalidTransition.
func (s *Store) requireTransition(result sql.Result, jobID, target string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status transition rejected",
			slog.String("job_id", jobID),
			slog.String("target_status", target),
		)
		return fmt.Errorf("%w: job %s to %s", domain.ErrInvalidTransition, jobID, target)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", target),
	)
	return nil
}

// FailStale marks processing jobs whose started_at age exceeds olderThan as
// failed. It backs the supervisor loop that catches jobs whose worker died or
// whose analysis overran the allowed bound.
func (s *Store) FailStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    processing_time_seconds = EXTRACT(EPOCH FROM (NOW() - started_at))
		WHERE status = $3
		  AND started_at < NOW() - ($4 * INTERVAL '1 second')
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		reason,
		domain.JobStatusProcessing,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Warn("Marked stale processing jobs as failed",
			slog.Int64("count", rowsAffected),
			slog.Duration("older_than", olderThan),
		)
	}

	return rowsAffected, nil
}

// ListFilter narrows and paginates job listings.
type ListFilter struct {
	Status   string
	PageSize int
	Cursor   *ListCursor
}

// ListCursor is a keyset position: listings return rows strictly older than it.
type ListCursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns up to PageSize+1 jobs, newest first. The extra row tells the
// caller whether another page exists.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.JobRecord
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// Stats aggregates job counts and the average processing time of completed
// jobs for the stats endpoint.
func (s *Store) Stats(ctx context.Context) (*domain.JobStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'queued') AS queued,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'completed' AND from_cache) AS completed_from_cache,
			COALESCE(AVG(processing_time_seconds) FILTER (WHERE status = 'completed'), 0) AS avg_processing_seconds
		FROM jobs
	`

	var stats domain.JobStats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}

	return &stats, nil
}
