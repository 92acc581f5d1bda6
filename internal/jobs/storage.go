package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/tutor-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `
	job_id, user_id, idempotency_key, content_type, params, total_items, completed_items,
	status, result_ids, batch_errors, error_message, worker_id, lease_expires_at,
	cancel_requested, started_at, completed_at, created_at, updated_at`

// Storage handles all generation_jobs queries for both services
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// CreateJob inserts a pending job. A second job from the same owner with
// the same idempotency key is not inserted and yields ErrDuplicateJob.
func (s *Storage) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO generation_jobs (
			job_id, user_id, idempotency_key, content_type, params,
			total_items, completed_items, status, result_ids,
			batch_errors, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)
		ON CONFLICT (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO NOTHING
	`

	if job.BatchErrors == "" {
		job.BatchErrors = "[]"
	}
	if job.ResultIDs == nil {
		job.ResultIDs = pq.StringArray{}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	result, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.UserID,
		job.IdempotencyKey,
		job.ContentType,
		job.Params,
		job.TotalItems,
		job.CompletedItems,
		job.Status,
		job.ResultIDs,
		job.BatchErrors,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicateJob
	}

	return nil
}

// GetJobByIdempotencyKey loads the owner's job submitted under key
func (s *Storage) GetJobByIdempotencyKey(ctx context.Context, ownerID, key string) (*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE user_id = $1 AND idempotency_key = $2
	`

	var job Job
	if err := s.db.GetContext(ctx, &job, query, ownerID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetJobByID loads a job regardless of owner
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE job_id = $1
	`

	var job Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetJobForOwner loads a job only if ownerID created it
func (s *Storage) GetJobForOwner(ctx context.Context, ownerID, jobID string) (*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE job_id = $1 AND user_id = $2
	`

	var job Job
	if err := s.db.GetContext(ctx, &job, query, jobID, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns up to PageSize+1 jobs, newest first
func (s *Storage) ListJobs(ctx context.Context, filter Filter) ([]Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.ContentType != "" {
		query += fmt.Sprintf(" AND content_type = $%d", argIdx)
		args = append(args, filter.ContentType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// RequestCancel flags a running job for cancellation. A job nobody has
// claimed yet is canceled on the spot.
func (s *Storage) RequestCancel(ctx context.Context, ownerID, jobID string) (*Job, error) {
	query := `
		UPDATE generation_jobs
		SET cancel_requested = TRUE,
		    status = CASE WHEN status = $3 THEN $4 ELSE status END,
		    completed_at = CASE WHEN status = $3 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE job_id = $1 AND user_id = $2 AND status IN ($3, $5)
		RETURNING ` + jobColumns

	var job Job
	err := s.db.GetContext(ctx, &job, query, jobID, ownerID, StatusPending, StatusCanceled, StatusProcessing)
	if err == nil {
		s.logger.Info("Job cancellation requested",
			slog.String("job_id", jobID),
			slog.String("status", job.Status),
		)
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	if _, getErr := s.GetJobForOwner(ctx, ownerID, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrJobTerminal
}

// MarkFailed fails a job that never left pending, e.g. when it could not be enqueued
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE generation_jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	if _, err := s.db.ExecContext(ctx, query, StatusFailed, errorMsg, jobID, StatusPending); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// ClaimJob takes the lease on a pending job, or on a processing job whose
// previous holder let the lease expire.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string, lease time.Duration) (*Job, error) {
	query := `
		UPDATE generation_jobs
		SET status = $1,
		    worker_id = $2,
		    lease_expires_at = NOW() + make_interval(secs => $3),
		    started_at = COALESCE(started_at, NOW()),
		    updated_at = NOW()
		WHERE job_id = $4
		  AND (status = $5 OR (status = $1 AND lease_expires_at < NOW()))
		RETURNING ` + jobColumns

	var job Job
	err := s.db.GetContext(ctx, &job, query, StatusProcessing, workerID, lease.Seconds(), jobID, StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.Int("completed_items", job.CompletedItems),
		slog.Int("total_items", job.TotalItems),
	)

	return &job, nil
}

// ExtendLease pushes the lease forward for the current holder
func (s *Storage) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	query := `
		UPDATE generation_jobs
		SET lease_expires_at = NOW() + make_interval(secs => $1),
		    updated_at = NOW()
		WHERE job_id = $2 AND worker_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, lease.Seconds(), jobID, workerID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to extend job lease: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLeaseLost
	}

	return nil
}

// RecordProgress persists one batch step. The write only lands if this worker
// still holds the job and nobody else advanced it; it returns whether a
// cancel has been requested since.
func (s *Storage) RecordProgress(ctx context.Context, p Progress) (bool, error) {
	if p.CompletedItems < p.ExpectedCompleted {
		return false, fmt.Errorf("completed_items cannot go backwards (%d -> %d)", p.ExpectedCompleted, p.CompletedItems)
	}
	if len(p.ResultIDs) > p.CompletedItems {
		return false, fmt.Errorf("result_ids (%d) exceed completed_items (%d)", len(p.ResultIDs), p.CompletedItems)
	}

	batchErrors := p.BatchErrors
	if batchErrors == nil {
		batchErrors = []BatchError{}
	}
	errorsJSON, err := json.Marshal(batchErrors)
	if err != nil {
		return false, fmt.Errorf("failed to marshal batch errors: %w", err)
	}

	resultIDs := pq.StringArray(p.ResultIDs)
	if resultIDs == nil {
		resultIDs = pq.StringArray{}
	}

	query := `
		UPDATE generation_jobs
		SET completed_items = $1,
		    result_ids = $2,
		    batch_errors = $3,
		    lease_expires_at = NOW() + make_interval(secs => $4),
		    updated_at = NOW()
		WHERE job_id = $5 AND worker_id = $6 AND status = $7 AND completed_items = $8
		RETURNING cancel_requested
	`

	var cancelRequested bool
	err = s.db.QueryRowContext(ctx, query,
		p.CompletedItems,
		resultIDs,
		string(errorsJSON),
		p.Lease.Seconds(),
		p.JobID,
		p.WorkerID,
		StatusProcessing,
		p.ExpectedCompleted,
	).Scan(&cancelRequested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Progress write rejected - lease lost",
				slog.String("job_id", p.JobID),
				slog.String("worker_id", p.WorkerID),
				slog.Int("expected_completed", p.ExpectedCompleted),
			)
			return false, ErrLeaseLost
		}
		return false, fmt.Errorf("failed to record job progress: %w", err)
	}

	return cancelRequested, nil
}

// FinalizeJob moves a job the caller holds into a terminal status
func (s *Storage) FinalizeJob(ctx context.Context, f Final) error {
	if !IsTerminal(f.Status) {
		return fmt.Errorf("status %q is not terminal", f.Status)
	}

	query := `
		UPDATE generation_jobs
		SET status = $1,
		    error_message = $2,
		    lease_expires_at = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND worker_id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query, f.Status, f.ErrorMessage, f.JobID, f.WorkerID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLeaseLost
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", f.JobID),
		slog.String("status", f.Status),
	)

	return nil
}

// ReleaseLease expires the caller's lease so the job can be claimed again
// right away, e.g. after a shutdown interrupted it.
func (s *Storage) ReleaseLease(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE generation_jobs
		SET lease_expires_at = NOW() - INTERVAL '1 second',
		    updated_at = NOW()
		WHERE job_id = $1 AND worker_id = $2 AND status = $3
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, workerID, StatusProcessing); err != nil {
		return fmt.Errorf("failed to release job lease: %w", err)
	}
	return nil
}

// ListExpiredLeases returns processing jobs whose holder stopped heartbeating
func (s *Storage) ListExpiredLeases(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT job_id
		FROM generation_jobs
		WHERE status = $1 AND lease_expires_at < NOW()
		ORDER BY lease_expires_at
		LIMIT $2
	`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, StatusProcessing, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	return ids, nil
}
