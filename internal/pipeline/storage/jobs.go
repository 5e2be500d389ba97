package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// CreateJobForView inserts a pending job and its datasource-view
// association in one transaction: both rows exist or neither does.
//
// A transaction-scoped advisory lock on the view id serializes this
// against concurrent creates for the same view, so the pending-count
// check and the insert cannot interleave with a racing request. A view
// that already owns a pending job yields ErrPendingJobExists.
func (s *Store) CreateJobForView(ctx context.Context, data domain.CreateJobForView) (jobID, linkID string, err error) {
	userID, err := parseID(data.UserID)
	if err != nil {
		return "", "", err
	}
	viewID, err := parseID(data.ViewID)
	if err != nil {
		return "", "", err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, viewID.String()); err != nil {
		return "", "", fmt.Errorf("failed to lock datasource view: %w", err)
	}

	var pending int
	err = tx.GetContext(ctx, &pending, `
		SELECT count(*)
		FROM jobs j
		JOIN datasource_view_jobs dvj ON j.id = dvj.job_id
		WHERE dvj.datasource_view_id = $1 AND j.status = $2
	`, viewID, domain.JobStatusPending)
	if err != nil {
		return "", "", fmt.Errorf("failed to check pending jobs: %w", err)
	}
	if pending > 0 {
		return "", "", domain.ErrPendingJobExists
	}

	err = tx.GetContext(ctx, &jobID, `
		INSERT INTO jobs (user_id, status, job_type, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, domain.JobStatusPending, data.Kind, []byte(data.Metadata))
	if err != nil {
		return "", "", fmt.Errorf("failed to create job: %w", err)
	}

	err = tx.GetContext(ctx, &linkID, `
		INSERT INTO datasource_view_jobs (job_id, datasource_view_id)
		VALUES ($1, $2)
		RETURNING id
	`, jobID, viewID)
	if err != nil {
		return "", "", fmt.Errorf("failed to link job to datasource view: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("view_id", data.ViewID),
		slog.String("job_type", string(data.Kind)),
	)

	return jobID, linkID, nil
}

// MarkJobComplete transitions a pending job to complete. The transition is
// monotonic: a job already in a terminal state is left untouched.
func (s *Store) MarkJobComplete(ctx context.Context, jobID string) error {
	id, err := parseID(jobID)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusComplete, id, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job complete: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Job not transitioned to complete - not pending or not found",
			slog.String("job_id", jobID),
		)
		return nil
	}

	s.logger.Info("Job marked complete",
		slog.String("job_id", jobID),
	)

	return nil
}

// MarkJobErrored transitions a pending job to error and records one error
// row carrying the structured payload. Both writes share a transaction.
func (s *Store) MarkJobErrored(ctx context.Context, jobID string, payload json.RawMessage) error {
	id, err := parseID(jobID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, domain.JobStatusError, id, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job errored: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Job not transitioned to error - not pending or not found",
			slog.String("job_id", jobID),
		)
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_errors (job_id, payload)
		VALUES ($1, $2)
	`, id, []byte(payload)); err != nil {
		return fmt.Errorf("failed to record job error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Job marked errored",
		slog.String("job_id", jobID),
	)

	return nil
}

// AppendJobMetadata merges a key into the job's metadata payload. Used for
// operator-visible side-channel outcomes (e.g. notification delivery
// failures) that must not affect the job's terminal status.
func (s *Store) AppendJobMetadata(ctx context.Context, jobID, key string, value interface{}) error {
	id, err := parseID(jobID)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(map[string]interface{}{key: value})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata value: %w", err)
	}

	query := `
		UPDATE jobs
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb, updated_at = NOW()
		WHERE id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, encoded, id); err != nil {
		return fmt.Errorf("failed to append job metadata: %w", err)
	}

	return nil
}

// FetchJob retrieves a job by id.
func (s *Store) FetchJob(ctx context.Context, jobID string) (*domain.Job, error) {
	id, err := parseID(jobID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, status, job_type, metadata, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	return &job, nil
}

// FetchJobs retrieves all jobs, newest first.
func (s *Store) FetchJobs(ctx context.Context) ([]domain.Job, error) {
	query := `
		SELECT id, user_id, status, job_type, metadata, created_at, updated_at
		FROM jobs
		ORDER BY created_at DESC
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}

	return jobs, nil
}

// FetchJobsForView retrieves every job associated with a datasource view.
// The runner uses this to check for an existing pending job before
// starting a new one.
func (s *Store) FetchJobsForView(ctx context.Context, viewID string) ([]domain.Job, error) {
	id, err := parseID(viewID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT j.id, j.user_id, j.status, j.job_type, j.metadata, j.created_at, j.updated_at
		FROM jobs j
		JOIN datasource_view_jobs dvj ON j.id = dvj.job_id
		WHERE dvj.datasource_view_id = $1
		ORDER BY j.created_at DESC
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, id); err != nil {
		return nil, fmt.Errorf("failed to fetch jobs for view: %w", err)
	}

	return jobs, nil
}

// FetchJobErrors retrieves the error records of a job, oldest first.
func (s *Store) FetchJobErrors(ctx context.Context, jobID string) ([]domain.JobError, error) {
	id, err := parseID(jobID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, job_id, payload, created_at
		FROM job_errors
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	var jobErrors []domain.JobError
	if err := s.db.SelectContext(ctx, &jobErrors, query, id); err != nil {
		return nil, fmt.Errorf("failed to fetch job errors: %w", err)
	}

	return jobErrors, nil
}
