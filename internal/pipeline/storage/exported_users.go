package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// SaveExportedUsers persists one row per provisioned directory account,
// all in one transaction.
func (s *Store) SaveExportedUsers(ctx context.Context, records []domain.CreateExportedUser) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO exported_users (job_id, first_name, last_name, personal_email, generated_email, exported_from)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, record := range records {
		jobID, err := parseID(record.JobID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, query,
			jobID,
			record.FirstName,
			record.LastName,
			record.PersonalEmail,
			record.GeneratedEmail,
			record.ExportedFrom,
		); err != nil {
			return fmt.Errorf("failed to save exported user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Exported users saved",
		slog.Int("count", len(records)),
	)

	return nil
}

// FetchExportedUsers retrieves every exported user on record.
func (s *Store) FetchExportedUsers(ctx context.Context) ([]domain.ExportedUser, error) {
	query := `
		SELECT id, job_id, first_name, last_name, personal_email, generated_email, exported_from, created_at, updated_at
		FROM exported_users
		ORDER BY created_at ASC
	`

	var users []domain.ExportedUser
	if err := s.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to fetch exported users: %w", err)
	}

	return users, nil
}

// FetchExportedUsersByJob retrieves the exported users produced by one job.
func (s *Store) FetchExportedUsersByJob(ctx context.Context, jobID string) ([]domain.ExportedUser, error) {
	id, err := parseID(jobID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, job_id, first_name, last_name, personal_email, generated_email, exported_from, created_at, updated_at
		FROM exported_users
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	var users []domain.ExportedUser
	if err := s.db.SelectContext(ctx, &users, query, id); err != nil {
		return nil, fmt.Errorf("failed to fetch exported users by job: %w", err)
	}

	return users, nil
}

// DeleteExportedUserByGeneratedEmail removes the row for one directory
// account, identified by the generated handle used to provision it.
func (s *Store) DeleteExportedUserByGeneratedEmail(ctx context.Context, generatedEmail string) error {
	query := `DELETE FROM exported_users WHERE generated_email = $1`

	if _, err := s.db.ExecContext(ctx, query, generatedEmail); err != nil {
		return fmt.Errorf("failed to delete exported user: %w", err)
	}

	return nil
}
