package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// CreateDatasourceView registers a new view and returns its id.
func (s *Store) CreateDatasourceView(ctx context.Context, data domain.CreateDatasourceView) (string, error) {
	userID, err := parseID(data.UserID)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO datasource_views (user_id, view_name, datasource, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var viewID string
	err = s.db.GetContext(ctx, &viewID, query, userID, data.Name, data.Datasource, data.Description, []byte(data.Metadata))
	if err != nil {
		return "", fmt.Errorf("failed to create datasource view: %w", err)
	}

	s.logger.Info("Datasource view created",
		slog.String("view_id", viewID),
		slog.String("datasource", string(data.Datasource)),
	)

	return viewID, nil
}

// EditDatasourceView updates name, description and metadata of a view.
func (s *Store) EditDatasourceView(ctx context.Context, viewID string, data domain.EditDatasourceView) error {
	id, err := parseID(viewID)
	if err != nil {
		return err
	}

	query := `
		UPDATE datasource_views
		SET view_name = $1, description = $2, metadata = $3, updated_at = NOW()
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, data.Name, data.Description, []byte(data.Metadata), id)
	if err != nil {
		return fmt.Errorf("failed to edit datasource view: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrViewNotFound
	}

	return nil
}

// DeleteDatasourceView removes a view. The delete is refused while a
// pending job still references the view.
func (s *Store) DeleteDatasourceView(ctx context.Context, viewID string) error {
	id, err := parseID(viewID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending int
	err = tx.GetContext(ctx, &pending, `
		SELECT count(*)
		FROM jobs j
		JOIN datasource_view_jobs dvj ON j.id = dvj.job_id
		WHERE dvj.datasource_view_id = $1 AND j.status = $2
	`, id, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to check pending jobs: %w", err)
	}
	if pending > 0 {
		return domain.ErrViewHasPendingJob
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM datasource_views WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete datasource view: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrViewNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Datasource view deleted",
		slog.String("view_id", viewID),
	)

	return nil
}

// FetchDatasourceView retrieves a view by id.
func (s *Store) FetchDatasourceView(ctx context.Context, viewID string) (*domain.DatasourceView, error) {
	id, err := parseID(viewID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, view_name, datasource, description, metadata, created_at, updated_at
		FROM datasource_views
		WHERE id = $1
	`

	var view domain.DatasourceView
	if err := s.db.GetContext(ctx, &view, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrViewNotFound
		}
		return nil, fmt.Errorf("failed to fetch datasource view: %w", err)
	}

	return &view, nil
}

// FetchDatasourceViews retrieves all views.
func (s *Store) FetchDatasourceViews(ctx context.Context) ([]domain.DatasourceView, error) {
	query := `
		SELECT id, user_id, view_name, datasource, description, metadata, created_at, updated_at
		FROM datasource_views
		ORDER BY created_at DESC
	`

	var views []domain.DatasourceView
	if err := s.db.SelectContext(ctx, &views, query); err != nil {
		return nil, fmt.Errorf("failed to fetch datasource views: %w", err)
	}

	return views, nil
}
