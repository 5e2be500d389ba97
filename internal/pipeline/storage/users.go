package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// CreateOrFetchUser upserts a user keyed on email and returns the id.
// A conflict on email returns the existing id rather than erroring.
func (s *Store) CreateOrFetchUser(ctx context.Context, data domain.CreateUser) (string, error) {
	query := `
		WITH inserted_user AS (
			INSERT INTO users (first_name, last_name, email, image_uri)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (email) DO NOTHING
			RETURNING id
		)
		SELECT id FROM inserted_user
		UNION ALL
		SELECT id FROM users WHERE email = $3
		LIMIT 1
	`

	var userID string
	err := s.db.GetContext(ctx, &userID, query, data.FirstName, data.LastName, data.Email, data.ImageURI)
	if err != nil {
		return "", fmt.Errorf("failed to create or fetch user: %w", err)
	}

	s.logger.Debug("User resolved",
		slog.String("user_id", userID),
	)

	return userID, nil
}
