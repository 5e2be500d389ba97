// Package storage is the durable record of users, datasource views, jobs
// and exported users. All multi-row operations run inside a transaction;
// nothing here retries internally — callers decide how a failure affects
// the owning job.
package storage

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/shared/postgresql"
)

// Store handles all database operations for the pipeline.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance.
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// parseID validates a caller-supplied identifier before it reaches SQL.
func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidID
	}
	return parsed, nil
}
