package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/api/dto"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/pipeline/export"
	"github.com/pantheonhq/pantheon/internal/pipeline/runner"
	"github.com/pantheonhq/pantheon/internal/workspace"
)

// Storage is the persistence surface the handlers read and write.
type Storage interface {
	CreateOrFetchUser(ctx context.Context, data domain.CreateUser) (string, error)
	CreateDatasourceView(ctx context.Context, data domain.CreateDatasourceView) (string, error)
	EditDatasourceView(ctx context.Context, viewID string, data domain.EditDatasourceView) error
	DeleteDatasourceView(ctx context.Context, viewID string) error
	FetchDatasourceView(ctx context.Context, viewID string) (*domain.DatasourceView, error)
	FetchDatasourceViews(ctx context.Context) ([]domain.DatasourceView, error)
	FetchJob(ctx context.Context, jobID string) (*domain.Job, error)
	FetchJobs(ctx context.Context) ([]domain.Job, error)
	FetchJobsForView(ctx context.Context, viewID string) ([]domain.Job, error)
	FetchJobErrors(ctx context.Context, jobID string) ([]domain.JobError, error)
}

// RecordCache reads the cached record sets handlers serve.
type RecordCache interface {
	GetRecords(ctx context.Context, viewID string) ([]airtable.Record, bool, error)
	Evict(ctx context.Context, viewID string) error
}

// JobStarter launches tracked pipeline runs.
type JobStarter interface {
	StartJob(ctx context.Context, params runner.StartParams, work runner.Work) (string, error)
}

// ViewImporter refreshes one view's cached records from upstream.
type ViewImporter interface {
	Run(ctx context.Context, viewID string, meta domain.AirtableViewMetadata) error
}

// Exporter plans and executes directory exports.
type Exporter interface {
	Plan(ctx context.Context, candidates []export.Candidate, policy export.ConflictPolicy) ([]export.Candidate, error)
	Export(ctx context.Context, jobID string, users []export.Candidate, emailPolicy export.EmailPolicy, passwordPolicy export.PasswordPolicy) error
	Undo(ctx context.Context, exportJobID string) error
}

// Catalog lists the upstream bases and their schemas.
type Catalog interface {
	ListBases(ctx context.Context) (*airtable.Bases, error)
	FetchSchema(ctx context.Context, baseID string) (*airtable.Schema, error)
}

// Directory reads the accounts of the export target.
type Directory interface {
	ListUsers(ctx context.Context, asAdmin string) ([]workspace.User, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Storage   Storage
	Cache     RecordCache
	Runner    JobStarter
	Importer  ViewImporter
	Exporter  Exporter
	Catalog   Catalog
	Directory Directory

	// AdminEmail is the directory administrator lookups impersonate.
	AdminEmail string

	// HealthCheck reports whether backing stores are reachable. Optional;
	// when nil the health endpoint only reports liveness.
	HealthCheck func(ctx context.Context) error

	// SystemActor is the identity jobs fall back to when the request
	// carries no actor headers.
	SystemActor domain.CreateUser
}

func actorFromHeaders(c *gin.Context, fallback domain.CreateUser) domain.CreateUser {
	email := c.GetHeader("X-User-Email")
	if email == "" {
		return fallback
	}

	return domain.CreateUser{
		Email:     email,
		FirstName: c.GetHeader("X-User-First-Name"),
		LastName:  c.GetHeader("X-User-Last-Name"),
	}
}

func actorFromRequest(a dto.Actor) domain.CreateUser {
	return domain.CreateUser{
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		ImageURI:  a.ImageURI,
	}
}
