package dto

import (
	"encoding/json"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// Actor identifies the user a mutation is attributed to.
type Actor struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ImageURI  string `json:"image_uri"`
}

// CreateDatasourceViewRequest registers a new datasource view.
type CreateDatasourceViewRequest struct {
	Actor       Actor           `json:"actor" binding:"required"`
	Name        string          `json:"view_name" binding:"required"`
	Datasource  string          `json:"datasource" binding:"required"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata" binding:"required"`
}

// EditDatasourceViewRequest updates a view's mutable attributes.
type EditDatasourceViewRequest struct {
	Name        string          `json:"view_name" binding:"required"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata" binding:"required"`
}

// ViewDataResponse is the cached record set of a view. When the cache
// has no entry, Records is empty and JobID names the fetch job that was
// started to fill it.
type ViewDataResponse struct {
	Records []airtable.Record `json:"records"`
	JobID   string            `json:"job_id,omitempty"`
}

// StartJobRequest attributes a job-creating request to an actor.
type StartJobRequest struct {
	Actor Actor `json:"actor" binding:"required"`
}

// StartJobResponse returns the id of a newly created job.
type StartJobResponse struct {
	JobID string `json:"job_id"`
}

// ExportCandidate is one user proposed for export.
type ExportCandidate struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
}

// EmailPolicy shapes generated directory handles.
type EmailPolicy struct {
	Separator              string `json:"separator"`
	AddUniqueNumericSuffix bool   `json:"add_unique_numeric_suffix"`
}

// PasswordPolicy shapes generated temporary passwords.
type PasswordPolicy struct {
	Length                    int  `json:"generated_password_length"`
	ChangePasswordAtNextLogin bool `json:"change_password_at_next_login"`
}

// ExportUsersRequest asks for the given candidates to be provisioned in
// the directory. ConflictPolicy defaults to export_difference.
type ExportUsersRequest struct {
	Actor          Actor             `json:"actor" binding:"required"`
	Users          []ExportCandidate `json:"users" binding:"required,min=1,dive"`
	ConflictPolicy string            `json:"conflict_policy"`
	EmailPolicy    EmailPolicy       `json:"email_policy"`
	PasswordPolicy PasswordPolicy    `json:"password_policy"`
}

// JobResponse is one job with its recorded failures, if any.
type JobResponse struct {
	Job    domain.Job        `json:"job"`
	Errors []domain.JobError `json:"errors,omitempty"`
}
