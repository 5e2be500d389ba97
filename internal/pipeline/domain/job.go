package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job. Transitions are monotonic:
// a job leaves Pending exactly once and never re-enters it.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

// JobKind identifies which pipeline step a job runs.
type JobKind string

const (
	JobKindImportData JobKind = "import_data"
	JobKindExportData JobKind = "export_data"
	JobKindUndoExport JobKind = "undo_export"
)

// Datasource names an external system records are imported from or
// exported to.
type Datasource string

const (
	DatasourceAirtable                      Datasource = "airtable"
	DatasourceGoogleWorkspaceAdminDirectory Datasource = "google_workspace_admin_directory"
)

// Job is a tracked unit of asynchronous work. The metadata payload is
// kind-specific and opaque to the store.
type Job struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Kind      JobKind         `db:"job_type" json:"job_type"`
	Status    JobStatus       `db:"status" json:"status"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// JobError is one terminal failure recorded against a job.
type JobError struct {
	ID        string          `db:"id" json:"id"`
	JobID     string          `db:"job_id" json:"job_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// DatasourceView describes one logical external record set (e.g. an
// Airtable base/table/view triple) that jobs import from or export out of.
type DatasourceView struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Name        string          `db:"view_name" json:"view_name"`
	Datasource  Datasource      `db:"datasource" json:"datasource"`
	Description string          `db:"description" json:"description"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// AirtableViewMetadata is the metadata shape stored for Airtable-backed
// datasource views. Fields optionally narrows the fetch to the named
// columns.
type AirtableViewMetadata struct {
	Base   string   `json:"base"`
	Table  string   `json:"table"`
	View   string   `json:"view"`
	Fields []string `json:"fields,omitempty"`
}

// ExportedUser records one directory account provisioned by an export job.
// PersonalEmail drives conflict detection against future exports;
// GeneratedEmail is the handle used to undo the export.
type ExportedUser struct {
	ID             string     `db:"id" json:"id"`
	JobID          string     `db:"job_id" json:"job_id"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	PersonalEmail  string     `db:"personal_email" json:"personal_email"`
	GeneratedEmail string     `db:"generated_email" json:"generated_email"`
	ExportedFrom   Datasource `db:"exported_from" json:"exported_from"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
