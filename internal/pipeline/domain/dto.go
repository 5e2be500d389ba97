package domain

import "encoding/json"

// CreateUser is the profile used for the idempotent acting-user upsert,
// keyed on email.
type CreateUser struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ImageURI  string `json:"image_uri"`
}

// CreateDatasourceView carries everything needed to register a new view.
type CreateDatasourceView struct {
	UserID      string          `json:"user_id"`
	Name        string          `json:"view_name"`
	Datasource  Datasource      `json:"datasource"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
}

// EditDatasourceView updates the mutable attributes of a view.
type EditDatasourceView struct {
	Name        string          `json:"view_name"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
}

// CreateJobForView creates a job row and its datasource-view association
// in one transaction.
type CreateJobForView struct {
	UserID   string          `json:"user_id"`
	Kind     JobKind         `json:"job_type"`
	Metadata json.RawMessage `json:"metadata"`
	ViewID   string          `json:"datasource_view_id"`
}

// CreateExportedUser persists one provisioned directory account.
type CreateExportedUser struct {
	JobID          string     `json:"job_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	PersonalEmail  string     `json:"personal_email"`
	GeneratedEmail string     `json:"generated_email"`
	ExportedFrom   Datasource `json:"exported_from"`
}
