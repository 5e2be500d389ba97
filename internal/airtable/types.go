package airtable

import "encoding/json"

// Record is one row as returned by the tabular source. Fields is kept
// verbatim; the pipeline never interprets it.
type Record struct {
	ID          string          `json:"id"`
	Fields      json.RawMessage `json:"fields"`
	CreatedTime string          `json:"createdTime"`
}

// Locator addresses one record set inside a base.
type Locator struct {
	Base  string
	Table string
	View  string
}

// ListOptions narrows a record listing. Fields, when set, restricts the
// payload to the named columns; record identity and order are unaffected.
type ListOptions struct {
	Fields []string
}

type listRecordsResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// Base is one base visible to the configured token.
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel"`
}

// Bases is a page of bases with an optional continuation cursor.
type Bases struct {
	Bases  []Base `json:"bases"`
	Offset string `json:"offset,omitempty"`
}

// Field describes one column of a table.
type Field struct {
	ID          string          `json:"id"`
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
}

// View describes one saved view of a table.
type View struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Table describes one table of a base.
type Table struct {
	ID             string  `json:"id"`
	PrimaryFieldID string  `json:"primaryFieldId"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Fields         []Field `json:"fields"`
	Views          []View  `json:"views"`
}

// Schema is the full table layout of a base.
type Schema struct {
	Tables []Table `json:"tables"`
}
