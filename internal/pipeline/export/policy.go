package export

// Candidate is one user proposed for export: the source identity triple
// used for conflict detection.
type Candidate struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// ConflictPolicy decides what happens when a candidate already has an
// exported counterpart.
type ConflictPolicy string

const (
	// ConflictPolicyExportDifference silently skips already-exported
	// candidates and proceeds with the remainder.
	ConflictPolicyExportDifference ConflictPolicy = "export_difference"

	// ConflictPolicyReject aborts the whole request, with no side
	// effects, if any candidate has already been exported.
	ConflictPolicyReject ConflictPolicy = "reject"
)

// EmailPolicy shapes the generated directory handle.
type EmailPolicy struct {
	Separator              string `json:"separator"`
	AddUniqueNumericSuffix bool   `json:"add_unique_numeric_suffix"`
}

// PasswordPolicy shapes the generated temporary password.
type PasswordPolicy struct {
	Length                    int  `json:"generated_password_length"`
	ChangePasswordAtNextLogin bool `json:"change_password_at_next_login"`
}
