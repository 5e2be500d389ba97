package workspace

// Name carries the given/family name pair of a directory account.
type Name struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	FullName   string `json:"fullName,omitempty"`
}

// CreateUser is the payload for provisioning one directory account.
type CreateUser struct {
	PrimaryEmail              string `json:"primaryEmail"`
	Name                      Name   `json:"name"`
	Password                  string `json:"password"`
	ChangePasswordAtNextLogin bool   `json:"changePasswordAtNextLogin"`
}

// User is the subset of a directory account the pipeline reads.
type User struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primaryEmail"`
	Name         Name   `json:"name"`
	IsAdmin      bool   `json:"isAdmin"`
	Suspended    bool   `json:"suspended"`
	OrgUnitPath  string `json:"orgUnitPath,omitempty"`
	CreationTime string `json:"creationTime,omitempty"`
}

type listUsersResponse struct {
	Kind          string `json:"kind"`
	Users         []User `json:"users"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
