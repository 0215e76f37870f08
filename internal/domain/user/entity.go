package user

import (
	"database/sql"
	"time"
)

// User represents the users table
type User struct {
	UID         int64
	Email       sql.NullString
	DisplayName sql.NullString
	IsAnonymous bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Profile is the subset of federated claims persisted on the user row.
type Profile struct {
	Email       string
	DisplayName string
}

// OIDCMapping represents the oidc_user_mappings table
type OIDCMapping struct {
	Subject   string
	UID       int64
	CreatedAt time.Time
}

// XIDRecord represents the xids table. ZID is null for owner-wide records.
type XIDRecord struct {
	Owner     int64
	XID       string
	ZID       sql.NullInt64
	UID       int64
	CreatedAt time.Time
}
