package auth

import "time"

// Role is one of the four roles recognized across the API.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

// User mirrors a users row.
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Role               Role
	MustChangePassword bool
	IsDefaultAdmin     bool
	CreatedAt          time.Time
}

// Device mirrors a devices row.
type Device struct {
	ID                    string
	UserID                string
	DeviceName            string
	RefreshTokenHash      []byte
	RefreshTokenExpiresAt time.Time
	RevokedAt             *time.Time
	CreatedAt             time.Time
}

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	UserID   string
	Role     Role
	DeviceID string
}
