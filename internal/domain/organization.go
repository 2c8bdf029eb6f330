package domain

import "time"

// Organization owns projects and receives notifications.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	OrganizationID string
	UserID         string
	Role           string
	CreatedAt      time.Time
}

// Organization member roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)
