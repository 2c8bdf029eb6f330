package domain

import "time"

// Project groups translations and error reports under an organization.
type Project struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
}

// ProjectToken is a long-lived credential identifying a project to the public API.
// Only the SHA-256 digest of the plaintext is stored.
type ProjectToken struct {
	ID        string
	ProjectID string
	TokenHash string
	Label     string
	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Active reports whether the token may authenticate requests at now.
func (t ProjectToken) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}

// AuthenticatedProject is the result of resolving a project token.
type AuthenticatedProject struct {
	ProjectID      string
	OrganizationID string
	ProjectName    string
	TokenID        string
}
