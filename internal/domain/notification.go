package domain

import "time"

// NotificationKindProjectError marks notifications raised by ingested error reports.
const NotificationKindProjectError = "project_error"

// Notification is an organization-scoped feed item.
type Notification struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Kind           string     `json:"kind"`
	Payload        JSONBlob   `json:"payload"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// ProjectErrorPayload is the payload of a project_error notification.
type ProjectErrorPayload struct {
	Message     string `json:"message"`
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
}
