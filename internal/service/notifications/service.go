package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
	"github.com/dannyseiner/web-tools-sub000/internal/ws"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var errMissingOrganization = fmt.Errorf("%w: organization id required", domain.ErrInvalid)

// Service persists organization notifications and fans them out to live streams.
type Service struct {
	repo   repository.NotificationRepository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a notification service. hub may be nil when streaming is disabled.
func New(repo repository.NotificationRepository, hub *ws.Hub, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, hub: hub, logger: logger.With("component", "notifications"), now: time.Now}
}

// Notify stores a notification of kind for the organization and broadcasts it.
func (s Service) Notify(ctx context.Context, organizationID, kind string, payload any) (*domain.Notification, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, errMissingOrganization
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	notification := &domain.Notification{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Kind:           kind,
		Payload:        domain.JSONBlob(body),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.InsertNotification(ctx, notification); err != nil {
		return nil, err
	}
	s.broadcast(*notification)
	return notification, nil
}

// ProjectError raises the project_error notification for an ingested report.
func (s Service) ProjectError(ctx context.Context, project domain.AuthenticatedProject, message string) error {
	_, err := s.Notify(ctx, project.OrganizationID, domain.NotificationKindProjectError, domain.ProjectErrorPayload{
		Message:     message,
		ProjectID:   project.ProjectID,
		ProjectName: project.ProjectName,
	})
	return err
}

// List returns the newest notifications of an organization.
func (s Service) List(ctx context.Context, organizationID string, limit int) ([]domain.Notification, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, errMissingOrganization
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListNotifications(ctx, organizationID, limit)
}

// Hub returns the stream hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(notification domain.Notification) {
	if s.hub == nil {
		return
	}
	data, err := MarshalNotification(notification)
	if err != nil {
		s.logger.Warn("failed to marshal notification", "notification_id", notification.ID, "error", err)
		return
	}
	s.hub.Broadcast(notification.OrganizationID, data)
}

// MarshalNotification formats a notification for streaming payloads.
func MarshalNotification(notification domain.Notification) ([]byte, error) {
	return json.Marshal(notification)
}
