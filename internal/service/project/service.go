package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

// Membership checks organization access.
type Membership interface {
	RequireMember(ctx context.Context, organizationID, userID string) (*domain.OrganizationMember, error)
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	members  Membership
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a project service.
func New(projects repository.ProjectRepository, members Membership, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{projects: projects, members: members, logger: logger.With("component", "project"), now: time.Now}
}

var (
	errInvalidProjectName = fmt.Errorf("%w: project name is required", domain.ErrInvalid)
	errMissingProjectID   = fmt.Errorf("%w: project id required", domain.ErrInvalid)
)

// Create registers a new project in an organization the actor belongs to.
func (s Service) Create(ctx context.Context, actorID, organizationID, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidProjectName
	}
	if _, err := s.members.RequireMember(ctx, organizationID, actorID); err != nil {
		return nil, err
	}
	project := &domain.Project{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Name:           name,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "organization_id", organizationID)
	return project, nil
}

// ListByOrganization returns projects owned by the organization when actorID is a member.
func (s Service) ListByOrganization(ctx context.Context, actorID, organizationID string) ([]domain.Project, error) {
	if _, err := s.members.RequireMember(ctx, organizationID, actorID); err != nil {
		return nil, err
	}
	return s.projects.ListProjectsByOrganization(ctx, organizationID)
}

// ForMember returns a project when actorID belongs to its organization.
func (s Service) ForMember(ctx context.Context, actorID, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.RequireMember(ctx, project.OrganizationID, actorID); err != nil {
		return nil, err
	}
	return project, nil
}
