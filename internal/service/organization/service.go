package organization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

var (
	// ErrForbidden is returned when the user is not a member of the organization.
	ErrForbidden = errors.New("not a member of this organization")

	errInvalidName = fmt.Errorf("%w: organization name is required", domain.ErrInvalid)
	errInvalidRole = fmt.Errorf("%w: role must be owner or member", domain.ErrInvalid)
)

// Service handles organization workflows.
type Service struct {
	repo   repository.OrganizationRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Service.
func New(repo repository.OrganizationRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, logger: logger.With("component", "organization"), now: time.Now}
}

// Create registers an organization owned by ownerID.
func (s Service) Create(ctx context.Context, ownerID, name string) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidName
	}
	now := s.now().UTC()
	org := &domain.Organization{ID: uuid.NewString(), Name: name, CreatedAt: now}
	owner := domain.OrganizationMember{OrganizationID: org.ID, UserID: ownerID, Role: domain.RoleOwner, CreatedAt: now}
	if err := s.repo.CreateOrganization(ctx, org, owner); err != nil {
		return nil, err
	}
	s.logger.Info("organization created", "organization_id", org.ID, "owner_id", ownerID)
	return org, nil
}

// AddMember grants userID a role. Only owners may add members.
func (s Service) AddMember(ctx context.Context, actorID, organizationID, userID, role string) error {
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleOwner && role != domain.RoleMember {
		return errInvalidRole
	}
	actor, err := s.RequireMember(ctx, organizationID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner {
		return ErrForbidden
	}
	return s.repo.UpsertMember(ctx, domain.OrganizationMember{
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      s.now().UTC(),
	})
}

// RequireMember returns the membership of userID or ErrForbidden.
func (s Service) RequireMember(ctx context.Context, organizationID, userID string) (*domain.OrganizationMember, error) {
	if strings.TrimSpace(organizationID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrForbidden
	}
	member, err := s.repo.GetMember(ctx, organizationID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return member, nil
}

// ListForUser returns the organizations userID belongs to.
func (s Service) ListForUser(ctx context.Context, userID string) ([]domain.Organization, error) {
	return s.repo.ListOrganizationsByUser(ctx, userID)
}
