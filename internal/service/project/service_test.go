package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
	"github.com/dannyseiner/web-tools-sub000/internal/service/organization"
)

type stubProjectRepository struct {
	projects map[string]domain.Project
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	s.projects[project.ID] = *project
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	if project, ok := s.projects[projectID]; ok {
		return &project, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) ListProjectsByOrganization(ctx context.Context, organizationID string) ([]domain.Project, error) {
	var out []domain.Project
	for _, p := range s.projects {
		if p.OrganizationID == organizationID {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubMembership map[string]string

func (m stubMembership) RequireMember(ctx context.Context, organizationID, userID string) (*domain.OrganizationMember, error) {
	if m[userID] != organizationID {
		return nil, organization.ErrForbidden
	}
	return &domain.OrganizationMember{OrganizationID: organizationID, UserID: userID, Role: domain.RoleMember}, nil
}

func newTestService() (Service, *stubProjectRepository) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{}}
	members := stubMembership{"alice": "org-1", "mallory": "org-2"}
	return New(repo, members, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

func TestCreateRequiresMembership(t *testing.T) {
	svc, repo := newTestService()
	if _, err := svc.Create(context.Background(), "mallory", "org-1", "Web"); !errors.Is(err, organization.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "alice", "org-1", "  "); err == nil {
		t.Fatal("expected name validation error")
	}
	project, err := svc.Create(context.Background(), "alice", "org-1", " Web ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if project.Name != "Web" || repo.projects[project.ID].OrganizationID != "org-1" {
		t.Fatalf("unexpected project %+v", project)
	}
}

func TestForMember(t *testing.T) {
	svc, repo := newTestService()
	repo.projects["proj-1"] = domain.Project{ID: "proj-1", OrganizationID: "org-1", Name: "Web"}

	if _, err := svc.ForMember(context.Background(), "alice", "proj-1"); err != nil {
		t.Fatalf("expected access, got %v", err)
	}
	if _, err := svc.ForMember(context.Background(), "mallory", "proj-1"); !errors.Is(err, organization.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.ForMember(context.Background(), "alice", "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	projects, err := svc.ListByOrganization(context.Background(), "alice", "org-1")
	if err != nil || len(projects) != 1 {
		t.Fatalf("expected one project, got %v %v", projects, err)
	}
}
