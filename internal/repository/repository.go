package repository

import (
	"context"
	"time"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// OrganizationRepository manages organizations and memberships.
type OrganizationRepository interface {
	CreateOrganization(ctx context.Context, org *domain.Organization, owner domain.OrganizationMember) error
	UpsertMember(ctx context.Context, member domain.OrganizationMember) error
	GetMember(ctx context.Context, organizationID, userID string) (*domain.OrganizationMember, error)
	ListOrganizationsByUser(ctx context.Context, userID string) ([]domain.Organization, error)
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOrganization(ctx context.Context, organizationID string) ([]domain.Project, error)
}

// ProjectTokenRepository stores hashed project tokens and resolves them.
type ProjectTokenRepository interface {
	CreateProjectToken(ctx context.Context, token *domain.ProjectToken) error
	// FindProjectByTokenHash returns ErrNotFound unless an active token with the
	// exact hash exists at now.
	FindProjectByTokenHash(ctx context.Context, tokenHash string, now time.Time) (domain.AuthenticatedProject, error)
	ListProjectTokens(ctx context.Context, projectID string) ([]domain.ProjectToken, error)
	RevokeProjectToken(ctx context.Context, projectID, tokenID string, at time.Time) error
}

// ErrorReportRepository appends and queries error reports. Reports are immutable.
type ErrorReportRepository interface {
	InsertErrorReport(ctx context.Context, report *domain.ErrorReport) error
	ListErrorReports(ctx context.Context, projectID string, filter domain.ErrorReportFilter) ([]domain.ErrorReport, error)
}

// NotificationRepository persists organization notifications.
type NotificationRepository interface {
	InsertNotification(ctx context.Context, notification *domain.Notification) error
	ListNotifications(ctx context.Context, organizationID string, limit int) ([]domain.Notification, error)
}

// PresenceRepository stores ephemeral editor presence rows.
type PresenceRepository interface {
	// DeleteStalePresence removes every row last active before cutoff.
	DeleteStalePresence(ctx context.Context, cutoff time.Time) (int64, error)
	// UpsertPresence refreshes the (entity, user) row or inserts it.
	UpsertPresence(ctx context.Context, presence domain.EditorPresence) error
	DeletePresence(ctx context.Context, entityID, userID string) error
	// ListActiveEditors returns rows in scope active at or after since, excluding excludeUserID.
	ListActiveEditors(ctx context.Context, scope domain.PresenceScope, since time.Time, excludeUserID string) ([]domain.ActiveEditor, error)
}

// I18nRepository stores project languages and translation entries.
type I18nRepository interface {
	UpsertLanguage(ctx context.Context, language domain.Language) error
	ListLanguages(ctx context.Context, projectID string) ([]domain.Language, error)
	UpsertTranslation(ctx context.Context, entry *domain.TranslationEntry) error
	GetTranslation(ctx context.Context, entryID string) (*domain.TranslationEntry, error)
	ListTranslations(ctx context.Context, projectID string) ([]domain.TranslationEntry, error)
}

// Store aggregates every repository a backend provides.
type Store interface {
	UserRepository
	OrganizationRepository
	ProjectRepository
	ProjectTokenRepository
	ErrorReportRepository
	NotificationRepository
	PresenceRepository
	I18nRepository
	Ping(ctx context.Context) error
	Close()
}
