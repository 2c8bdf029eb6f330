package sqlite

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dannyseiner/web-tools-sub000/internal/app/migrate"
	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner, err := migrate.New(db, migrate.DialectSQLite, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, runner.Ensure(ctx))
	return New(db)
}

type fixture struct {
	org     domain.Organization
	project domain.Project
	users   []domain.User
	entries map[string]string
}

// seed creates an organization with one project, languages en and de, the
// requested users and one entry per (language, key) pair.
func seed(t *testing.T, repo *Repository, userNames ...string) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{entries: map[string]string{}}
	for _, name := range userNames {
		u := domain.User{ID: uuid.NewString(), Email: name + "@example.com", Name: name, PasswordHash: []byte("x"), CreatedAt: base}
		require.NoError(t, repo.CreateUser(ctx, &u))
		f.users = append(f.users, u)
	}
	f.org = domain.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: base}
	require.NoError(t, repo.CreateOrganization(ctx, &f.org, domain.OrganizationMember{
		OrganizationID: f.org.ID, UserID: f.users[0].ID, Role: domain.RoleOwner, CreatedAt: base,
	}))
	f.project = domain.Project{ID: uuid.NewString(), OrganizationID: f.org.ID, Name: "web", CreatedAt: base}
	require.NoError(t, repo.CreateProject(ctx, &f.project))
	for _, code := range []string{"de", "en"} {
		require.NoError(t, repo.UpsertLanguage(ctx, domain.Language{ProjectID: f.project.ID, Code: code, Name: code, NativeName: code}))
		for _, key := range []string{"hello", "bye"} {
			entry := domain.TranslationEntry{ID: uuid.NewString(), ProjectID: f.project.ID, LanguageCode: code, Key: key, Value: key + "-" + code, UpdatedAt: base}
			require.NoError(t, repo.UpsertTranslation(ctx, &entry))
			f.entries[code+"."+key] = entry.ID
		}
	}
	return f
}

func TestUserRepository_CreateAndLookup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := domain.User{ID: uuid.NewString(), Email: "ada@example.com", Name: "Ada", PasswordHash: []byte("hash"), CreatedAt: base}
	require.NoError(t, repo.CreateUser(ctx, &u))

	byEmail, err := repo.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
	require.Equal(t, "Ada", byEmail.Name)
	require.True(t, byEmail.CreatedAt.Equal(base))

	_, err = repo.GetUserByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, repository.ErrNotFound)

	dup := u
	dup.ID = uuid.NewString()
	require.ErrorIs(t, repo.CreateUser(ctx, &dup), repository.ErrConflict)
}

func TestOrganizationRepository_Membership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "owner", "guest")

	m, err := repo.GetMember(ctx, f.org.ID, f.users[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleOwner, m.Role)

	_, err = repo.GetMember(ctx, f.org.ID, f.users[1].ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.UpsertMember(ctx, domain.OrganizationMember{OrganizationID: f.org.ID, UserID: f.users[1].ID, Role: domain.RoleMember, CreatedAt: base}))
	orgs, err := repo.ListOrganizationsByUser(ctx, f.users[1].ID)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	require.Equal(t, f.org.ID, orgs[0].ID)

	projects, err := repo.ListProjectsByOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
}

func TestProjectTokenRepository_Resolution(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "owner")

	expired := base.Add(-time.Minute)
	tokens := []domain.ProjectToken{
		{ID: uuid.NewString(), ProjectID: f.project.ID, TokenHash: "active", Label: "ci", CreatedAt: base},
		{ID: uuid.NewString(), ProjectID: f.project.ID, TokenHash: "expired", CreatedAt: base, ExpiresAt: &expired},
		{ID: uuid.NewString(), ProjectID: f.project.ID, TokenHash: "revoked", CreatedAt: base},
	}
	for i := range tokens {
		require.NoError(t, repo.CreateProjectToken(ctx, &tokens[i]))
	}
	require.NoError(t, repo.RevokeProjectToken(ctx, f.project.ID, tokens[2].ID, base))

	got, err := repo.FindProjectByTokenHash(ctx, "active", base)
	require.NoError(t, err)
	require.Equal(t, domain.AuthenticatedProject{
		ProjectID:      f.project.ID,
		OrganizationID: f.org.ID,
		ProjectName:    "web",
		TokenID:        tokens[0].ID,
	}, got)

	for _, hash := range []string{"expired", "revoked", "ACTIVE", ""} {
		_, err := repo.FindProjectByTokenHash(ctx, hash, base)
		require.ErrorIs(t, err, repository.ErrNotFound, "hash %q", hash)
	}

	listed, err := repo.ListProjectTokens(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)

	require.ErrorIs(t, repo.RevokeProjectToken(ctx, f.project.ID, uuid.NewString(), base), repository.ErrNotFound)
}

func TestErrorReportRepository_InsertAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "owner")

	stack := "at main"
	prod, staging := "prod", "staging"
	first := domain.ErrorReport{
		ID: uuid.NewString(), ProjectID: f.project.ID, Name: "TypeError", Message: "x is not a function",
		Stack: &stack, Timestamp: "2024-05-01T12:00:00.000Z", Env: &prod,
		Tags: domain.JSONBlob(`{"region":"eu"}`), Extra: domain.JSONBlob(`[1,2]`), ReceivedAt: base,
	}
	second := domain.ErrorReport{
		ID: uuid.NewString(), ProjectID: f.project.ID, Name: "Error", Message: "later",
		Timestamp: "2024-05-01T12:01:00.000Z", Env: &staging, ReceivedAt: base.Add(time.Minute),
	}
	require.NoError(t, repo.InsertErrorReport(ctx, &first))
	require.NoError(t, repo.InsertErrorReport(ctx, &second))

	all, err := repo.ListErrorReports(ctx, f.project.ID, domain.ErrorReportFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.ID, all[0].ID)
	require.Nil(t, all[0].Stack)
	require.Nil(t, all[0].Tags)

	got := all[1]
	require.Equal(t, "x is not a function", got.Message)
	require.Equal(t, stack, *got.Stack)
	require.JSONEq(t, `{"region":"eu"}`, string(got.Tags))
	require.JSONEq(t, `[1,2]`, string(got.Extra))
	require.Nil(t, got.App)

	filtered, err := repo.ListErrorReports(ctx, f.project.ID, domain.ErrorReportFilter{Env: "prod", Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, first.ID, filtered[0].ID)

	paged, err := repo.ListErrorReports(ctx, f.project.ID, domain.ErrorReportFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, first.ID, paged[0].ID)
}

func TestNotificationRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "owner")

	n := domain.Notification{
		ID: uuid.NewString(), OrganizationID: f.org.ID, Kind: domain.NotificationKindProjectError,
		Payload: domain.JSONBlob(`{"message":"boom","projectId":"p","projectName":"web"}`), CreatedAt: base,
	}
	require.NoError(t, repo.InsertNotification(ctx, &n))

	list, err := repo.ListNotifications(ctx, f.org.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.NotificationKindProjectError, list[0].Kind)
	require.JSONEq(t, string(n.Payload), string(list[0].Payload))
	require.Nil(t, list[0].ReadAt)
}

func TestPresenceRepository_UpsertIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "u1", "u2")
	entity := f.entries["en.hello"]
	u1 := f.users[0].ID

	require.NoError(t, repo.UpsertPresence(ctx, domain.EditorPresence{EntityID: entity, UserID: u1, LastActiveAt: base}))
	second := base.Add(2 * time.Second)
	require.NoError(t, repo.UpsertPresence(ctx, domain.EditorPresence{EntityID: entity, UserID: u1, LastActiveAt: second}))

	editors, err := repo.ListActiveEditors(ctx, domain.PresenceScope{ProjectID: f.project.ID}, base.Add(-time.Minute), f.users[1].ID)
	require.NoError(t, err)
	require.Len(t, editors, 1)
	require.Equal(t, u1, editors[0].UserID)
	require.Equal(t, "u1", editors[0].Name)
	require.Equal(t, "u1@example.com", editors[0].Email)
	require.True(t, editors[0].LastActiveAt.Equal(second))
}

func TestPresenceRepository_StaleSweepAndScope(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "u1", "u2", "u3")
	now := base.Add(time.Hour)
	cutoff := now.Add(-30 * time.Second)

	require.NoError(t, repo.UpsertPresence(ctx, domain.EditorPresence{EntityID: f.entries["en.hello"], UserID: f.users[0].ID, LastActiveAt: now.Add(-31 * time.Second)}))
	require.NoError(t, repo.UpsertPresence(ctx, domain.EditorPresence{EntityID: f.entries["en.bye"], UserID: f.users[1].ID, LastActiveAt: now}))
	require.NoError(t, repo.UpsertPresence(ctx, domain.EditorPresence{EntityID: f.entries["de.hello"], UserID: f.users[2].ID, LastActiveAt: now}))

	scope := domain.PresenceScope{ProjectID: f.project.ID, LanguageCode: "en"}
	editors, err := repo.ListActiveEditors(ctx, scope, cutoff, f.users[2].ID)
	require.NoError(t, err)
	require.Len(t, editors, 1, "stale and out-of-scope rows are excluded")
	require.Equal(t, f.users[1].ID, editors[0].UserID)

	deleted, err := repo.DeleteStalePresence(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	everyone, err := repo.ListActiveEditors(ctx, domain.PresenceScope{ProjectID: f.project.ID}, time.Time{}, uuid.NewString())
	require.NoError(t, err)
	require.Len(t, everyone, 2)

	self, err := repo.ListActiveEditors(ctx, domain.PresenceScope{ProjectID: f.project.ID}, cutoff, f.users[1].ID)
	require.NoError(t, err)
	for _, e := range self {
		require.NotEqual(t, f.users[1].ID, e.UserID)
	}

	require.NoError(t, repo.DeletePresence(ctx, f.entries["en.bye"], f.users[1].ID))
	require.NoError(t, repo.DeletePresence(ctx, f.entries["en.bye"], f.users[1].ID))
	editors, err = repo.ListActiveEditors(ctx, scope, cutoff, f.users[2].ID)
	require.NoError(t, err)
	require.Empty(t, editors)
}

func TestI18nRepository_UpsertTranslationKeepsID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo, "owner")

	entry := domain.TranslationEntry{ID: uuid.NewString(), ProjectID: f.project.ID, LanguageCode: "en", Key: "hello", Value: "Hi", UpdatedAt: base.Add(time.Minute)}
	require.NoError(t, repo.UpsertTranslation(ctx, &entry))
	require.Equal(t, f.entries["en.hello"], entry.ID)

	langs, err := repo.ListLanguages(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, langs, 2)
	require.Equal(t, "de", langs[0].Code)

	entries, err := repo.ListTranslations(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		if e.LanguageCode == "en" && e.Key == "hello" {
			require.Equal(t, "Hi", e.Value)
		}
	}

	got, err := repo.GetTranslation(ctx, f.entries["de.bye"])
	require.NoError(t, err)
	require.Equal(t, f.project.ID, got.ProjectID)
	require.Equal(t, "bye-de", got.Value)
	_, err = repo.GetTranslation(ctx, uuid.NewString())
	require.ErrorIs(t, err, repository.ErrNotFound)

	missingLang := domain.TranslationEntry{ID: uuid.NewString(), ProjectID: f.project.ID, LanguageCode: "fr", Key: "hello", UpdatedAt: base}
	require.ErrorIs(t, repo.UpsertTranslation(ctx, &missingLang), repository.ErrNotFound)
}
