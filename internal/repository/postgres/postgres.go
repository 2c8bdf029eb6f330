package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open connects a pool to dsn and verifies it.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// ensure Repository satisfies interfaces.
var _ repository.Store = (*Repository)(nil)

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	return mapWriteError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateOrganization creates an organization together with its owner membership.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization, owner domain.OrganizationMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertOrg = `INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertOrg, org.ID, org.Name, org.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	const insertMember = `INSERT INTO organization_members (organization_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertMember, org.ID, owner.UserID, owner.Role, owner.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	return tx.Commit(ctx)
}

// UpsertMember adds or updates an organization member.
func (r *Repository) UpsertMember(ctx context.Context, member domain.OrganizationMember) error {
	const query = `INSERT INTO organization_members (organization_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	_, err := r.pool.Exec(ctx, query, member.OrganizationID, member.UserID, member.Role, member.CreatedAt)
	return mapWriteError(err)
}

// GetMember returns the membership of userID in organizationID.
func (r *Repository) GetMember(ctx context.Context, organizationID, userID string) (*domain.OrganizationMember, error) {
	const query = `SELECT organization_id, user_id, role, created_at
		FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	var m domain.OrganizationMember
	err := r.pool.QueryRow(ctx, query, organizationID, userID).Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListOrganizationsByUser returns organizations the user belongs to.
func (r *Repository) ListOrganizationsByUser(ctx context.Context, userID string) ([]domain.Organization, error) {
	const query = `SELECT o.id, o.name, o.created_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orgs []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, organization_id, name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.OrganizationID, project.Name, project.CreatedAt)
	return mapWriteError(err)
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, organization_id, name, created_at FROM projects WHERE id = $1`
	var p domain.Project
	if err := r.pool.QueryRow(ctx, query, projectID).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjectsByOrganization lists projects of an organization.
func (r *Repository) ListProjectsByOrganization(ctx context.Context, organizationID string) ([]domain.Project, error) {
	const query = `SELECT id, organization_id, name, created_at FROM projects
		WHERE organization_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CreateProjectToken stores a hashed project token.
func (r *Repository) CreateProjectToken(ctx context.Context, token *domain.ProjectToken) error {
	const query = `INSERT INTO project_tokens (id, project_id, token_hash, label, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, token.ID, token.ProjectID, token.TokenHash, token.Label,
		token.CreatedAt, timePtrToNil(token.ExpiresAt), timePtrToNil(token.RevokedAt))
	return mapWriteError(err)
}

// FindProjectByTokenHash resolves an active token to its project.
func (r *Repository) FindProjectByTokenHash(ctx context.Context, tokenHash string, now time.Time) (domain.AuthenticatedProject, error) {
	const query = `SELECT p.id, p.organization_id, p.name, t.id
		FROM project_tokens t
		JOIN projects p ON p.id = t.project_id
		WHERE t.token_hash = $1
		  AND t.revoked_at IS NULL
		  AND (t.expires_at IS NULL OR t.expires_at > $2)`
	var out domain.AuthenticatedProject
	err := r.pool.QueryRow(ctx, query, tokenHash, now).Scan(&out.ProjectID, &out.OrganizationID, &out.ProjectName, &out.TokenID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuthenticatedProject{}, repository.ErrNotFound
		}
		return domain.AuthenticatedProject{}, err
	}
	return out, nil
}

// ListProjectTokens returns token metadata for a project, newest first.
func (r *Repository) ListProjectTokens(ctx context.Context, projectID string) ([]domain.ProjectToken, error) {
	const query = `SELECT id, project_id, token_hash, label, created_at, expires_at, revoked_at
		FROM project_tokens WHERE project_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []domain.ProjectToken
	for rows.Next() {
		var t domain.ProjectToken
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.TokenHash, &t.Label, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RevokeProjectToken marks a token revoked.
func (r *Repository) RevokeProjectToken(ctx context.Context, projectID, tokenID string, at time.Time) error {
	const query = `UPDATE project_tokens SET revoked_at = COALESCE(revoked_at, $3)
		WHERE id = $1 AND project_id = $2`
	tag, err := r.pool.Exec(ctx, query, tokenID, projectID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// InsertErrorReport appends a report.
func (r *Repository) InsertErrorReport(ctx context.Context, report *domain.ErrorReport) error {
	const query = `INSERT INTO error_reports (
		id, project_id, name, message, stack, url, user_agent, timestamp, app, env, release, tags, extra, received_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.pool.Exec(ctx, query,
		report.ID,
		report.ProjectID,
		report.Name,
		report.Message,
		stringPtrToNil(report.Stack),
		stringPtrToNil(report.URL),
		stringPtrToNil(report.UserAgent),
		report.Timestamp,
		stringPtrToNil(report.App),
		stringPtrToNil(report.Env),
		stringPtrToNil(report.Release),
		blobToNil(report.Tags),
		blobToNil(report.Extra),
		report.ReceivedAt,
	)
	return mapWriteError(err)
}

// ListErrorReports lists reports for a project, newest first.
func (r *Repository) ListErrorReports(ctx context.Context, projectID string, filter domain.ErrorReportFilter) ([]domain.ErrorReport, error) {
	var (
		b    strings.Builder
		args = []any{projectID}
	)
	b.WriteString(`SELECT id, project_id, name, message, stack, url, user_agent, timestamp, app, env, release, tags, extra, received_at
		FROM error_reports WHERE project_id = $1`)
	for _, f := range []struct {
		column string
		value  string
	}{{"app", filter.App}, {"env", filter.Env}, {"release", filter.Release}} {
		if f.value == "" {
			continue
		}
		args = append(args, f.value)
		fmt.Fprintf(&b, " AND %s = $%d", f.column, len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&b, " ORDER BY received_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.ErrorReport
	for rows.Next() {
		var (
			rep         domain.ErrorReport
			tags, extra []byte
		)
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.Name, &rep.Message, &rep.Stack, &rep.URL, &rep.UserAgent,
			&rep.Timestamp, &rep.App, &rep.Env, &rep.Release, &tags, &extra, &rep.ReceivedAt); err != nil {
			return nil, err
		}
		rep.Tags = nilToBlob(tags)
		rep.Extra = nilToBlob(extra)
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// InsertNotification stores a notification.
func (r *Repository) InsertNotification(ctx context.Context, n *domain.Notification) error {
	const query = `INSERT INTO notifications (id, organization_id, kind, payload, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, n.ID, n.OrganizationID, n.Kind, string(n.Payload), n.CreatedAt, timePtrToNil(n.ReadAt))
	return mapWriteError(err)
}

// ListNotifications lists recent notifications for an organization.
func (r *Repository) ListNotifications(ctx context.Context, organizationID string, limit int) ([]domain.Notification, error) {
	const query = `SELECT id, organization_id, kind, payload, created_at, read_at
		FROM notifications WHERE organization_id = $1
		ORDER BY created_at DESC, id LIMIT $2`
	rows, err := r.pool.Query(ctx, query, organizationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var (
			n       domain.Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.OrganizationID, &n.Kind, &payload, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		n.Payload = nilToBlob(payload)
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteStalePresence removes presence rows last active before cutoff.
func (r *Repository) DeleteStalePresence(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM editor_presence WHERE last_active_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertPresence refreshes or inserts the (entity, user) row in one statement.
func (r *Repository) UpsertPresence(ctx context.Context, p domain.EditorPresence) error {
	const query = `INSERT INTO editor_presence (entity_id, user_id, last_active_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_id, user_id) DO UPDATE SET last_active_at = EXCLUDED.last_active_at`
	_, err := r.pool.Exec(ctx, query, p.EntityID, p.UserID, p.LastActiveAt)
	return mapWriteError(err)
}

// DeletePresence removes the (entity, user) row if present.
func (r *Repository) DeletePresence(ctx context.Context, entityID, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM editor_presence WHERE entity_id = $1 AND user_id = $2`, entityID, userID)
	return err
}

// ListActiveEditors returns live rows for the scope joined with editor identity.
func (r *Repository) ListActiveEditors(ctx context.Context, scope domain.PresenceScope, since time.Time, excludeUserID string) ([]domain.ActiveEditor, error) {
	const query = `SELECT p.entity_id, p.user_id, u.name, u.email, p.last_active_at
		FROM editor_presence p
		JOIN translation_entries t ON t.id = p.entity_id
		JOIN users u ON u.id = p.user_id
		WHERE t.project_id = $1
		  AND ($2 = '' OR t.language_code = $2)
		  AND p.last_active_at >= $3
		  AND p.user_id <> $4
		ORDER BY p.last_active_at DESC`
	rows, err := r.pool.Query(ctx, query, scope.ProjectID, scope.LanguageCode, since, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var editors []domain.ActiveEditor
	for rows.Next() {
		var e domain.ActiveEditor
		if err := rows.Scan(&e.EntityID, &e.UserID, &e.Name, &e.Email, &e.LastActiveAt); err != nil {
			return nil, err
		}
		editors = append(editors, e)
	}
	return editors, rows.Err()
}

// UpsertLanguage adds or renames a project language.
func (r *Repository) UpsertLanguage(ctx context.Context, lang domain.Language) error {
	const query = `INSERT INTO languages (project_id, code, name, native_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, code) DO UPDATE SET name = EXCLUDED.name, native_name = EXCLUDED.native_name`
	_, err := r.pool.Exec(ctx, query, lang.ProjectID, lang.Code, lang.Name, lang.NativeName)
	return mapWriteError(err)
}

// ListLanguages lists project languages ordered by code.
func (r *Repository) ListLanguages(ctx context.Context, projectID string) ([]domain.Language, error) {
	const query = `SELECT project_id, code, name, native_name FROM languages WHERE project_id = $1 ORDER BY code`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var langs []domain.Language
	for rows.Next() {
		var l domain.Language
		if err := rows.Scan(&l.ProjectID, &l.Code, &l.Name, &l.NativeName); err != nil {
			return nil, err
		}
		langs = append(langs, l)
	}
	return langs, rows.Err()
}

// UpsertTranslation writes an entry keyed by (project, language, key). The
// stored id is written back to entry.
func (r *Repository) UpsertTranslation(ctx context.Context, entry *domain.TranslationEntry) error {
	const query = `INSERT INTO translation_entries (id, project_id, language_code, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, language_code, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING id`
	err := r.pool.QueryRow(ctx, query, entry.ID, entry.ProjectID, entry.LanguageCode, entry.Key, entry.Value, entry.UpdatedAt).Scan(&entry.ID)
	return mapWriteError(err)
}

// GetTranslation fetches one entry by id.
func (r *Repository) GetTranslation(ctx context.Context, entryID string) (*domain.TranslationEntry, error) {
	const query = `SELECT id, project_id, language_code, key, value, updated_at
		FROM translation_entries WHERE id = $1`
	var e domain.TranslationEntry
	err := r.pool.QueryRow(ctx, query, entryID).Scan(&e.ID, &e.ProjectID, &e.LanguageCode, &e.Key, &e.Value, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListTranslations returns every entry of a project.
func (r *Repository) ListTranslations(ctx context.Context, projectID string) ([]domain.TranslationEntry, error) {
	const query = `SELECT id, project_id, language_code, key, value, updated_at
		FROM translation_entries WHERE project_id = $1 ORDER BY language_code, key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.TranslationEntry
	for rows.Next() {
		var e domain.TranslationEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.LanguageCode, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func stringPtrToNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func blobToNil(b domain.JSONBlob) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nilToBlob(b []byte) domain.JSONBlob {
	if len(b) == 0 {
		return nil
	}
	return domain.JSONBlob(b)
}
