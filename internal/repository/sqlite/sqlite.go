// Package sqlite implements the repositories on an embedded SQLite database.
// Timestamps are stored as unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	db *sql.DB
}

// ensure Repository satisfies interfaces.
var _ repository.Store = (*Repository)(nil)

// Open opens the database at path with foreign keys enforced. SQLite allows a
// single writer, so the pool is capped at one connection; this also keeps an
// in-memory database alive for the life of the handle.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return db, nil
}

// New constructs a Repository over an open database.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *Repository) Close() {
	_ = r.db.Close()
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash, toMillis(user.CreatedAt))
	return mapWriteError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &created); err != nil {
		return nil, mapReadError(err)
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// CreateOrganization creates an organization together with its owner membership.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization, owner domain.OrganizationMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		org.ID, org.Name, toMillis(org.CreatedAt)); err != nil {
		return mapWriteError(err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO organization_members (organization_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		org.ID, owner.UserID, owner.Role, toMillis(owner.CreatedAt)); err != nil {
		return mapWriteError(err)
	}
	return tx.Commit()
}

// UpsertMember adds or updates an organization member.
func (r *Repository) UpsertMember(ctx context.Context, member domain.OrganizationMember) error {
	const query = `INSERT INTO organization_members (organization_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = excluded.role`
	_, err := r.db.ExecContext(ctx, query, member.OrganizationID, member.UserID, member.Role, toMillis(member.CreatedAt))
	return mapWriteError(err)
}

// GetMember returns the membership of userID in organizationID.
func (r *Repository) GetMember(ctx context.Context, organizationID, userID string) (*domain.OrganizationMember, error) {
	const query = `SELECT organization_id, user_id, role, created_at
		FROM organization_members WHERE organization_id = ? AND user_id = ?`
	var (
		m       domain.OrganizationMember
		created int64
	)
	if err := r.db.QueryRowContext(ctx, query, organizationID, userID).Scan(&m.OrganizationID, &m.UserID, &m.Role, &created); err != nil {
		return nil, mapReadError(err)
	}
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

// ListOrganizationsByUser returns organizations the user belongs to.
func (r *Repository) ListOrganizationsByUser(ctx context.Context, userID string) ([]domain.Organization, error) {
	const query = `SELECT o.id, o.name, o.created_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = ?
		ORDER BY o.created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orgs []domain.Organization
	for rows.Next() {
		var (
			o       domain.Organization
			created int64
		)
		if err := rows.Scan(&o.ID, &o.Name, &created); err != nil {
			return nil, err
		}
		o.CreatedAt = fromMillis(created)
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, project.ID, project.OrganizationID, project.Name, toMillis(project.CreatedAt))
	return mapWriteError(err)
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, organization_id, name, created_at FROM projects WHERE id = ?`
	var (
		p       domain.Project
		created int64
	)
	if err := r.db.QueryRowContext(ctx, query, projectID).Scan(&p.ID, &p.OrganizationID, &p.Name, &created); err != nil {
		return nil, mapReadError(err)
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// ListProjectsByOrganization lists projects of an organization.
func (r *Repository) ListProjectsByOrganization(ctx context.Context, organizationID string) ([]domain.Project, error) {
	const query = `SELECT id, organization_id, name, created_at FROM projects WHERE organization_id = ? ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var (
			p       domain.Project
			created int64
		)
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(created)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CreateProjectToken stores a hashed project token.
func (r *Repository) CreateProjectToken(ctx context.Context, token *domain.ProjectToken) error {
	const query = `INSERT INTO project_tokens (id, project_id, token_hash, label, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, token.ID, token.ProjectID, token.TokenHash, token.Label,
		toMillis(token.CreatedAt), timePtrToMillis(token.ExpiresAt), timePtrToMillis(token.RevokedAt))
	return mapWriteError(err)
}

// FindProjectByTokenHash resolves an active token to its project.
func (r *Repository) FindProjectByTokenHash(ctx context.Context, tokenHash string, now time.Time) (domain.AuthenticatedProject, error) {
	const query = `SELECT p.id, p.organization_id, p.name, t.id
		FROM project_tokens t
		JOIN projects p ON p.id = t.project_id
		WHERE t.token_hash = ?
		  AND t.revoked_at IS NULL
		  AND (t.expires_at IS NULL OR t.expires_at > ?)`
	var out domain.AuthenticatedProject
	err := r.db.QueryRowContext(ctx, query, tokenHash, toMillis(now)).Scan(&out.ProjectID, &out.OrganizationID, &out.ProjectName, &out.TokenID)
	if err != nil {
		return domain.AuthenticatedProject{}, mapReadError(err)
	}
	return out, nil
}

// ListProjectTokens returns token metadata for a project, newest first.
func (r *Repository) ListProjectTokens(ctx context.Context, projectID string) ([]domain.ProjectToken, error) {
	const query = `SELECT id, project_id, token_hash, label, created_at, expires_at, revoked_at
		FROM project_tokens WHERE project_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []domain.ProjectToken
	for rows.Next() {
		var (
			t                domain.ProjectToken
			created          int64
			expires, revoked sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.TokenHash, &t.Label, &created, &expires, &revoked); err != nil {
			return nil, err
		}
		t.CreatedAt = fromMillis(created)
		t.ExpiresAt = nullMillisToTime(expires)
		t.RevokedAt = nullMillisToTime(revoked)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RevokeProjectToken marks a token revoked.
func (r *Repository) RevokeProjectToken(ctx context.Context, projectID, tokenID string, at time.Time) error {
	const query = `UPDATE project_tokens SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ? AND project_id = ?`
	res, err := r.db.ExecContext(ctx, query, toMillis(at), tokenID, projectID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// InsertErrorReport appends a report.
func (r *Repository) InsertErrorReport(ctx context.Context, report *domain.ErrorReport) error {
	const query = `INSERT INTO error_reports (
		id, project_id, name, message, stack, url, user_agent, timestamp, app, env, release, tags, extra, received_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		report.ID,
		report.ProjectID,
		report.Name,
		report.Message,
		stringPtrToNull(report.Stack),
		stringPtrToNull(report.URL),
		stringPtrToNull(report.UserAgent),
		report.Timestamp,
		stringPtrToNull(report.App),
		stringPtrToNull(report.Env),
		stringPtrToNull(report.Release),
		blobToNull(report.Tags),
		blobToNull(report.Extra),
		toMillis(report.ReceivedAt),
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
		FROM error_reports WHERE project_id = ?`)
	if filter.App != "" {
		b.WriteString(" AND app = ?")
		args = append(args, filter.App)
	}
	if filter.Env != "" {
		b.WriteString(" AND env = ?")
		args = append(args, filter.Env)
	}
	if filter.Release != "" {
		b.WriteString(" AND release = ?")
		args = append(args, filter.Release)
	}
	b.WriteString(" ORDER BY received_at DESC, id LIMIT ? OFFSET ?")
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.ErrorReport
	for rows.Next() {
		var (
			rep                               domain.ErrorReport
			stack, url, ua, app, env, release sql.NullString
			tags, extra                       sql.NullString
			received                          int64
		)
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.Name, &rep.Message, &stack, &url, &ua,
			&rep.Timestamp, &app, &env, &release, &tags, &extra, &received); err != nil {
			return nil, err
		}
		rep.Stack = nullToStringPtr(stack)
		rep.URL = nullToStringPtr(url)
		rep.UserAgent = nullToStringPtr(ua)
		rep.App = nullToStringPtr(app)
		rep.Env = nullToStringPtr(env)
		rep.Release = nullToStringPtr(release)
		rep.Tags = nullToBlob(tags)
		rep.Extra = nullToBlob(extra)
		rep.ReceivedAt = fromMillis(received)
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// InsertNotification stores a notification.
func (r *Repository) InsertNotification(ctx context.Context, n *domain.Notification) error {
	const query = `INSERT INTO notifications (id, organization_id, kind, payload, created_at, read_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, n.ID, n.OrganizationID, n.Kind, string(n.Payload), toMillis(n.CreatedAt), timePtrToMillis(n.ReadAt))
	return mapWriteError(err)
}

// ListNotifications lists recent notifications for an organization.
func (r *Repository) ListNotifications(ctx context.Context, organizationID string, limit int) ([]domain.Notification, error) {
	const query = `SELECT id, organization_id, kind, payload, created_at, read_at
		FROM notifications WHERE organization_id = ?
		ORDER BY created_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, organizationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var (
			n       domain.Notification
			payload string
			created int64
			read    sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.OrganizationID, &n.Kind, &payload, &created, &read); err != nil {
			return nil, err
		}
		n.Payload = domain.JSONBlob(payload)
		n.CreatedAt = fromMillis(created)
		n.ReadAt = nullMillisToTime(read)
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteStalePresence removes presence rows last active before cutoff.
func (r *Repository) DeleteStalePresence(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM editor_presence WHERE last_active_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertPresence refreshes or inserts the (entity, user) row in one statement.
func (r *Repository) UpsertPresence(ctx context.Context, p domain.EditorPresence) error {
	const query = `INSERT INTO editor_presence (entity_id, user_id, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT (entity_id, user_id) DO UPDATE SET last_active_at = excluded.last_active_at`
	_, err := r.db.ExecContext(ctx, query, p.EntityID, p.UserID, toMillis(p.LastActiveAt))
	return mapWriteError(err)
}

// DeletePresence removes the (entity, user) row if present.
func (r *Repository) DeletePresence(ctx context.Context, entityID, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM editor_presence WHERE entity_id = ? AND user_id = ?`, entityID, userID)
	return err
}

// ListActiveEditors returns live rows for the scope joined with editor identity.
func (r *Repository) ListActiveEditors(ctx context.Context, scope domain.PresenceScope, since time.Time, excludeUserID string) ([]domain.ActiveEditor, error) {
	const query = `SELECT p.entity_id, p.user_id, u.name, u.email, p.last_active_at
		FROM editor_presence p
		JOIN translation_entries t ON t.id = p.entity_id
		JOIN users u ON u.id = p.user_id
		WHERE t.project_id = ?
		  AND (? = '' OR t.language_code = ?)
		  AND p.last_active_at >= ?
		  AND p.user_id <> ?
		ORDER BY p.last_active_at DESC`
	rows, err := r.db.QueryContext(ctx, query, scope.ProjectID, scope.LanguageCode, scope.LanguageCode, toMillis(since), excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var editors []domain.ActiveEditor
	for rows.Next() {
		var (
			e    domain.ActiveEditor
			last int64
		)
		if err := rows.Scan(&e.EntityID, &e.UserID, &e.Name, &e.Email, &last); err != nil {
			return nil, err
		}
		e.LastActiveAt = fromMillis(last)
		editors = append(editors, e)
	}
	return editors, rows.Err()
}

// UpsertLanguage adds or renames a project language.
func (r *Repository) UpsertLanguage(ctx context.Context, lang domain.Language) error {
	const query = `INSERT INTO languages (project_id, code, name, native_name) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, code) DO UPDATE SET name = excluded.name, native_name = excluded.native_name`
	_, err := r.db.ExecContext(ctx, query, lang.ProjectID, lang.Code, lang.Name, lang.NativeName)
	return mapWriteError(err)
}

// ListLanguages lists project languages ordered by code.
func (r *Repository) ListLanguages(ctx context.Context, projectID string) ([]domain.Language, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT project_id, code, name, native_name FROM languages WHERE project_id = ? ORDER BY code`, projectID)
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, language_code, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, entry.ID, entry.ProjectID, entry.LanguageCode, entry.Key, entry.Value, toMillis(entry.UpdatedAt)).Scan(&entry.ID)
	return mapWriteError(err)
}

// GetTranslation fetches one entry by id.
func (r *Repository) GetTranslation(ctx context.Context, entryID string) (*domain.TranslationEntry, error) {
	const query = `SELECT id, project_id, language_code, key, value, updated_at
		FROM translation_entries WHERE id = ?`
	var (
		e       domain.TranslationEntry
		updated int64
	)
	if err := r.db.QueryRowContext(ctx, query, entryID).Scan(&e.ID, &e.ProjectID, &e.LanguageCode, &e.Key, &e.Value, &updated); err != nil {
		return nil, mapReadError(err)
	}
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

// ListTranslations returns every entry of a project.
func (r *Repository) ListTranslations(ctx context.Context, projectID string) ([]domain.TranslationEntry, error) {
	const query = `SELECT id, project_id, language_code, key, value, updated_at
		FROM translation_entries WHERE project_id = ? ORDER BY language_code, key`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.TranslationEntry
	for rows.Next() {
		var (
			e       domain.TranslationEntry
			updated int64
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.LanguageCode, &e.Key, &e.Value, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt = fromMillis(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func mapReadError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		if strings.Contains(sqlErr.Error(), "FOREIGN KEY") {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, sqlErr.Error())
		}
		return fmt.Errorf("%w: %s", repository.ErrConflict, sqlErr.Error())
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtrToMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return toMillis(*t)
}

func nullMillisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func stringPtrToNull(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullToStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func blobToNull(b domain.JSONBlob) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullToBlob(v sql.NullString) domain.JSONBlob {
	if !v.Valid || v.String == "" {
		return nil
	}
	return domain.JSONBlob(v.String)
}
