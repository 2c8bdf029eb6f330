package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProjectTokenHeader carries project tokens on the public API.
const ProjectTokenHeader = "X-Project-Token"

// Client provides typed access to the lingo API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

type credential func(*http.Request)

func bearer(token string) credential {
	return func(req *http.Request) {
		if t := strings.TrimSpace(token); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}
}

func projectToken(token string) credential {
	return func(req *http.Request) {
		req.Header.Set(ProjectTokenHeader, token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, auth credential, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractError reads the JSON error field, falling back to the raw text body
// that project-token rejections use.
func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// AuthResponse captures the session payload emitted by signup and login.
type AuthResponse struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// TokenPair includes access and refresh tokens. ExpiresIn is in seconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Signup registers an account and returns its first session.
func (c *Client) Signup(ctx context.Context, email, name, password string) (AuthResponse, error) {
	body := map[string]string{"email": email, "name": name, "password": password}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, nil, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, nil, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Organization groups projects and members.
type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// ListOrganizations returns the organizations the caller belongs to.
func (c *Client) ListOrganizations(ctx context.Context, token string) ([]Organization, error) {
	var orgs []Organization
	if err := c.do(ctx, http.MethodGet, "/organizations", nil, bearer(token), &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

// CreateOrganization creates an organization owned by the caller.
func (c *Client) CreateOrganization(ctx context.Context, token, name string) (Organization, error) {
	var org Organization
	if err := c.do(ctx, http.MethodPost, "/organizations", map[string]string{"name": name}, bearer(token), &org); err != nil {
		return Organization{}, err
	}
	return org, nil
}

// Project is a unit that owns tokens, error reports and translations.
type Project struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	CreatedAt      string `json:"createdAt"`
}

// ListProjects returns projects of an organization.
func (c *Client) ListProjects(ctx context.Context, token, orgID string) ([]Project, error) {
	path := fmt.Sprintf("/organizations/%s/projects", url.PathEscape(orgID))
	var projects []Project
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject adds a project to an organization.
func (c *Client) CreateProject(ctx context.Context, token, orgID, name string) (Project, error) {
	path := fmt.Sprintf("/organizations/%s/projects", url.PathEscape(orgID))
	var project Project
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"name": name}, bearer(token), &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// GetProject fetches a project the caller can access.
func (c *Client) GetProject(ctx context.Context, token, projectID string) (Project, error) {
	path := fmt.Sprintf("/projects/%s", url.PathEscape(projectID))
	var project Project
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// ErrorReport is a stored, normalized error report.
type ErrorReport struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"projectId"`
	Name       string          `json:"name"`
	Message    string          `json:"message"`
	Stack      *string         `json:"stack,omitempty"`
	URL        *string         `json:"url,omitempty"`
	UserAgent  *string         `json:"userAgent,omitempty"`
	Timestamp  string          `json:"timestamp"`
	App        *string         `json:"app,omitempty"`
	Env        *string         `json:"env,omitempty"`
	Release    *string         `json:"release,omitempty"`
	Tags       json.RawMessage `json:"tags,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// ErrorFilter narrows ListErrors. Zero values are ignored.
type ErrorFilter struct {
	App     string
	Env     string
	Release string
	Limit   int
	Offset  int
}

func (f ErrorFilter) query() string {
	values := url.Values{}
	if f.App != "" {
		values.Set("app", f.App)
	}
	if f.Env != "" {
		values.Set("env", f.Env)
	}
	if f.Release != "" {
		values.Set("release", f.Release)
	}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// ListErrors returns recent error reports of a project, newest first.
func (c *Client) ListErrors(ctx context.Context, token, projectID string, filter ErrorFilter) ([]ErrorReport, error) {
	path := fmt.Sprintf("/projects/%s/errors%s", url.PathEscape(projectID), filter.query())
	var reports []ErrorReport
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// ProjectToken describes an issued token without its secret.
type ProjectToken struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// IssuedToken is returned once at issue time and carries the raw token.
type IssuedToken struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Label     string     `json:"label"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ListTokens returns every token of a project, revoked ones included.
func (c *Client) ListTokens(ctx context.Context, token, projectID string) ([]ProjectToken, error) {
	path := fmt.Sprintf("/projects/%s/tokens", url.PathEscape(projectID))
	var list []ProjectToken
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// IssueToken creates a project token. A zero ttl never expires.
func (c *Client) IssueToken(ctx context.Context, token, projectID, label string, ttl time.Duration) (IssuedToken, error) {
	path := fmt.Sprintf("/projects/%s/tokens", url.PathEscape(projectID))
	body := map[string]any{"label": label, "ttlSeconds": int(ttl / time.Second)}
	var issued IssuedToken
	if err := c.do(ctx, http.MethodPost, path, body, bearer(token), &issued); err != nil {
		return IssuedToken{}, err
	}
	return issued, nil
}

// RevokeToken revokes a project token.
func (c *Client) RevokeToken(ctx context.Context, token, projectID, tokenID string) error {
	path := fmt.Sprintf("/projects/%s/tokens/%s", url.PathEscape(projectID), url.PathEscape(tokenID))
	return c.do(ctx, http.MethodDelete, path, nil, bearer(token), nil)
}

// ActiveEditor is another user currently editing an entity.
type ActiveEditor struct {
	EntityID     string    `json:"entityId"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// StartEditing marks the caller as editing entityID.
func (c *Client) StartEditing(ctx context.Context, token, entityID string) error {
	return c.do(ctx, http.MethodPost, "/presence/start", map[string]string{"entityId": entityID}, bearer(token), nil)
}

// StopEditing clears the caller's presence on entityID.
func (c *Client) StopEditing(ctx context.Context, token, entityID string) error {
	return c.do(ctx, http.MethodPost, "/presence/stop", map[string]string{"entityId": entityID}, bearer(token), nil)
}

// ActiveEditors lists other users editing entries of a project. An empty
// languageCode covers every language.
func (c *Client) ActiveEditors(ctx context.Context, token, projectID, languageCode string) ([]ActiveEditor, error) {
	values := url.Values{"projectId": {projectID}}
	if languageCode != "" {
		values.Set("languageCode", languageCode)
	}
	var editors []ActiveEditor
	if err := c.do(ctx, http.MethodGet, "/presence/active?"+values.Encode(), nil, bearer(token), &editors); err != nil {
		return nil, err
	}
	return editors, nil
}

// Language is a language configured on a project.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
}

// Translations maps language code to key/value pairs.
type Translations map[string]map[string]string

// Languages lists the languages of the project a token belongs to.
func (c *Client) Languages(ctx context.Context, token string) ([]Language, error) {
	var languages []Language
	if err := c.do(ctx, http.MethodGet, "/i18n/languages", nil, projectToken(token), &languages); err != nil {
		return nil, err
	}
	return languages, nil
}

// Translations returns every translation of the project a token belongs to.
func (c *Client) Translations(ctx context.Context, token string) (Translations, error) {
	var translations Translations
	if err := c.do(ctx, http.MethodGet, "/i18n/translations", nil, projectToken(token), &translations); err != nil {
		return nil, err
	}
	return translations, nil
}

// Notification is an organization-wide event such as a new project error.
type Notification struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ListNotifications returns recent notifications of an organization.
func (c *Client) ListNotifications(ctx context.Context, token, orgID string, limit int) ([]Notification, error) {
	path := fmt.Sprintf("/organizations/%s/notifications", url.PathEscape(orgID))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var items []Notification
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &items); err != nil {
		return nil, err
	}
	return items, nil
}
