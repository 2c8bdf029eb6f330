package httpx

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/service/ingest"
	"github.com/dannyseiner/web-tools-sub000/internal/service/notifications"
	"github.com/dannyseiner/web-tools-sub000/internal/ws"
)

const timeLayout = time.RFC3339Nano

func (r *Router) handleOrganizations(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for organizations", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		orgs, err := r.organizations.ListForUser(req.Context(), info.UserID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		views := make([]map[string]any, 0, len(orgs))
		for _, org := range orgs {
			views = append(views, organizationView(org))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		org, err := r.organizations.Create(req.Context(), info.UserID, payload.Name)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, organizationView(*org))
	default:
		r.methodNotAllowed(w)
	}
}

func organizationView(org domain.Organization) map[string]any {
	return map[string]any{"id": org.ID, "name": org.Name, "createdAt": org.CreatedAt.UTC().Format(timeLayout)}
}

func projectView(p domain.Project) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"organizationId": p.OrganizationID,
		"name":           p.Name,
		"createdAt":      p.CreatedAt.UTC().Format(timeLayout),
	}
}

func (r *Router) handleOrganizationSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := strings.Split(strings.TrimPrefix(req.URL.Path, "/organizations/"), "/")
	orgID := parts[0]
	if !validID(orgID) || len(parts) != 2 {
		r.notFound(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	switch parts[1] {
	case "projects":
		r.handleOrganizationProjects(w, req, info.UserID, orgID)
	case "members":
		r.handleOrganizationMembers(w, req, info.UserID, orgID)
	case "notifications":
		r.handleOrganizationNotifications(w, req, info.UserID, orgID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleOrganizationProjects(w http.ResponseWriter, req *http.Request, userID, orgID string) {
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.ListByOrganization(req.Context(), userID, orgID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		views := make([]map[string]any, 0, len(projects))
		for _, p := range projects {
			views = append(views, projectView(p))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		p, err := r.projects.Create(req.Context(), userID, orgID, payload.Name)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, projectView(*p))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleOrganizationMembers(w http.ResponseWriter, req *http.Request, userID, orgID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || !validID(payload.UserID) {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := r.organizations.AddMember(req.Context(), userID, orgID, payload.UserID, payload.Role); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

func (r *Router) handleOrganizationNotifications(w http.ResponseWriter, req *http.Request, userID, orgID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.organizations.RequireMember(req.Context(), orgID, userID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	items, err := r.notifications.List(req.Context(), orgID, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := strings.Split(strings.TrimPrefix(req.URL.Path, "/projects/"), "/")
	projectID := parts[0]
	if !validID(projectID) {
		r.notFound(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	p, err := r.projects.ForMember(req.Context(), info.UserID, projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, projectView(*p))
	case len(parts) == 2 && parts[1] == "errors":
		r.handleProjectErrors(w, req, projectID)
	case len(parts) == 2 && parts[1] == "tokens":
		r.handleProjectTokens(w, req, projectID)
	case len(parts) == 3 && parts[1] == "tokens":
		r.handleProjectToken(w, req, projectID, parts[2])
	case len(parts) == 2 && parts[1] == "languages":
		r.handleProjectLanguages(w, req, projectID)
	case len(parts) == 2 && parts[1] == "translations":
		r.handleProjectTranslations(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectErrors(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	reports, err := r.ingest.List(req.Context(), projectID, ingest.ParseFilter(req.URL.Query().Get))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if reports == nil {
		reports = []domain.ErrorReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

type projectTokenView struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

func (r *Router) handleProjectTokens(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		list, err := r.tokens.List(req.Context(), projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		views := make([]projectTokenView, 0, len(list))
		for _, t := range list {
			views = append(views, projectTokenView{ID: t.ID, Label: t.Label, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt, RevokedAt: t.RevokedAt})
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var payload struct {
			Label      string `json:"label"`
			TTLSeconds int    `json:"ttlSeconds"`
		}
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		issued, err := r.tokens.Issue(req.Context(), projectID, payload.Label, time.Duration(payload.TTLSeconds)*time.Second)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, issued)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectToken(w http.ResponseWriter, req *http.Request, projectID, tokenID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if !validID(tokenID) {
		r.notFound(w)
		return
	}
	if err := r.tokens.Revoke(req.Context(), projectID, tokenID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamOrganization checks membership for the organization_id query parameter.
func (r *Router) streamOrganization(w http.ResponseWriter, req *http.Request) (string, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for notification stream", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return "", false
	}
	orgID := strings.TrimSpace(req.URL.Query().Get("organization_id"))
	if !validID(orgID) {
		writeError(w, http.StatusBadRequest, "organization_id query parameter required")
		return "", false
	}
	if _, err := r.organizations.RequireMember(req.Context(), orgID, info.UserID); err != nil {
		r.writeServiceError(w, req, err)
		return "", false
	}
	if r.notifications.Hub() == nil {
		writeError(w, http.StatusServiceUnavailable, "notification stream unavailable")
		return "", false
	}
	return orgID, true
}

func (r *Router) handleNotificationsWS(w http.ResponseWriter, req *http.Request) {
	orgID, ok := r.streamOrganization(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.notifications.Hub()
	hub.Register(orgID, client)
	go func() {
		defer func() {
			hub.Unregister(orgID, client)
			client.Close()
		}()
		client.Serve()
	}()
}

func (r *Router) handleNotificationsStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	orgID, ok := r.streamOrganization(w, req)
	if !ok {
		return
	}
	backfill, err := r.notifications.List(req.Context(), orgID, streamBackfillLimit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, "notification", r.logger)
	if err := client.Heartbeat(); err != nil {
		return
	}
	slices.Reverse(backfill)
	for _, n := range backfill {
		data, err := notifications.MarshalNotification(n)
		if err != nil {
			continue
		}
		if err := client.Send(data); err != nil {
			return
		}
	}

	hub := r.notifications.Hub()
	hub.Register(orgID, client)
	defer hub.Unregister(orgID, client)

	ticker := time.NewTicker(streamHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
