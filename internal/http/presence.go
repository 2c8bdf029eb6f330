package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
)

type presenceRequest struct {
	EntityID string `json:"entityId"`
}

func decodePresence(req *http.Request) (string, bool) {
	var payload presenceRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		return "", false
	}
	entityID := strings.TrimSpace(payload.EntityID)
	return entityID, validID(entityID)
}

func (r *Router) handlePresenceStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	entityID, ok := decodePresence(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}
	info, _ := authInfoFromContext(req.Context())
	entry, err := r.i18n.Entry(req.Context(), entityID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if _, err := r.projects.ForMember(req.Context(), info.UserID, entry.ProjectID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if err := r.presence.StartEditing(req.Context(), entityID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePresenceStop is best effort: anonymous callers and malformed bodies
// get the same acknowledgement as a successful stop.
func (r *Router) handlePresenceStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	entityID, ok := decodePresence(req)
	if ok {
		if err := r.presence.StopEditing(req.Context(), entityID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handlePresenceActive(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	scope := domain.PresenceScope{
		ProjectID:    strings.TrimSpace(query.Get("projectId")),
		LanguageCode: strings.TrimSpace(query.Get("languageCode")),
	}
	if !validID(scope.ProjectID) {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}
	info, _ := authInfoFromContext(req.Context())
	if _, err := r.projects.ForMember(req.Context(), info.UserID, scope.ProjectID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	editors, err := r.presence.ActiveEditors(req.Context(), scope)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, editors)
}
