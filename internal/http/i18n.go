package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
)

func (r *Router) handlePublicLanguages(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	project, _ := projectFromContext(req.Context())
	languages, err := r.i18n.Languages(req.Context(), project.ProjectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, languages)
}

func (r *Router) handlePublicTranslations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	project, _ := projectFromContext(req.Context())
	translations, err := r.i18n.Translations(req.Context(), project.ProjectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, translations)
}

// handleProjectLanguages lists or adds languages of a project the caller can access.
func (r *Router) handleProjectLanguages(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		languages, err := r.i18n.Languages(req.Context(), projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, languages)
	case http.MethodPost:
		var payload struct {
			Code       string `json:"code"`
			Name       string `json:"name"`
			NativeName string `json:"nativeName"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		language := domain.Language{ProjectID: projectID, Code: payload.Code, Name: payload.Name, NativeName: payload.NativeName}
		if err := r.i18n.AddLanguage(req.Context(), language); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
	default:
		r.methodNotAllowed(w)
	}
}

type translationEntryView struct {
	ID           string `json:"id"`
	LanguageCode string `json:"languageCode"`
	Key          string `json:"key"`
	Value        string `json:"value"`
	UpdatedAt    string `json:"updatedAt"`
}

func entryView(entry domain.TranslationEntry) translationEntryView {
	return translationEntryView{
		ID:           entry.ID,
		LanguageCode: entry.LanguageCode,
		Key:          entry.Key,
		Value:        entry.Value,
		UpdatedAt:    entry.UpdatedAt.UTC().Format(timeLayout),
	}
}

// handleProjectTranslations lists entries or writes one entry.
func (r *Router) handleProjectTranslations(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		entries, err := r.i18n.Entries(req.Context(), projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		views := make([]translationEntryView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, entryView(entry))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPut:
		var payload struct {
			LanguageCode string `json:"languageCode"`
			Key          string `json:"key"`
			Value        string `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		entry, err := r.i18n.UpsertTranslation(req.Context(), projectID, payload.LanguageCode, payload.Key, payload.Value)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, entryView(*entry))
	default:
		r.methodNotAllowed(w)
	}
}
