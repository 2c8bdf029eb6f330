package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/dannyseiner/web-tools-sub000/internal/service/ingest"
)

// handleErrors accepts one error report for the authenticated project.
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	project, ok := projectFromContext(req.Context())
	if !ok {
		writeText(w, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.recordIngest("too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		r.recordIngest("invalid_json")
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	raw, err := ingest.Decode(body)
	if err != nil {
		r.recordIngest("invalid_json")
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if _, err := r.ingest.Ingest(req.Context(), project, raw); err != nil {
		r.recordIngest("error")
		r.logger.ErrorContext(req.Context(), "error report insert failed", "project_id", project.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.recordIngest("accepted")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
