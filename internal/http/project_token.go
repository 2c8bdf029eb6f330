package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/service/tokens"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, " + tokens.HeaderName + ", Authorization"
	corsMaxAge       = "86400"

	msgMissingToken = "Missing authorization token"
	msgInvalidToken = "Invalid authorization token"
)

type projectContextKey struct{}

// withCORS sets the permissive CORS headers on every response and answers
// pre-flight requests without authentication.
func (r *Router) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		setCORSHeaders(w.Header())
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, req)
	}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Max-Age", corsMaxAge)
}

// requireProjectToken resolves the X-Project-Token header and binds the
// authenticated project to the request context. Failures end the request
// with a plain text 401.
func (r *Router) requireProjectToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.resolver == nil {
			writeText(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}
		project, err := r.resolver.Authenticate(req)
		if err != nil {
			reason, msg := "invalid", msgInvalidToken
			if errors.Is(err, tokens.ErrMissingToken) {
				reason, msg = "missing", msgMissingToken
			}
			r.recordTokenRejection(reason)
			writeText(w, http.StatusUnauthorized, msg)
			return
		}
		ctx := context.WithValue(req.Context(), projectContextKey{}, project)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// projectFromContext returns the project bound by requireProjectToken.
func projectFromContext(ctx context.Context) (domain.AuthenticatedProject, bool) {
	project, ok := ctx.Value(projectContextKey{}).(domain.AuthenticatedProject)
	return project, ok
}
