package tokens

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
	"github.com/dannyseiner/web-tools-sub000/pkg/crypto"
)

// HeaderName carries the project token on public API requests.
const HeaderName = "X-Project-Token"

var (
	// ErrMissingToken is returned when the request carries no token.
	ErrMissingToken = errors.New("missing authorization token")
	// ErrInvalidToken is returned when the token matches no active project token.
	ErrInvalidToken = errors.New("invalid authorization token")
)

var tracer = otel.Tracer("tokens")

// Resolver maps project tokens to the project they authenticate.
type Resolver struct {
	repo   repository.ProjectTokenRepository
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver builds a resolver. A positive cacheTTL caches successful lookups
// for that long; zero disables caching.
func NewResolver(repo repository.ProjectTokenRepository, cacheTTL time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{repo: repo, ttl: cacheTTL, logger: logger.With("component", "tokens"), now: time.Now}
	if cacheTTL > 0 {
		r.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return r
}

// Authenticate resolves the token carried by req.
func (r *Resolver) Authenticate(req *http.Request) (domain.AuthenticatedProject, error) {
	return r.Resolve(req.Context(), req.Header.Get(HeaderName))
}

// Resolve resolves a raw token. Lookup failures are reported as ErrInvalidToken.
func (r *Resolver) Resolve(ctx context.Context, token string) (domain.AuthenticatedProject, error) {
	ctx, span := tracer.Start(ctx, "Tokens.Resolver.Resolve", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if strings.TrimSpace(token) == "" {
		span.SetStatus(codes.Error, "missing token")
		return domain.AuthenticatedProject{}, ErrMissingToken
	}
	hash := crypto.HashToken(token)
	if r.cache != nil {
		if cached, ok := r.cache.Get(hash); ok {
			span.SetAttributes(attribute.Bool("tokens.cache_hit", true))
			return cached.(domain.AuthenticatedProject), nil
		}
	}
	project, err := r.repo.FindProjectByTokenHash(ctx, hash, r.now().UTC())
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.logger.ErrorContext(ctx, "project token lookup failed", "error", err)
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, "invalid token")
		return domain.AuthenticatedProject{}, ErrInvalidToken
	}
	span.SetAttributes(attribute.String("project.id", project.ProjectID))
	if r.cache != nil {
		r.cache.Set(hash, project, r.ttl)
	}
	return project, nil
}

// Forget drops a cached resolution for the token digest.
func (r *Resolver) Forget(tokenHash string) {
	if r == nil || r.cache == nil {
		return
	}
	r.cache.Delete(tokenHash)
}
