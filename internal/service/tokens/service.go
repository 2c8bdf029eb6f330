package tokens

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
	"github.com/dannyseiner/web-tools-sub000/pkg/crypto"
)

// TokenPrefix marks plaintext project tokens.
const TokenPrefix = "lpt_"

var errMissingProjectID = fmt.Errorf("%w: project id required", domain.ErrInvalid)

// IssuedToken is returned once at creation; Token is never stored.
type IssuedToken struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Label     string     `json:"label"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Service manages the lifecycle of project tokens.
type Service struct {
	repo     repository.ProjectTokenRepository
	resolver *Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a token service. resolver may be nil.
func NewService(repo repository.ProjectTokenRepository, resolver *Resolver, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, resolver: resolver, logger: logger.With("component", "tokens"), now: time.Now}
}

// Issue creates a token for projectID. A positive ttl sets an expiry.
func (s Service) Issue(ctx context.Context, projectID, label string, ttl time.Duration) (IssuedToken, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return IssuedToken{}, errMissingProjectID
	}
	plaintext, err := crypto.GenerateToken(TokenPrefix)
	if err != nil {
		return IssuedToken{}, err
	}
	now := s.now().UTC()
	token := &domain.ProjectToken{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		TokenHash: crypto.HashToken(plaintext),
		Label:     strings.TrimSpace(label),
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		token.ExpiresAt = &expires
	}
	if err := s.repo.CreateProjectToken(ctx, token); err != nil {
		return IssuedToken{}, err
	}
	s.logger.Info("project token issued", "project_id", projectID, "token_id", token.ID)
	return IssuedToken{
		ID:        token.ID,
		ProjectID: projectID,
		Label:     token.Label,
		Token:     plaintext,
		CreatedAt: now,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// List returns the project's tokens without their plaintext.
func (s Service) List(ctx context.Context, projectID string) ([]domain.ProjectToken, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.repo.ListProjectTokens(ctx, projectID)
}

// Revoke marks a token revoked and evicts any cached resolution of it.
func (s Service) Revoke(ctx context.Context, projectID, tokenID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errMissingProjectID
	}
	if err := s.repo.RevokeProjectToken(ctx, projectID, tokenID, s.now().UTC()); err != nil {
		return err
	}
	if s.resolver != nil {
		tokens, err := s.repo.ListProjectTokens(ctx, projectID)
		if err != nil {
			s.logger.Warn("failed to evict revoked token from cache", "token_id", tokenID, "error", err)
		}
		for _, token := range tokens {
			if token.ID == tokenID {
				s.resolver.Forget(token.TokenHash)
			}
		}
	}
	s.logger.Info("project token revoked", "project_id", projectID, "token_id", tokenID)
	return nil
}
