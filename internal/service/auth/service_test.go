package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
	"github.com/dannyseiner/web-tools-sub000/pkg/config"
)

type userRepoMock struct {
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func newUserRepoMock() *userRepoMock {
	return &userRepoMock{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (m *userRepoMock) CreateUser(_ context.Context, user *domain.User) error {
	if _, ok := m.byEmail[user.Email]; ok {
		return repository.ErrConflict
	}
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user
	return nil
}

func (m *userRepoMock) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *userRepoMock) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.APIConfig {
	return config.APIConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
}

func TestSignupLoginAuthorize(t *testing.T) {
	repo := newUserRepoMock()
	svc := New(repo, newLogger(), testConfig())
	ctx := context.Background()

	user, tokens, err := svc.Signup(ctx, " Ada@Example.com ", "", "correct-horse")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Name != "ada" {
		t.Fatalf("expected name derived from email, got %q", user.Name)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected tokens to be issued")
	}

	if _, _, err := svc.Login(ctx, "ada@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	_, loginTokens, err := svc.Login(ctx, "ADA@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	authorized, claims, err := svc.Authorize(ctx, "  "+loginTokens.AccessToken+" ")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if authorized.ID != user.ID || claims.UserID != user.ID {
		t.Fatalf("unexpected authorized user %s / %s", authorized.ID, claims.UserID)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := New(newUserRepoMock(), newLogger(), testConfig())
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "not-an-email", "x", "long-enough"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for email, got %v", err)
	}
	if _, _, err := svc.Signup(ctx, "a@example.com", "x", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for password, got %v", err)
	}
	if _, _, err := svc.Signup(ctx, "a@example.com", "x", "long-enough"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := svc.Signup(ctx, "a@example.com", "x", "long-enough"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestAuthorizeRejectsBadTokens(t *testing.T) {
	svc := New(newUserRepoMock(), newLogger(), testConfig())
	for _, token := range []string{"", "   ", "garbage"} {
		if _, _, err := svc.Authorize(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("token %q: expected unauthorized, got %v", token, err)
		}
	}

	other := New(newUserRepoMock(), newLogger(), testConfig())
	_, tokens, err := other.Signup(context.Background(), "ghost@example.com", "", "long-enough")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := svc.Authorize(context.Background(), tokens.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown user to be unauthorized, got %v", err)
	}
}
