package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

var (
	// ErrUnauthenticated is returned when StartEditing runs without a caller.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrMissingEntity is returned for a blank entity id.
	ErrMissingEntity = fmt.Errorf("%w: entity id required", domain.ErrInvalid)
)

// Config tunes staleness and the background sweep.
type Config struct {
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// Service tracks which users are editing which translation entries. Rows
// older than StaleAfter are invisible to readers and are swept on every
// StartEditing call.
type Service struct {
	repo   repository.PresenceRepository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a presence tracker.
func New(repo repository.PresenceRepository, logger *slog.Logger, cfg Config) Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = domain.PresenceStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, cfg: cfg, logger: logger.With("component", "presence"), now: time.Now}
}

// StartEditing marks the caller active on entityID, refreshing an existing row.
func (s Service) StartEditing(ctx context.Context, entityID string) error {
	userID, ok := domain.CallerFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return ErrMissingEntity
	}
	now := s.now().UTC()
	if _, err := s.repo.DeleteStalePresence(ctx, now.Add(-s.cfg.StaleAfter)); err != nil {
		return err
	}
	return s.repo.UpsertPresence(ctx, domain.EditorPresence{EntityID: entityID, UserID: userID, LastActiveAt: now})
}

// StopEditing removes the caller's row for entityID. Without a caller it does nothing.
func (s Service) StopEditing(ctx context.Context, entityID string) error {
	userID, ok := domain.CallerFrom(ctx)
	if !ok {
		return nil
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil
	}
	return s.repo.DeletePresence(ctx, entityID, userID)
}

// ActiveEditors lists other users active on entries in scope.
func (s Service) ActiveEditors(ctx context.Context, scope domain.PresenceScope) ([]domain.ActiveEditor, error) {
	userID, ok := domain.CallerFrom(ctx)
	if !ok {
		return []domain.ActiveEditor{}, nil
	}
	since := s.now().UTC().Add(-s.cfg.StaleAfter)
	editors, err := s.repo.ListActiveEditors(ctx, scope, since, userID)
	if err != nil {
		return nil, err
	}
	if editors == nil {
		editors = []domain.ActiveEditor{}
	}
	return editors, nil
}

// Sweep deletes every stale row and reports how many were removed.
func (s Service) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteStalePresence(ctx, s.now().UTC().Add(-s.cfg.StaleAfter))
}

// Run sweeps periodically until ctx is done. A zero interval returns at once.
func (s Service) Run(ctx context.Context) error {
	if s.cfg.SweepInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("presence sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("presence sweep", "removed", removed)
			}
		}
	}
}
