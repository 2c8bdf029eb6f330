package i18n

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

var (
	errMissingProjectID = fmt.Errorf("%w: project id required", domain.ErrInvalid)
	errMissingCode      = fmt.Errorf("%w: language code required", domain.ErrInvalid)
	errMissingKey       = fmt.Errorf("%w: translation key required", domain.ErrInvalid)
)

// LanguageView is the public shape of a project language.
type LanguageView struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
}

// Translations maps language code to key to value.
type Translations map[string]map[string]string

// Service reads and writes project languages and translations.
type Service struct {
	repo   repository.I18nRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an i18n service.
func New(repo repository.I18nRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, logger: logger.With("component", "i18n"), now: time.Now}
}

// Languages lists the languages enabled for a project.
func (s Service) Languages(ctx context.Context, projectID string) ([]LanguageView, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errMissingProjectID
	}
	languages, err := s.repo.ListLanguages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	views := make([]LanguageView, 0, len(languages))
	for _, l := range languages {
		views = append(views, LanguageView{Code: l.Code, Name: l.Name, NativeName: l.NativeName})
	}
	return views, nil
}

// Translations returns every entry of a project grouped by language. Every
// enabled language is present, even without entries.
func (s Service) Translations(ctx context.Context, projectID string) (Translations, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errMissingProjectID
	}
	languages, err := s.repo.ListLanguages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListTranslations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(Translations, len(languages))
	for _, l := range languages {
		out[l.Code] = map[string]string{}
	}
	for _, e := range entries {
		bucket, ok := out[e.LanguageCode]
		if !ok {
			bucket = map[string]string{}
			out[e.LanguageCode] = bucket
		}
		bucket[e.Key] = e.Value
	}
	return out, nil
}

// Entry fetches one translation entry by id.
func (s Service) Entry(ctx context.Context, entryID string) (*domain.TranslationEntry, error) {
	if strings.TrimSpace(entryID) == "" {
		return nil, fmt.Errorf("%w: entry id required", domain.ErrInvalid)
	}
	return s.repo.GetTranslation(ctx, entryID)
}

// Entries lists raw translation entries, including the ids editors hold presence on.
func (s Service) Entries(ctx context.Context, projectID string) ([]domain.TranslationEntry, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errMissingProjectID
	}
	return s.repo.ListTranslations(ctx, projectID)
}

// AddLanguage enables a language for a project, updating its names if present.
func (s Service) AddLanguage(ctx context.Context, language domain.Language) error {
	language.Code = strings.TrimSpace(language.Code)
	if strings.TrimSpace(language.ProjectID) == "" {
		return errMissingProjectID
	}
	if language.Code == "" {
		return errMissingCode
	}
	if language.Name == "" {
		language.Name = language.Code
	}
	if language.NativeName == "" {
		language.NativeName = language.Name
	}
	return s.repo.UpsertLanguage(ctx, language)
}

// UpsertTranslation writes one entry. The stored entry id is kept across updates.
func (s Service) UpsertTranslation(ctx context.Context, projectID, languageCode, key, value string) (*domain.TranslationEntry, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errMissingProjectID
	}
	languageCode = strings.TrimSpace(languageCode)
	if languageCode == "" {
		return nil, errMissingCode
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errMissingKey
	}
	entry := &domain.TranslationEntry{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		LanguageCode: languageCode,
		Key:          key,
		Value:        value,
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.repo.UpsertTranslation(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
