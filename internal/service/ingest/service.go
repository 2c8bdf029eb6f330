package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ErrInvalidJSON is returned when the body is not a JSON object.
var ErrInvalidJSON = errors.New("invalid JSON")

var errMissingProjectID = fmt.Errorf("%w: project id required", domain.ErrInvalid)

// Notifier raises the organization notification for an accepted report.
type Notifier interface {
	ProjectError(ctx context.Context, project domain.AuthenticatedProject, message string) error
}

// Service accepts error reports on behalf of authenticated projects.
type Service struct {
	reports  repository.ErrorReportRepository
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs an ingestion service. notifier may be nil.
func New(reports repository.ErrorReportRepository, notifier Notifier, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{reports: reports, notifier: notifier, logger: logger.With("component", "ingest"), now: time.Now}
}

// Decode parses a request body into its top-level fields. Only malformed JSON
// is rejected; a well-formed body that is not an object has no fields and
// normalizes to the defaults.
func Decode(body []byte) (map[string]json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return map[string]json.RawMessage{}, nil
	}
	return raw, nil
}

// Ingest normalizes and stores one report, then notifies the project's
// organization. A failed notification is logged and the report is kept.
func (s Service) Ingest(ctx context.Context, project domain.AuthenticatedProject, raw map[string]json.RawMessage) (*domain.ErrorReport, error) {
	report := Normalize(raw, s.now())
	report.ID = uuid.NewString()
	report.ProjectID = project.ProjectID
	if err := s.reports.InsertErrorReport(ctx, &report); err != nil {
		return nil, err
	}
	s.logger.Info("error report stored", "project_id", project.ProjectID, "report_id", report.ID, "name", report.Name)
	if s.notifier != nil {
		if err := s.notifier.ProjectError(ctx, project, report.Message); err != nil {
			s.logger.WarnContext(ctx, "project error notification failed", "project_id", project.ProjectID, "report_id", report.ID, "error", err)
		}
	}
	return &report, nil
}

// List returns a project's reports newest first. Limit defaults to 50 and is capped at 200.
func (s Service) List(ctx context.Context, projectID string, filter domain.ErrorReportFilter) ([]domain.ErrorReport, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.reports.ListErrorReports(ctx, projectID, filter)
}

// ParseFilter reads app, env, release, limit and offset from query values.
func ParseFilter(get func(string) string) domain.ErrorReportFilter {
	filter := domain.ErrorReportFilter{
		App:     strings.TrimSpace(get("app")),
		Env:     strings.TrimSpace(get("env")),
		Release: strings.TrimSpace(get("release")),
	}
	if v, err := strconv.Atoi(get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(get("offset")); err == nil {
		filter.Offset = v
	}
	return filter
}
