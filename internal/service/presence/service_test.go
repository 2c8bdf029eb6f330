package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
)

type presenceKey struct{ entity, user string }

// memoryPresence is a map-backed presence store; entities map to their scope.
type memoryPresence struct {
	rows     map[presenceKey]time.Time
	entities map[string]domain.PresenceScope
	sweeps   int
}

func newMemoryPresence() *memoryPresence {
	return &memoryPresence{
		rows: map[presenceKey]time.Time{},
		entities: map[string]domain.PresenceScope{
			"entry-en-1": {ProjectID: "proj-1", LanguageCode: "en"},
			"entry-en-2": {ProjectID: "proj-1", LanguageCode: "en"},
			"entry-de-1": {ProjectID: "proj-1", LanguageCode: "de"},
		},
	}
}

func (m *memoryPresence) DeleteStalePresence(_ context.Context, cutoff time.Time) (int64, error) {
	m.sweeps++
	var removed int64
	for key, at := range m.rows {
		if at.Before(cutoff) {
			delete(m.rows, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryPresence) UpsertPresence(_ context.Context, p domain.EditorPresence) error {
	m.rows[presenceKey{p.EntityID, p.UserID}] = p.LastActiveAt
	return nil
}

func (m *memoryPresence) DeletePresence(_ context.Context, entityID, userID string) error {
	delete(m.rows, presenceKey{entityID, userID})
	return nil
}

func (m *memoryPresence) ListActiveEditors(_ context.Context, scope domain.PresenceScope, since time.Time, exclude string) ([]domain.ActiveEditor, error) {
	var out []domain.ActiveEditor
	for key, at := range m.rows {
		entityScope := m.entities[key.entity]
		if entityScope.ProjectID != scope.ProjectID {
			continue
		}
		if scope.LanguageCode != "" && entityScope.LanguageCode != scope.LanguageCode {
			continue
		}
		if key.user == exclude || at.Before(since) {
			continue
		}
		out = append(out, domain.ActiveEditor{EntityID: key.entity, UserID: key.user, Name: key.user, LastActiveAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(repo *memoryPresence, c *clock) Service {
	svc := New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{StaleAfter: 30 * time.Second})
	svc.now = c.Now
	return svc
}

var scopeEN = domain.PresenceScope{ProjectID: "proj-1", LanguageCode: "en"}

func as(user string) context.Context {
	return domain.WithCaller(context.Background(), user)
}

func TestStartEditingIsIdempotent(t *testing.T) {
	repo := newMemoryPresence()
	c := &clock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, c)

	if err := svc.StartEditing(as("u1"), "entry-en-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.now = c.now.Add(5 * time.Second)
	if err := svc.StartEditing(as("u1"), "entry-en-1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(repo.rows))
	}
	if got := repo.rows[presenceKey{"entry-en-1", "u1"}]; !got.Equal(c.now) {
		t.Fatalf("expected lastActiveAt %s, got %s", c.now, got)
	}
}

func TestStaleRowsAreHiddenAndSweptGlobally(t *testing.T) {
	repo := newMemoryPresence()
	c := &clock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, c)

	// u2 was last seen 31s ago on a different language.
	repo.rows[presenceKey{"entry-de-1", "u2"}] = c.now.Add(-31 * time.Second)
	repo.rows[presenceKey{"entry-en-1", "u3"}] = c.now.Add(-31 * time.Second)

	editors, err := svc.ActiveEditors(as("u1"), scopeEN)
	if err != nil {
		t.Fatalf("active editors: %v", err)
	}
	if len(editors) != 0 {
		t.Fatalf("expected stale editors hidden, got %+v", editors)
	}

	if err := svc.StartEditing(as("u4"), "entry-en-2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := repo.rows[presenceKey{"entry-de-1", "u2"}]; ok {
		t.Fatal("expected stale row outside the entity to be swept")
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected only the fresh row, got %d", len(repo.rows))
	}
}

func TestActiveEditorsExcludesCaller(t *testing.T) {
	repo := newMemoryPresence()
	c := &clock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, c)

	for _, user := range []string{"u1", "u2"} {
		if err := svc.StartEditing(as(user), "entry-en-1"); err != nil {
			t.Fatalf("start %s: %v", user, err)
		}
	}
	editors, err := svc.ActiveEditors(as("u1"), scopeEN)
	if err != nil {
		t.Fatalf("active editors: %v", err)
	}
	if len(editors) != 1 || editors[0].UserID != "u2" {
		t.Fatalf("expected only u2, got %+v", editors)
	}
}

func TestTwoEditorsThenStop(t *testing.T) {
	repo := newMemoryPresence()
	c := &clock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, c)

	_ = svc.StartEditing(as("alice"), "entry-en-1")
	_ = svc.StartEditing(as("bob"), "entry-en-2")

	fromAlice, _ := svc.ActiveEditors(as("alice"), scopeEN)
	if len(fromAlice) != 1 || fromAlice[0].UserID != "bob" {
		t.Fatalf("alice should see bob, got %+v", fromAlice)
	}
	if err := svc.StopEditing(as("bob"), "entry-en-2"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	fromAlice, _ = svc.ActiveEditors(as("alice"), scopeEN)
	if len(fromAlice) != 0 {
		t.Fatalf("expected bob gone, got %+v", fromAlice)
	}

	// scope filter: a German editor is not listed for English
	_ = svc.StartEditing(as("bob"), "entry-de-1")
	fromAlice, _ = svc.ActiveEditors(as("alice"), scopeEN)
	if len(fromAlice) != 0 {
		t.Fatalf("expected scope to exclude de entries, got %+v", fromAlice)
	}
}

func TestUnauthenticatedCaller(t *testing.T) {
	repo := newMemoryPresence()
	svc := newTestService(repo, &clock{now: time.Now()})
	ctx := context.Background()

	if err := svc.StartEditing(ctx, "entry-en-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if err := svc.StopEditing(ctx, "entry-en-1"); err != nil {
		t.Fatalf("stop without caller must be a no-op, got %v", err)
	}
	editors, err := svc.ActiveEditors(ctx, scopeEN)
	if err != nil || editors == nil || len(editors) != 0 {
		t.Fatalf("expected empty list, got %v %v", editors, err)
	}
	if repo.sweeps != 0 {
		t.Fatal("expected no store access without a caller")
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	repo := newMemoryPresence()
	c := &clock{now: time.Now().UTC()}
	svc := New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{SweepInterval: 5 * time.Millisecond})
	svc.now = c.Now
	repo.rows[presenceKey{"entry-en-1", "u1"}] = c.now.Add(-time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if repo.sweeps == 0 || len(repo.rows) != 0 {
		t.Fatalf("expected periodic sweep, sweeps=%d rows=%d", repo.sweeps, len(repo.rows))
	}

	disabled := New(repo, nil, Config{})
	if err := disabled.Run(context.Background()); err != nil {
		t.Fatalf("disabled run: %v", err)
	}
}
