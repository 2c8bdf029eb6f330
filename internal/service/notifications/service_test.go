package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/ws"
)

type notificationRepoStub struct {
	inserted []domain.Notification
	err      error
	limit    int
}

func (s *notificationRepoStub) InsertNotification(_ context.Context, n *domain.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, *n)
	return nil
}

func (s *notificationRepoStub) ListNotifications(_ context.Context, _ string, limit int) ([]domain.Notification, error) {
	s.limit = limit
	return s.inserted, nil
}

type chanSubscriber struct {
	received chan []byte
}

func (c *chanSubscriber) Send(payload []byte) error {
	c.received <- payload
	return nil
}

func (c *chanSubscriber) Close() {}

func newTestService(repo *notificationRepoStub, hub *ws.Hub) Service {
	svc := New(repo, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestProjectErrorStoresAndBroadcasts(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	sub := &chanSubscriber{received: make(chan []byte, 1)}
	hub.Register("org-1", sub)

	repo := &notificationRepoStub{}
	svc := newTestService(repo, hub)
	project := domain.AuthenticatedProject{ProjectID: "proj-1", OrganizationID: "org-1", ProjectName: "Web"}
	if err := svc.ProjectError(context.Background(), project, "boom"); err != nil {
		t.Fatalf("project error: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one notification, got %d", len(repo.inserted))
	}
	stored := repo.inserted[0]
	if stored.Kind != domain.NotificationKindProjectError || stored.OrganizationID != "org-1" {
		t.Fatalf("unexpected notification %+v", stored)
	}
	var payload domain.ProjectErrorPayload
	if err := json.Unmarshal(stored.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload != (domain.ProjectErrorPayload{Message: "boom", ProjectID: "proj-1", ProjectName: "Web"}) {
		t.Fatalf("unexpected payload %+v", payload)
	}

	select {
	case frame := <-sub.received:
		var streamed domain.Notification
		if err := json.Unmarshal(frame, &streamed); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if streamed.ID != stored.ID {
			t.Fatalf("expected streamed id %s, got %s", stored.ID, streamed.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected broadcast to organization stream")
	}
}

func TestNotifyPropagatesStoreErrors(t *testing.T) {
	repo := &notificationRepoStub{err: errors.New("db down")}
	svc := newTestService(repo, nil)
	if _, err := svc.Notify(context.Background(), "org-1", "x", map[string]string{}); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := svc.Notify(context.Background(), " ", "x", nil); err == nil {
		t.Fatal("expected missing organization error")
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := &notificationRepoStub{}
	svc := newTestService(repo, nil)
	if _, err := svc.List(context.Background(), "org-1", 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.limit != defaultListLimit {
		t.Fatalf("expected default limit, got %d", repo.limit)
	}
	_, _ = svc.List(context.Background(), "org-1", 10_000)
	if repo.limit != maxListLimit {
		t.Fatalf("expected clamped limit, got %d", repo.limit)
	}
}
