package stream

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dukerupert/voxnote/internal/database"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/reconcile"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
)

type fakeSyncer struct {
	summary   string
	fetched   []string
	refreshes int
	err       error
}

func (f *fakeSyncer) FetchNote(_ context.Context, id string) (*model.Note, error) {
	f.fetched = append(f.fetched, id)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Note{ID: id, Title: "Standup", Summary: f.summary}, nil
}

func (f *fakeSyncer) Refresh(context.Context) (*reconcile.Snapshot, error) {
	f.refreshes++
	if f.err != nil {
		return nil, f.err
	}
	return &reconcile.Snapshot{TaskCenter: &model.TaskCenter{Tasks: []model.Task{{ID: "t-1"}}}}, nil
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *recordingHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

type recordingRelay struct {
	payloads []push.Payload
}

func (r *recordingRelay) Broadcast(_ context.Context, p push.Payload) (int, error) {
	r.payloads = append(r.payloads, p)
	return 1, nil
}

func newDispatcher(t *testing.T, syncer Syncer, relay Relayer) (*Dispatcher, *store.NotificationStore, *recordingHub) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	notifications := store.NewNotificationStore(db)
	hub := &recordingHub{}
	return NewDispatcher(syncer, notifications, hub, relay, slog.Default()), notifications, hub
}

func TestDispatchNoteProcessed(t *testing.T) {
	syncer := &fakeSyncer{summary: "Launch moved to Friday"}
	relay := &recordingRelay{}
	d, notifications, hub := newDispatcher(t, syncer, relay)

	d.Handle(context.Background(), Event{Type: EventNoteProcessed, Data: `{"note_id":"n-1"}`})

	if len(syncer.fetched) != 1 || syncer.fetched[0] != "n-1" {
		t.Fatalf("fetched = %v, want [n-1]", syncer.fetched)
	}
	list, err := notifications.List(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Kind != model.NotifKindNoteProcessed || list[0].Body != "Launch moved to Friday" {
		t.Errorf("unexpected notifications: %+v", list)
	}
	if len(hub.msgs) != 1 || hub.msgs[0].Type != "note_processed" || hub.msgs[0].ID != "n-1" {
		t.Errorf("unexpected hub messages: %+v", hub.msgs)
	}
	if len(relay.payloads) != 1 {
		t.Errorf("expected one relayed push, got %d", len(relay.payloads))
	}
}

func TestDispatchNoteProcessedTitleFallback(t *testing.T) {
	d, notifications, _ := newDispatcher(t, &fakeSyncer{}, nil)

	d.Handle(context.Background(), Event{Type: EventNoteProcessed, Data: `{"note_id":"n-2"}`})

	list, _ := notifications.List(10)
	if len(list) != 1 || list[0].Body != "Standup" {
		t.Errorf("notifications = %+v, want body from note title", list)
	}
}

func TestDispatchNoteProcessedFetchFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("offline")}
	d, notifications, hub := newDispatcher(t, syncer, nil)

	d.Handle(context.Background(), Event{Type: EventNoteProcessed, Data: `{"note_id":"n-1"}`})

	if n, _ := notifications.UnreadCount(); n != 0 {
		t.Errorf("expected no notification on fetch failure, got %d", n)
	}
	if len(hub.msgs) != 0 {
		t.Errorf("expected no broadcast, got %+v", hub.msgs)
	}
}

func TestDispatchTaskUpdatedRefreshes(t *testing.T) {
	syncer := &fakeSyncer{}
	d, notifications, hub := newDispatcher(t, syncer, nil)

	d.Handle(context.Background(), Event{Type: EventTaskUpdated, Data: `{"task_id":"t-1"}`})

	if syncer.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", syncer.refreshes)
	}
	if n, _ := notifications.UnreadCount(); n != 0 {
		t.Errorf("task updates should not create notifications, got %d", n)
	}
	if len(hub.msgs) != 1 || hub.msgs[0].Type != "task_updated" || hub.msgs[0].Extra["tasks"] != 1 {
		t.Errorf("unexpected hub messages: %+v", hub.msgs)
	}
}

func TestDispatchOtherBecomesNotification(t *testing.T) {
	syncer := &fakeSyncer{}
	relay := &recordingRelay{}
	d, notifications, hub := newDispatcher(t, syncer, relay)

	d.Handle(context.Background(), Event{Type: "weekly_digest", Data: "Your week in notes"})

	list, err := notifications.List(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
	if list[0].Kind != model.NotifKindBackground || list[0].Title != "weekly_digest" || list[0].Body != "Your week in notes" {
		t.Errorf("unexpected notification: %+v", list[0])
	}
	if len(hub.msgs) != 1 || hub.msgs[0].Entity != websocket.EntityNotification {
		t.Errorf("unexpected hub messages: %+v", hub.msgs)
	}
	if len(relay.payloads) != 1 || relay.payloads[0].Body != "Your week in notes" {
		t.Errorf("unexpected relay payloads: %+v", relay.payloads)
	}
	if len(syncer.fetched) != 0 || syncer.refreshes != 0 {
		t.Error("background events should not trigger sync")
	}
}
