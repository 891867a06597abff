package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/reconcile"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
)

// Event types understood by the dispatcher; anything else becomes a
// background notification.
const (
	EventNoteProcessed = "note_processed"
	EventTaskUpdated   = "task_updated"
)

// Syncer pulls fresh state from the backend.
type Syncer interface {
	FetchNote(ctx context.Context, id string) (*model.Note, error)
	Refresh(ctx context.Context) (*reconcile.Snapshot, error)
}

// Broadcaster fans a change out to the local UI.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

// Relayer forwards a notice to local web-push subscriptions.
type Relayer interface {
	Broadcast(ctx context.Context, payload push.Payload) (int, error)
}

// eventData is the loose JSON body the backend sends with events.
type eventData struct {
	NoteID string `json:"note_id"`
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Dispatcher routes backend events into the local cache, hub and push relay.
type Dispatcher struct {
	sync          Syncer
	notifications *store.NotificationStore
	hub           Broadcaster
	relay         Relayer
	logger        *slog.Logger
}

// NewDispatcher builds a dispatcher. relay may be nil when web push is not
// configured.
func NewDispatcher(sync Syncer, notifications *store.NotificationStore, hub Broadcaster, relay Relayer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sync:          sync,
		notifications: notifications,
		hub:           hub,
		relay:         relay,
		logger:        logger.With("component", "dispatcher"),
	}
}

// Handle implements Handler. Errors are logged; the stream keeps flowing.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	var data eventData
	if ev.Data != "" {
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			// plain-text payloads become the notification body
			data.Body = ev.Data
		}
	}
	d.logger.Debug("event received", "type", ev.Type, "id", ev.ID)

	switch ev.Type {
	case EventNoteProcessed:
		d.noteProcessed(ctx, data)
	case EventTaskUpdated:
		d.taskUpdated(ctx, data)
	default:
		d.background(ctx, ev.Type, data)
	}
}

func (d *Dispatcher) noteProcessed(ctx context.Context, data eventData) {
	if data.NoteID == "" {
		d.logger.Warn("note_processed event without note_id")
		return
	}
	note, err := d.sync.FetchNote(ctx, data.NoteID)
	if err != nil {
		d.logger.Error("fetch processed note", "note_id", data.NoteID, "error", err)
		return
	}

	title := data.Title
	if title == "" {
		title = "Note processed"
	}
	body := data.Body
	if body == "" && note != nil {
		body = note.Summary
		if body == "" {
			body = note.Title
		}
	}
	noteID := data.NoteID
	if _, err := d.notifications.Create(model.NotifKindNoteProcessed, title, body, &noteID); err != nil {
		d.logger.Error("store notification", "error", err)
	}

	d.hub.Broadcast(websocket.NewMessage(websocket.EntityNote, "processed", noteID, nil))
	d.relayNotice(ctx, push.Payload{Title: title, Body: body, Tag: "note-" + noteID, NoteID: &noteID})
}

func (d *Dispatcher) taskUpdated(ctx context.Context, data eventData) {
	snap, err := d.sync.Refresh(ctx)
	if err != nil {
		d.logger.Error("refresh after task update", "error", err)
		return
	}
	extra := map[string]any{}
	if snap.TaskCenter != nil {
		extra["tasks"] = len(snap.TaskCenter.Tasks)
	}
	d.hub.Broadcast(websocket.NewMessage(websocket.EntityTask, "updated", data.TaskID, extra))
}

func (d *Dispatcher) background(ctx context.Context, kind string, data eventData) {
	title := data.Title
	if title == "" {
		title = kind
	}
	var noteID *string
	if data.NoteID != "" {
		noteID = &data.NoteID
	}

	n, err := d.notifications.Create(model.NotifKindBackground, title, data.Body, noteID)
	if err != nil {
		d.logger.Error("store notification", "error", err)
		return
	}

	d.hub.Broadcast(websocket.NewMessage(websocket.EntityNotification, "created", strconv.FormatInt(n.ID, 10), map[string]any{"kind": kind}))
	d.relayNotice(ctx, push.Payload{Title: title, Body: data.Body, NoteID: noteID})
}

func (d *Dispatcher) relayNotice(ctx context.Context, p push.Payload) {
	if d.relay == nil {
		return
	}
	if _, err := d.relay.Broadcast(ctx, p); err != nil {
		d.logger.Warn("relay push notice", "error", err)
	}
}
