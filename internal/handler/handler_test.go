package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/voxnote/internal/backup"
	"github.com/dukerupert/voxnote/internal/database"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/reconcile"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/dukerupert/voxnote/internal/websocket"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *fakeHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *fakeHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeKicker struct{ n int }

func (k *fakeKicker) Kick() { k.n++ }

func serve(t *testing.T, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func strPtr(s string) *string { return &s }

// mirrorTask caches a task the way a task-center refresh would.
func mirrorTask(t *testing.T, ts *store.TaskStore, id string, noteID *string, desc string) *model.Task {
	t.Helper()
	if err := ts.Upsert(model.Task{ID: id, NoteID: noteID, Description: desc, Priority: model.TaskPriorityLow}); err != nil {
		t.Fatalf("upsert task: %v", err)
	}
	task, err := ts.GetByID(id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task
}

// Notes

type noteFixture struct {
	notes *store.NoteStore
	tasks *store.TaskStore
	hub   *fakeHub
	kick  *fakeKicker
	dir   string
	h     *NoteHandler
}

func newNoteFixture(t *testing.T) *noteFixture {
	db := openTestDB(t)
	f := &noteFixture{
		notes: store.NewNoteStore(db),
		tasks: store.NewTaskStore(db),
		hub:   &fakeHub{},
		kick:  &fakeKicker{},
		dir:   filepath.Join(t.TempDir(), "recordings"),
	}
	f.h = NewNoteHandler(f.notes, f.tasks, f.dir, f.kick, f.hub, testLogger())
	return f
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("audio", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestNoteCreateImportsRecording(t *testing.T) {
	f := newNoteFixture(t)

	body, ctype := multipartBody(t, "Morning Thoughts.m4a", []byte("fake-aac"), map[string]string{
		"timestamp": "2026-03-01T08:00:00Z",
	})
	req := httptest.NewRequest("POST", "/api/notes", body)
	req.Header.Set("Content-Type", ctype)
	rec := serve(t, "POST /api/notes", f.h.Create, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	note := decode[model.Note](t, rec)
	if note.Title != "Morning Thoughts" {
		t.Errorf("title = %q, want filename stem", note.Title)
	}
	if note.Synced || note.Status != model.NoteStatusRecorded {
		t.Errorf("note should be pending: synced=%v status=%s", note.Synced, note.Status)
	}
	if !note.Timestamp.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %s", note.Timestamp)
	}
	if note.LocalAudioPath == nil {
		t.Fatal("expected local audio path")
	}
	data, err := os.ReadFile(*note.LocalAudioPath)
	if err != nil || string(data) != "fake-aac" {
		t.Errorf("stored recording = %q, %v", data, err)
	}
	if filepath.Ext(*note.LocalAudioPath) != ".m4a" {
		t.Errorf("stored path %q lost its extension", *note.LocalAudioPath)
	}

	entries, _ := os.ReadDir(f.dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".partial") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
	if f.kick.n != 1 {
		t.Errorf("sync kicked %d times, want 1", f.kick.n)
	}
	if got := f.hub.types(); len(got) != 1 || got[0] != "note_created" {
		t.Errorf("broadcasts = %v", got)
	}
}

func TestNoteCreateValidation(t *testing.T) {
	f := newNoteFixture(t)

	tests := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
	}{
		{"missing file", "", nil, map[string]string{"title": "x"}},
		{"unsupported format", "notes.txt", []byte("hello"), nil},
		{"bad timestamp", "a.wav", []byte("RIFF"), map[string]string{"timestamp": "yesterday"}},
		{"empty file", "a.wav", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ctype := multipartBody(t, tt.filename, tt.data, tt.fields)
			req := httptest.NewRequest("POST", "/api/notes", body)
			req.Header.Set("Content-Type", ctype)
			rec := serve(t, "POST /api/notes", f.h.Create, req)
			if rec.Code == http.StatusCreated {
				t.Fatalf("expected failure, got 201")
			}
		})
	}

	notes, _ := f.notes.List()
	if len(notes) != 0 {
		t.Errorf("expected no notes, got %d", len(notes))
	}
}

func TestNoteGetIncludesTasksAndDeleted(t *testing.T) {
	f := newNoteFixture(t)

	n, err := f.notes.Create("Call", time.Now(), strPtr("/rec/call.wav"))
	if err != nil {
		t.Fatal(err)
	}
	mirrorTask(t, f.tasks, "t-email", &n.ID, "Email Sam")

	rec := serve(t, "GET /api/notes/{id}", f.h.Get, httptest.NewRequest("GET", "/api/notes/"+n.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	detail := decode[noteDetail](t, rec)
	if len(detail.Tasks) != 1 || detail.Tasks[0].Description != "Email Sam" {
		t.Errorf("tasks = %+v", detail.Tasks)
	}

	rec = serve(t, "DELETE /api/notes/{id}", f.h.Delete, httptest.NewRequest("DELETE", "/api/notes/"+n.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = serve(t, "GET /api/notes", f.h.List, httptest.NewRequest("GET", "/api/notes", nil))
	if list := decode[[]model.Note](t, rec); len(list) != 0 {
		t.Errorf("deleted note still listed: %+v", list)
	}

	rec = serve(t, "GET /api/notes/{id}", f.h.Get, httptest.NewRequest("GET", "/api/notes/"+n.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("deleted note should be retrievable, status = %d", rec.Code)
	}
	if detail := decode[noteDetail](t, rec); !detail.Deleted {
		t.Error("expected deleted flag")
	}

	rec = serve(t, "DELETE /api/notes/{id}", f.h.Delete, httptest.NewRequest("DELETE", "/api/notes/"+n.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestNoteGetNotFound(t *testing.T) {
	f := newNoteFixture(t)
	rec := serve(t, "GET /api/notes/{id}", f.h.Get, httptest.NewRequest("GET", "/api/notes/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestNoteUpdateEnrichment(t *testing.T) {
	f := newNoteFixture(t)
	n, _ := f.notes.Create("Draft", time.Now(), strPtr("/rec/d.wav"))

	body := strings.NewReader(`{"title":"Renamed","semantic_analysis":{"topics":["work"]}}`)
	rec := serve(t, "PATCH /api/notes/{id}", f.h.UpdateEnrichment, httptest.NewRequest("PATCH", "/api/notes/"+n.ID, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[model.Note](t, rec)
	if got.Title != "Renamed" || got.Status != model.NoteStatusRecorded {
		t.Errorf("note = %+v", got)
	}
	if !strings.Contains(string(got.SemanticAnalysis), "work") {
		t.Errorf("semantic_analysis = %s", got.SemanticAnalysis)
	}

	body = strings.NewReader(`{"status":"bogus"}`)
	rec = serve(t, "PATCH /api/notes/{id}", f.h.UpdateEnrichment, httptest.NewRequest("PATCH", "/api/notes/"+n.ID, body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status accepted: %d", rec.Code)
	}
}

// Tasks

func TestTaskSetStatus(t *testing.T) {
	db := openTestDB(t)
	ts := store.NewTaskStore(db)
	hub := &fakeHub{}
	kick := &fakeKicker{}
	h := NewTaskHandler(ts, kick, hub, testLogger())

	task := mirrorTask(t, ts, "t-flights", nil, "Book flights")

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"invalid json", task.ID, `{`, http.StatusBadRequest},
		{"unknown status", task.ID, `{"status":"archived"}`, http.StatusBadRequest},
		{"missing task", "nope", `{"status":"done"}`, http.StatusNotFound},
		{"done", task.ID, `{"status":"done"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("PATCH", "/api/tasks/"+tt.id+"/status", strings.NewReader(tt.body))
			rec := serve(t, "PATCH /api/tasks/{id}/status", h.SetStatus, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	got, _ := ts.GetByID(task.ID)
	if !got.Done || got.Status != model.TaskStatusDone || got.Synced {
		t.Errorf("task = %+v, want done and unsynced", got)
	}
	if kick.n != 1 {
		t.Errorf("kicks = %d, want 1", kick.n)
	}
	if types := hub.types(); len(types) != 1 || types[0] != "task_updated" {
		t.Errorf("broadcasts = %v", types)
	}
}

func TestTaskListAndDelete(t *testing.T) {
	db := openTestDB(t)
	ns := store.NewNoteStore(db)
	ts := store.NewTaskStore(db)
	h := NewTaskHandler(ts, nil, nil, testLogger())

	n, _ := ns.Create("Plan", time.Now(), nil)
	a := mirrorTask(t, ts, "t-a", &n.ID, "A")
	b := mirrorTask(t, ts, "t-b", nil, "B")
	ts.SetStatus(b.ID, model.TaskStatusInProgress)

	rec := serve(t, "GET /api/tasks", h.List, httptest.NewRequest("GET", "/api/tasks?note_id="+n.ID, nil))
	if got := decode[[]model.Task](t, rec); len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("by note = %+v", got)
	}

	rec = serve(t, "GET /api/tasks", h.List, httptest.NewRequest("GET", "/api/tasks?status=in_progress", nil))
	if got := decode[[]model.Task](t, rec); len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("by status = %+v", got)
	}

	rec = serve(t, "GET /api/tasks", h.List, httptest.NewRequest("GET", "/api/tasks?status=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d", rec.Code)
	}

	rec = serve(t, "DELETE /api/tasks/{id}", h.Delete, httptest.NewRequest("DELETE", "/api/tasks/"+a.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = serve(t, "GET /api/tasks", h.List, httptest.NewRequest("GET", "/api/tasks", nil))
	if got := decode[[]model.Task](t, rec); len(got) != 1 {
		t.Errorf("after delete = %+v", got)
	}
}

// Notifications and dashboard

func TestNotificationListAndMarkRead(t *testing.T) {
	db := openTestDB(t)
	ns := store.NewNotificationStore(db)
	hub := &fakeHub{}
	h := NewNotificationHandler(ns, hub, testLogger())

	n, err := ns.Create(model.NotifKindBackground, "Weekly digest", "3 notes processed", nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := serve(t, "GET /api/notifications", h.List, httptest.NewRequest("GET", "/api/notifications", nil))
	resp := decode[struct {
		Notifications []model.Notification `json:"notifications"`
		Unread        int                  `json:"unread"`
	}](t, rec)
	if len(resp.Notifications) != 1 || resp.Unread != 1 {
		t.Errorf("list = %+v", resp)
	}

	path := "/api/notifications/" + jsonID(n.ID) + "/read"
	rec = serve(t, "POST /api/notifications/{id}/read", h.MarkRead, httptest.NewRequest("POST", path, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read = %d", rec.Code)
	}
	if c, _ := ns.UnreadCount(); c != 0 {
		t.Errorf("unread = %d after mark read", c)
	}

	rec = serve(t, "POST /api/notifications/{id}/read", h.MarkRead, httptest.NewRequest("POST", "/api/notifications/999/read", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing notification = %d", rec.Code)
	}
	rec = serve(t, "POST /api/notifications/{id}/read", h.MarkRead, httptest.NewRequest("POST", "/api/notifications/abc/read", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", rec.Code)
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestDashboardStats(t *testing.T) {
	db := openTestDB(t)
	ns := store.NewNoteStore(db)
	ts := store.NewTaskStore(db)
	nfs := store.NewNotificationStore(db)
	ss := store.NewSettingsStore(db)
	h := NewDashboardHandler(ns, ts, nfs, ss, testLogger())

	ns.Create("pending", time.Now(), strPtr("/rec/a.wav"))
	done, _ := ns.Create("done", time.Now(), strPtr("/rec/b.wav"))
	ns.MarkSynced(done.ID)
	ns.UpdateEnrichment(done.ID, model.Enrichment{Title: "done", Status: model.NoteStatusProcessed})

	mirrorTask(t, ts, "t1", nil, "t1")
	t2 := mirrorTask(t, ts, "t2", nil, "t2")
	ts.SetStatus(t2.ID, model.TaskStatusDone)
	nfs.Create(model.NotifKindBackground, "hi", "", nil)
	ss.Touch(store.KeyLastRefreshAt)

	rec := serve(t, "GET /api/dashboard", h.Get, httptest.NewRequest("GET", "/api/dashboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[dashboardResponse](t, rec)
	s := resp.Stats
	if s.TotalNotes != 2 || s.ProcessedNotes != 1 || s.PendingUploads != 1 {
		t.Errorf("note stats = %+v", s)
	}
	if s.PendingTasks != 1 || s.CompletedTasks != 1 || s.InProgressTasks != 0 {
		t.Errorf("task stats = %+v", s)
	}
	if s.UnreadNotifications != 1 {
		t.Errorf("unread = %d", s.UnreadNotifications)
	}
	if resp.LastRefreshAt == nil {
		t.Error("expected last_refresh_at")
	}
	if len(resp.Notes) != 2 {
		t.Errorf("recent notes = %d", len(resp.Notes))
	}
}

// Sync

type fakeSyncStatus struct{ s reconcile.Status }

func (f fakeSyncStatus) Status() reconcile.Status { return f.s }

func TestSyncKickAndStatus(t *testing.T) {
	db := openTestDB(t)
	ns := store.NewNoteStore(db)
	ts := store.NewTaskStore(db)
	ss := store.NewSettingsStore(db)
	kick := &fakeKicker{}
	status := fakeSyncStatus{reconcile.Status{
		LastResult: reconcile.Result{Pending: 2, Uploaded: 2, BatchJobID: "job-1"},
	}}
	h := NewSyncHandler(status, kick, ns, ts, ss, testLogger())

	rec := serve(t, "POST /api/sync", h.Kick, httptest.NewRequest("POST", "/api/sync", nil))
	if rec.Code != http.StatusAccepted || kick.n != 1 {
		t.Fatalf("kick: status=%d kicks=%d", rec.Code, kick.n)
	}

	ns.Create("a", time.Now(), strPtr("/rec/a.wav"))
	mirrorTask(t, ts, "t", nil, "t")
	ts.SetStatus("t", model.TaskStatusInProgress)
	ss.Touch(store.KeyLastSyncAt)

	rec = serve(t, "GET /api/sync/status", h.Status, httptest.NewRequest("GET", "/api/sync/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[syncStatusResponse](t, rec)
	if resp.PendingNotes != 1 || resp.PendingTasks != 1 {
		t.Errorf("pending = %d notes, %d tasks", resp.PendingNotes, resp.PendingTasks)
	}
	if resp.LastResult.BatchJobID != "job-1" {
		t.Errorf("last result = %+v", resp.LastResult)
	}
	if resp.LastSyncAt == nil || resp.LastRefreshAt != nil {
		t.Errorf("timestamps: sync=%v refresh=%v", resp.LastSyncAt, resp.LastRefreshAt)
	}
}

// Push

type fakeRelay struct{ payloads []push.Payload }

func (r *fakeRelay) Broadcast(ctx context.Context, p push.Payload) (int, error) {
	r.payloads = append(r.payloads, p)
	return 2, nil
}

type fakeTokens struct {
	tokens []string
	err    error
}

func (f *fakeTokens) Refresh(ctx context.Context, token string) error {
	f.tokens = append(f.tokens, token)
	return f.err
}

func TestPushDisabled(t *testing.T) {
	h := NewPushHandler(store.NewPushStore(openTestDB(t)), "", nil, &fakeTokens{}, testLogger())

	rec := serve(t, "GET /api/push/vapid-key", h.GetVAPIDKey, httptest.NewRequest("GET", "/api/push/vapid-key", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("vapid-key = %d, want 404", rec.Code)
	}
	body := strings.NewReader(`{"endpoint":"https://push.example/1","p256dh":"k","auth":"a"}`)
	rec = serve(t, "POST /api/push/subscribe", h.Subscribe, httptest.NewRequest("POST", "/api/push/subscribe", body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("subscribe = %d, want 404", rec.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	ps := store.NewPushStore(openTestDB(t))
	relay := &fakeRelay{}
	h := NewPushHandler(ps, "BPUBLIC", relay, &fakeTokens{}, testLogger())

	rec := serve(t, "GET /api/push/vapid-key", h.GetVAPIDKey, httptest.NewRequest("GET", "/api/push/vapid-key", nil))
	if got := decode[map[string]string](t, rec); got["public_key"] != "BPUBLIC" {
		t.Errorf("vapid key = %v", got)
	}

	body := strings.NewReader(`{"endpoint":"https://push.example/1"}`)
	rec = serve(t, "POST /api/push/subscribe", h.Subscribe, httptest.NewRequest("POST", "/api/push/subscribe", body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete subscription = %d", rec.Code)
	}

	body = strings.NewReader(`{"endpoint":"https://push.example/1","p256dh":"k","auth":"a","device_name":"laptop"}`)
	rec = serve(t, "POST /api/push/subscribe", h.Subscribe, httptest.NewRequest("POST", "/api/push/subscribe", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe = %d", rec.Code)
	}
	sub := decode[model.PushSubscription](t, rec)

	rec = serve(t, "GET /api/push/subscriptions", h.ListSubscriptions, httptest.NewRequest("GET", "/api/push/subscriptions", nil))
	if subs := decode[[]model.PushSubscription](t, rec); len(subs) != 1 || subs[0].DeviceName != "laptop" {
		t.Errorf("subscriptions = %+v", subs)
	}

	rec = serve(t, "POST /api/push/test", h.TestNotification, httptest.NewRequest("POST", "/api/push/test", nil))
	if got := decode[map[string]int](t, rec); got["sent"] != 2 || len(relay.payloads) != 1 {
		t.Errorf("test push = %v", got)
	}

	rec = serve(t, "DELETE /api/push/subscriptions/{id}", h.Unsubscribe,
		httptest.NewRequest("DELETE", "/api/push/subscriptions/"+jsonID(sub.ID), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe = %d", rec.Code)
	}
	if subs, _ := ps.List(); len(subs) != 0 {
		t.Errorf("subscription not removed: %+v", subs)
	}
}

func TestPushRefreshToken(t *testing.T) {
	tokens := &fakeTokens{}
	h := NewPushHandler(store.NewPushStore(openTestDB(t)), "", nil, tokens, testLogger())

	rec := serve(t, "PUT /api/push/token", h.RefreshToken, httptest.NewRequest("PUT", "/api/push/token", strings.NewReader(`{"token":" "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank token = %d", rec.Code)
	}

	rec = serve(t, "PUT /api/push/token", h.RefreshToken, httptest.NewRequest("PUT", "/api/push/token", strings.NewReader(`{"token":"fcm-123"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("refresh = %d", rec.Code)
	}
	if len(tokens.tokens) != 1 || tokens.tokens[0] != "fcm-123" {
		t.Errorf("tokens = %v", tokens.tokens)
	}

	tokens.err = errors.New("backend down")
	rec = serve(t, "PUT /api/push/token", h.RefreshToken, httptest.NewRequest("PUT", "/api/push/token", strings.NewReader(`{"token":"fcm-456"}`)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("failed sync = %d, want 502", rec.Code)
	}
}

// Backups

type fakeBackups struct {
	passphrase string
	runErr     error
	run        *model.Backup
	data       map[int64][]byte
}

func (f *fakeBackups) Status() backup.Status { return backup.Status{State: backup.StateIdle} }
func (f *fakeBackups) HasPassphrase() bool   { return f.passphrase != "" }

func (f *fakeBackups) SetPassphrase(p string) error {
	if p == "" {
		return backup.ErrNoPassphrase
	}
	f.passphrase = p
	return nil
}

func (f *fakeBackups) RunNow(ctx context.Context, p string) (*model.Backup, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	if p == "" {
		p = f.passphrase
	}
	if p == "" {
		return nil, backup.ErrNoPassphrase
	}
	return f.run, nil
}

func (f *fakeBackups) Download(ctx context.Context, id int64) (io.ReadCloser, int64, error) {
	data, ok := f.data[id]
	if !ok {
		return nil, 0, backup.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func TestBackupCreate(t *testing.T) {
	bs := store.NewBackupStore(openTestDB(t))
	mgr := &fakeBackups{run: &model.Backup{ID: 7, Filename: "cache.db.enc", Status: model.BackupStatusCompleted}}
	hub := &fakeHub{}
	h := NewBackupHandler(mgr, bs, hub, testLogger())

	rec := serve(t, "POST /api/backups", h.Create, httptest.NewRequest("POST", "/api/backups", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no passphrase = %d, want 400", rec.Code)
	}

	rec = serve(t, "PUT /api/backups/passphrase", h.SetPassphrase,
		httptest.NewRequest("PUT", "/api/backups/passphrase", strings.NewReader(`{"passphrase":"hunter2"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set passphrase = %d", rec.Code)
	}

	rec = serve(t, "POST /api/backups", h.Create, httptest.NewRequest("POST", "/api/backups", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.Backup](t, rec); got.ID != 7 {
		t.Errorf("backup = %+v", got)
	}
	if types := hub.types(); len(types) != 1 || types[0] != "backup_created" {
		t.Errorf("broadcasts = %v", types)
	}

	mgr.runErr = backup.ErrDisabled
	rec = serve(t, "POST /api/backups", h.Create, httptest.NewRequest("POST", "/api/backups", strings.NewReader(`{"passphrase":"x"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled = %d, want 503", rec.Code)
	}
}

func TestBackupListAndDownload(t *testing.T) {
	bs := store.NewBackupStore(openTestDB(t))
	rec0, err := bs.Create("cache-1.db.enc", "voxnote/dev/cache-1.db.enc")
	if err != nil {
		t.Fatal(err)
	}
	mgr := &fakeBackups{data: map[int64][]byte{rec0.ID: []byte("VXB1sealed")}}
	h := NewBackupHandler(mgr, bs, nil, testLogger())

	rec := serve(t, "GET /api/backups", h.List, httptest.NewRequest("GET", "/api/backups", nil))
	resp := decode[struct {
		Status        backup.Status  `json:"status"`
		HasPassphrase bool           `json:"has_passphrase"`
		Backups       []model.Backup `json:"backups"`
	}](t, rec)
	if len(resp.Backups) != 1 || resp.Status.State != backup.StateIdle || resp.HasPassphrase {
		t.Errorf("list = %+v", resp)
	}

	path := "/api/backups/" + jsonID(rec0.ID) + "/download"
	rec = serve(t, "GET /api/backups/{id}/download", h.Download, httptest.NewRequest("GET", path, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "VXB1sealed" {
		t.Fatalf("download = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "10" {
		t.Errorf("content-length = %q", rec.Header().Get("Content-Length"))
	}

	rec = serve(t, "GET /api/backups/{id}/download", h.Download, httptest.NewRequest("GET", "/api/backups/999/download", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing backup = %d", rec.Code)
	}
}
