package capture

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/voxnote/internal/database"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
)

type countingKicker struct {
	n atomic.Int32
}

func (k *countingKicker) Kick() { k.n.Add(1) }

func setup(t *testing.T) (*store.NoteStore, string) {
	t.Helper()
	tmp := t.TempDir()
	db, err := database.Open(filepath.Join(tmp, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewNoteStore(db), filepath.Join(tmp, "recordings")
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsAudio(t *testing.T) {
	tests := map[string]bool{
		"memo.m4a":   true,
		"memo.WAV":   true,
		"a/b/c.webm": true,
		"notes.txt":  false,
		"memo":       false,
		"memo.m4a~":  false,
	}
	for path, want := range tests {
		if got := IsAudio(path); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestScanRegistersExistingFiles(t *testing.T) {
	notes, dir := setup(t)
	kick := &countingKicker{}
	w, err := NewWatcher(dir, notes, kick, slog.Default())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	writeFile(t, filepath.Join(dir, "standup.m4a"), "audio")
	writeFile(t, filepath.Join(dir, "readme.txt"), "text")
	writeFile(t, filepath.Join(dir, "empty.wav"), "")

	created, err := w.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 note, got %d", len(created))
	}
	n := created[0]
	if n.Title != "standup" || n.Status != model.NoteStatusRecorded || n.Synced {
		t.Errorf("unexpected note: %+v", n)
	}
	if n.LocalAudioPath == nil || *n.LocalAudioPath != filepath.Join(w.Dir(), "standup.m4a") {
		t.Errorf("unexpected local path: %v", n.LocalAudioPath)
	}
	if kick.n.Load() != 1 {
		t.Errorf("kicks = %d, want 1", kick.n.Load())
	}

	// second scan finds nothing new
	again, err := w.Scan()
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("rescan created %d notes", len(again))
	}
	if kick.n.Load() != 1 {
		t.Errorf("rescan should not kick, kicks = %d", kick.n.Load())
	}
}

func TestWatcherCapturesNewRecording(t *testing.T) {
	notes, dir := setup(t)
	kick := &countingKicker{}
	w, err := NewWatcher(dir, notes, kick, slog.Default(), WithSettle(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("expected error starting twice")
	}

	writeFile(t, filepath.Join(dir, "ignored.txt"), "x")
	writeFile(t, filepath.Join(dir, "call.ogg"), "audio-bytes")

	deadline := time.Now().Add(3 * time.Second)
	for kick.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recording was never captured")
		}
		time.Sleep(20 * time.Millisecond)
	}

	pending, err := notes.ListUnsynced()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Title != "call" {
		t.Errorf("unexpected pending notes: %+v", pending)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	notes, dir := setup(t)
	w, err := NewWatcher(dir, notes, nil, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("stop before start: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}
