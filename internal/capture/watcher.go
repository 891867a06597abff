// Package capture turns audio files dropped into the recordings directory
// into pending notes.
package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without writes before it is
// treated as a finished recording.
const DefaultSettle = 2 * time.Second

var audioExts = map[string]bool{
	".m4a":  true,
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".webm": true,
	".aac":  true,
}

// IsAudio reports whether path has a recognised recording extension.
func IsAudio(path string) bool {
	return audioExts[strings.ToLower(filepath.Ext(path))]
}

// Kicker is poked after a new note is captured.
type Kicker interface {
	Kick()
}

// Watcher registers recordings as they appear in a directory.
type Watcher struct {
	dir    string
	notes  *store.NoteStore
	kick   Kicker
	settle time.Duration
	logger *slog.Logger

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// NewWatcher creates the directory if needed. kick may be nil.
func NewWatcher(dir string, notes *store.NoteStore, kick Kicker, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve recordings dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	w := &Watcher{
		dir:     abs,
		notes:   notes,
		kick:    kick,
		settle:  DefaultSettle,
		logger:  logger.With("component", "capture"),
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the absolute recordings directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Scan registers audio files already in the directory that no note
// references yet. It returns the notes it created.
func (w *Watcher) Scan() ([]model.Note, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}

	var created []model.Note
	for _, e := range entries {
		if e.IsDir() || !IsAudio(e.Name()) {
			continue
		}
		n, err := w.register(filepath.Join(w.dir, e.Name()))
		if err != nil {
			return created, err
		}
		if n != nil {
			created = append(created, *n)
		}
	}
	if len(created) > 0 && w.kick != nil {
		w.kick.Kick()
	}
	return created, nil
}

// register creates a pending note for path unless one already exists.
func (w *Watcher) register(path string) (*model.Note, error) {
	existing, err := w.notes.GetByLocalPath(path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat recording: %w", err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	n, err := w.notes.Create(title, info.ModTime(), &path)
	if err != nil {
		return nil, err
	}
	w.logger.Info("recording captured", "note_id", n.ID, "file", filepath.Base(path), "bytes", info.Size())
	return n, nil
}

// Start begins watching the directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.loop()

	w.logger.Info("watching recordings", "dir", w.dir)
	return nil
}

// Stop stops watching and drops recordings that have not settled yet.
// Those are picked up by the next Scan.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !IsAudio(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.settled(path) })
}

func (w *Watcher) settled(path string) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	n, err := w.register(path)
	if err != nil {
		w.logger.Error("register recording", "file", filepath.Base(path), "error", err)
		return
	}
	if n != nil && w.kick != nil {
		w.kick.Kick()
	}
}
