package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/voxnote/internal/backup"
	"github.com/dukerupert/voxnote/internal/database"
	"github.com/dukerupert/voxnote/internal/handler"
	"github.com/dukerupert/voxnote/internal/middleware"
	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/store"
	ws "github.com/dukerupert/voxnote/internal/websocket"
)

// Config carries the collaborators the local API drives. Relay is nil when
// web push is not configured.
type Config struct {
	AudioDir   string
	Token      string
	Reconciler handler.SyncStatus
	Sync       handler.Kicker
	Backups    *backup.Manager
	Push       *push.Service
	Relay      *push.Relay
	Tokens     handler.TokenRefresher
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	token         string
	noteH         *handler.NoteHandler
	taskH         *handler.TaskHandler
	dashboardH    *handler.DashboardHandler
	notificationH *handler.NotificationHandler
	syncH         *handler.SyncHandler
	pushH         *handler.PushHandler
	backupH       *handler.BackupHandler
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, hub *ws.Hub, cfg Config, logger *slog.Logger) *Server {
	noteStore := store.NewNoteStore(db)
	taskStore := store.NewTaskStore(db)
	notificationStore := store.NewNotificationStore(db)
	settingsStore := store.NewSettingsStore(db)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	var (
		vapidKey string
		relay    handler.Relayer
	)
	if cfg.Push != nil && cfg.Relay != nil {
		vapidKey = cfg.Push.VAPIDPublicKey()
		relay = cfg.Relay
	}

	s := &Server{
		db:            db,
		hub:           hub,
		token:         cfg.Token,
		noteH:         handler.NewNoteHandler(noteStore, taskStore, cfg.AudioDir, cfg.Sync, hub, logger.With("component", "note")),
		taskH:         handler.NewTaskHandler(taskStore, cfg.Sync, hub, logger.With("component", "task")),
		dashboardH:    handler.NewDashboardHandler(noteStore, taskStore, notificationStore, settingsStore, logger.With("component", "dashboard")),
		notificationH: handler.NewNotificationHandler(notificationStore, hub, logger.With("component", "notification")),
		syncH:         handler.NewSyncHandler(cfg.Reconciler, cfg.Sync, noteStore, taskStore, settingsStore, logger.With("component", "sync")),
		pushH:         handler.NewPushHandler(pushStore, vapidKey, relay, cfg.Tokens, logger.With("component", "push_handler")),
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}
	if cfg.Backups != nil {
		s.backupH = handler.NewBackupHandler(cfg.Backups, backupStore, hub, logger.With("component", "backup_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the change-event hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", middleware.RequireToken(s.token)(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int64  `json:"schema_version,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(healthResponse{Status: "unavailable"})
		return
	}
	version, err := database.Version(s.db)
	if err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(healthResponse{Status: "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", SchemaVersion: version})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ClientIP, 6, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	// Notes
	mux.HandleFunc("GET /api/notes", s.noteH.List)
	mux.HandleFunc("POST /api/notes", s.noteH.Create)
	mux.HandleFunc("GET /api/notes/{id}", s.noteH.Get)
	mux.HandleFunc("PATCH /api/notes/{id}", s.noteH.UpdateEnrichment)
	mux.HandleFunc("DELETE /api/notes/{id}", s.noteH.Delete)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("PATCH /api/tasks/{id}/status", s.taskH.SetStatus)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)

	mux.HandleFunc("GET /api/dashboard", s.dashboardH.Get)

	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)

	// Sync
	mux.HandleFunc("POST /api/sync", s.rateLimitedHandler(s.syncH.Kick))
	mux.HandleFunc("GET /api/sync/status", s.syncH.Status)

	// Push
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	mux.HandleFunc("PUT /api/push/token", s.pushH.RefreshToken)

	// Backups
	if s.backupH != nil {
		mux.HandleFunc("GET /api/backups", s.backupH.List)
		mux.HandleFunc("POST /api/backups", s.rateLimitedHandler(s.backupH.Create))
		mux.HandleFunc("PUT /api/backups/passphrase", s.backupH.SetPassphrase)
		mux.HandleFunc("GET /api/backups/{id}/download", s.backupH.Download)
	}
}
