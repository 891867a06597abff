package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/voxnote/internal/api"
	"github.com/dukerupert/voxnote/internal/backup"
	"github.com/dukerupert/voxnote/internal/database"
	"github.com/dukerupert/voxnote/internal/reconcile"
	"github.com/dukerupert/voxnote/internal/store"
)

// app holds the collaborators shared by every command.
type app struct {
	db            *sql.DB
	notes         *store.NoteStore
	tasks         *store.TaskStore
	notifications *store.NotificationStore
	settings      *store.SettingsStore
	pushSubs      *store.PushStore
	backups       *store.BackupStore
	client        *api.Client
	reconciler    *reconcile.Reconciler
}

func openApp() (*app, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		db:            db,
		notes:         store.NewNoteStore(db),
		tasks:         store.NewTaskStore(db),
		notifications: store.NewNotificationStore(db),
		settings:      store.NewSettingsStore(db),
		pushSubs:      store.NewPushStore(db),
		backups:       store.NewBackupStore(db),
	}

	token, err := a.settings.Get(store.KeyAuthToken)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.client = api.NewClient(cfg.APIBaseURL, api.WithToken(token))
	a.reconciler = reconcile.New(a.client, a.notes, a.tasks, a.settings, logger.With("component", "reconcile"))
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// registered reports whether the device holds a backend token.
func (a *app) registered() bool {
	return a.client.Token() != ""
}

func (a *app) backupManager(callback backup.StatusCallback) *backup.Manager {
	return backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		},
		DBPath: cfg.DBPath,
	}, a.db, a.backups, a.settings, callback, logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
