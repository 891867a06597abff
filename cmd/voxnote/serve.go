package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dukerupert/voxnote/internal/backup"
	"github.com/dukerupert/voxnote/internal/capture"
	"github.com/dukerupert/voxnote/internal/push"
	"github.com/dukerupert/voxnote/internal/reconcile"
	"github.com/dukerupert/voxnote/internal/server"
	"github.com/dukerupert/voxnote/internal/stream"
	ws "github.com/dukerupert/voxnote/internal/websocket"
	"github.com/dukerupert/voxnote/internal/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background sync, recording watcher, and local API",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			fatal("serve", err)
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "local API listen address")
	serveCmd.Flags().String("token", "", "bearer token required by the local API")
	boundFlags["listen"] = "listen_addr"
	boundFlags["token"] = "local_api_token"
	rootCmd.AddCommand(serveCmd)
}

// whenRegistered skips a remote job until the device has a backend token.
func whenRegistered(a *app, name string, job worker.Job) worker.Job {
	return func(ctx context.Context) error {
		if !a.registered() {
			logger.Debug("device not registered, skipping", "job", name)
			return nil
		}
		return job(ctx)
	}
}

func serve() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	workerLogger := logger.With("component", "worker")
	hub := ws.NewHub(logger.With("component", "websocket"))

	a.reconciler.OnStatus(func(s reconcile.Status) {
		action := "completed"
		if s.LastError != "" {
			action = "failed"
		}
		hub.Broadcast(ws.NewMessage(ws.EntitySync, action, s.LastResult.BatchJobID, map[string]any{
			"uploaded": s.LastResult.Uploaded,
			"pending":  s.LastResult.Pending,
			"skipped":  s.LastResult.Skipped,
			"error":    s.LastError,
		}))
	})

	triggerCfg := worker.Config{Interval: cfg.SyncInterval, MaxRetries: cfg.SyncRetries}
	syncTrigger := worker.NewTrigger("sync", whenRegistered(a, "sync", a.reconciler.Run), triggerCfg, workerLogger)
	refreshTrigger := worker.NewTrigger("refresh", whenRegistered(a, "refresh", func(ctx context.Context) error {
		_, err := a.reconciler.Refresh(ctx)
		return err
	}), triggerCfg, workerLogger)

	backupMgr := a.backupManager(func(s backup.Status) {
		hub.Broadcast(ws.NewMessage(ws.EntityBackup, string(s.State), "", map[string]any{
			"in_progress": s.InProgress,
			"error":       s.Error,
		}))
	})

	var (
		pushSvc *push.Service
		relay   *push.Relay
		relayer stream.Relayer
	)
	if cfg.Push.Enabled() {
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
		relay = push.NewRelay(pushSvc, a.pushSubs, logger)
		relayer = relay
	}

	srvCfg := server.Config{
		AudioDir:   cfg.AudioDir,
		Token:      cfg.LocalAPIToken,
		Reconciler: a.reconciler,
		Sync:       syncTrigger,
		Push:       pushSvc,
		Relay:      relay,
		Tokens:     push.NewTokenRefresher(a.client, a.settings, logger),
	}
	if backupMgr.Enabled() {
		srvCfg.Backups = backupMgr
	}
	srv := server.New(a.db, hub, srvCfg, logger)

	cleanupTrigger := worker.NewTrigger("cleanup", func(ctx context.Context) error {
		srv.RateLimiter().Cleanup()
		return nil
	}, worker.Config{Interval: time.Hour}, workerLogger)

	watcher, err := capture.NewWatcher(cfg.AudioDir, a.notes, syncTrigger, logger)
	if err != nil {
		return err
	}
	if created, err := watcher.Scan(); err != nil {
		logger.Warn("initial recordings scan", "error", err)
	} else if len(created) > 0 {
		logger.Info("registered existing recordings", "count", len(created))
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	syncTrigger.Start(ctx)
	defer syncTrigger.Stop()
	refreshTrigger.Start(ctx)
	defer refreshTrigger.Stop()
	cleanupTrigger.Start(ctx)
	defer cleanupTrigger.Stop()
	if backupMgr.Enabled() {
		backupTrigger := worker.NewTrigger("backup", backupMgr.Scheduled, worker.Config{Interval: time.Hour, MaxRetries: 1}, workerLogger)
		backupTrigger.Start(ctx)
		defer backupTrigger.Stop()
	}

	if a.registered() {
		dispatcher := stream.NewDispatcher(a.reconciler, a.notifications, hub, relayer, logger)
		events := stream.NewSSEClient(cfg.APIBaseURL, a.client.Token, logger.With("component", "sse"))
		go func() {
			if err := events.Run(ctx, dispatcher.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event stream stopped", "error", err)
			}
		}()
	} else {
		logger.Info("device not registered, event stream disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("local API starting", "addr", cfg.ListenAddr, "recordings", watcher.Dir(), "auth", cfg.LocalAPIToken != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}
