package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ifirmawan/akvo-mis-sub000/cmd/device/handlers"
	"github.com/ifirmawan/akvo-mis-sub000/internal/api"
	"github.com/ifirmawan/akvo-mis-sub000/internal/config"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/network"
	"github.com/ifirmawan/akvo-mis-sub000/internal/store"
	syncpkg "github.com/ifirmawan/akvo-mis-sub000/internal/sync"
	"github.com/ifirmawan/akvo-mis-sub000/internal/sync/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with its localhost API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

// buildEngine wires the store, remote client, and network gate into a
// sync engine. Shared by serve and the one-shot sync command.
func buildEngine(cfg *config.Config, notifier syncpkg.Notifier) (*syncpkg.Engine, *store.Repository, func(), error) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	repo := store.NewRepository(db)

	client := api.NewClient(&api.Config{
		BaseURL:  cfg.ServerURL,
		Passcode: cfg.Passcode,
	})

	gate, err := network.NewProbeGate(cfg.ServerURL, network.StaticDetector(cfg.NetworkType))
	if err != nil {
		repo.Close()
		db.Close()
		return nil, nil, nil, err
	}

	required := ""
	if cfg.WifiOnly {
		required = "wifi"
	}

	engine := syncpkg.NewEngine(repo, client, gate, syncpkg.Config{
		User:            cfg.User,
		RequiredNetwork: required,
	}, notifier)

	cleanup := func() {
		repo.Close()
		db.Close()
	}
	return engine, repo, cleanup, nil
}

func runServe(cfg *config.Config) error {
	hub := NewWSHub()
	notifier := syncpkg.Notifiers{hub, syncpkg.LogNotifier{}}

	engine, repo, cleanup, err := buildEngine(cfg, notifier)
	if err != nil {
		return err
	}
	defer cleanup()

	sched := scheduler.New(engine, &scheduler.Config{
		SyncInterval:       cfg.SyncInterval,
		ForegroundInterval: cfg.ForegroundInterval,
		CycleTimeout:       5 * time.Minute,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()

	handler := handlers.NewSyncHandler(repo, sched, cfg.User)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handler.Health)
	mux.HandleFunc("/api/sync/status", handler.Status)
	mux.HandleFunc("/api/sync/trigger", handler.TriggerSync)
	mux.HandleFunc("/api/sync/pull", handler.TriggerPull)
	mux.HandleFunc("/api/drafts/changed", handler.DraftChanged)
	mux.HandleFunc("/api/app/foreground", handler.Foreground)
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Device API listening",
			map[string]interface{}{"addr": cfg.Listen})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutting down", nil)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
