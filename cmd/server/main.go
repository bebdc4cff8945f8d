package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/config"
	"github.com/machioali/LanguageHelp-sub000/internal/dispatch"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/lifecycle"
	"github.com/machioali/LanguageHelp-sub000/internal/logging"
	"github.com/machioali/LanguageHelp-sub000/internal/presence"
	"github.com/machioali/LanguageHelp-sub000/internal/recorder"
	"github.com/machioali/LanguageHelp-sub000/internal/relay"
	"github.com/machioali/LanguageHelp-sub000/internal/server"
)

func initPresenceStore(cfg *config.Config) (domain.PresenceStore, func()) {
	if cfg.RedisURL == "" {
		slog.Info("Using in-memory presence store")
		return presence.NewMemoryStore(), func() {}
	}

	store, err := presence.NewRedisStore(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create redis presence store", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}

	slog.Info("Using redis presence store")
	return store, func() { _ = store.Close() }
}

func initRecorder(cfg *config.Config) (domain.SessionRecorder, func()) {
	if cfg.DatabaseURL == "" {
		slog.Info("Using in-memory session recorder")
		return recorder.NewMemoryRecorder(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := recorder.NewPostgresRecorder(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to create postgres recorder", "error", err)
		os.Exit(1)
	}

	slog.Info("Using postgres session recorder")
	return recorder.NewBreaker(pg), pg.Close
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	clock := clockwork.NewRealClock()

	store, closeStore := initPresenceStore(cfg)
	defer closeStore()

	rec, closeRecorder := initRecorder(cfg)
	defer closeRecorder()

	registry := presence.NewRegistry(store, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	hub := server.NewConnHub()

	manager := lifecycle.NewManager(clock, hub, rec, registry, cfg.GracePeriod, cfg.MaxReconnectCycles)
	registry.SetBusyChecker(manager)

	rl := relay.NewRelay(manager, clock)
	manager.SetBinder(rl)

	dispatcher := dispatch.NewDispatcher(registry, manager, hub, clock, cfg.RequestExpiry)

	srv := server.NewServer(cfg, hub, registry, dispatcher, manager, rl, clock)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received, cleaning up...", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	dispatcher.Stop()
	manager.Stop()
	rl.Stop()
	registry.Stop()

	slog.Info("Shutdown complete")
}
