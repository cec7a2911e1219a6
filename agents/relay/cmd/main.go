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

	"dlevel-stack/agents/relay"
	"dlevel-stack/shared/ai"
	"dlevel-stack/shared/config"
	"dlevel-stack/shared/logging"
	"dlevel-stack/shared/monitoring"
	"dlevel-stack/shared/scheduler"
	"dlevel-stack/shared/storage"
	"dlevel-stack/shared/youtube"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create context that responds to signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("relay failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("store opened", slog.String("backend", cfg.Storage.Backend))

	titles, err := youtube.NewTitleLookupFromConfig(ctx, cfg.YouTube)
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor()
	hub := relay.NewHub()
	hub.WatchArea(store.Local)
	hub.WatchArea(store.Session)

	r := relay.New(relay.Deps{
		Local:    store.Local,
		Session:  store.Session,
		Analyzer: ai.NewAnalyzer(cfg.AI),
		Titles:   titles,
		Tabs:     relay.NewTabRegistry(),
		Panels:   hub,
		Monitor:  monitor,
	}, relay.WithRequestsPerMinute(cfg.AI.RequestsPerMinute))

	if err := r.SeedCredential(ctx, cfg.AI.GeminiAPIKey); err != nil {
		slog.Warn("failed to seed credential", slog.Any("error", err))
	}

	if cfg.Retention.MaxAge > 0 {
		sweeper := relay.NewRetentionSweeper(store.Local, cfg.Retention.MaxAge)
		s := scheduler.New(cfg.Retention.Schedule, monitor, sweeper)
		go func() {
			if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("retention scheduler failed", slog.Any("error", err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Relay.ListenAddr,
		Handler:           relay.NewServer(r, store, hub, monitor).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening", slog.String("addr", cfg.Relay.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down relay")
	hub.DisconnectAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
