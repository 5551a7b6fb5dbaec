package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cesargomez89/inkqueue/internal/app"
	"github.com/cesargomez89/inkqueue/internal/config"
	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/downloader"
	httpapp "github.com/cesargomez89/inkqueue/internal/http"
	"github.com/cesargomez89/inkqueue/internal/hub"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/maintenance"
	"github.com/cesargomez89/inkqueue/internal/providers"
	"github.com/cesargomez89/inkqueue/internal/storage"
	"github.com/cesargomez89/inkqueue/internal/store"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	for _, dir := range []string{cfg.LibraryDir, cfg.StagingDir} {
		if err := storage.EnsureDir(dir); err != nil {
			appLogger.Error("Failed to create directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	// Initialize DB
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	settingsRepo := store.NewSettingsRepo(db)
	if n, err := db.PurgeExpiredCache(); err != nil {
		appLogger.Warn("Failed to purge cache", "error", err)
	} else if n > 0 {
		appLogger.Info("Purged expired cache entries", "count", n)
	}

	// Downloads survive restarts; maintenance jobs live as long as the process.
	queue := store.NewQueue(
		store.NewDownloadBackend(db),
		store.NewMemoryBackend(domain.KindMaintenanceJob),
	)
	events := hub.New(constants.HubBufferSize, appLogger)
	queue.OnChange(events.Publish)

	// Providers
	registry := providers.NewRegistry()
	for _, p := range []providers.Provider{
		providers.NewMockProvider(0),
		providers.NewCachedProvider(
			providers.NewHTTPProvider("remote", "Remote", cfg.ProviderURL, cfg.PageDelay),
			db, constants.DefaultPageListCacheTTL,
		),
	} {
		if err := registry.Register(p); err != nil {
			appLogger.Error("Failed to register provider", "error", err)
			os.Exit(1)
		}
	}

	// Units of work
	chapters := downloader.NewChapterUnit(registry, downloader.Config{
		LibraryDir:      cfg.LibraryDir,
		StagingDir:      cfg.StagingDir,
		ArchiveTemplate: cfg.ArchiveTemplate,
		PageDelay:       cfg.PageDelay,
	}, appLogger)

	dispatcher := worker.NewDispatcher()
	dispatcher.Register(domain.KindDownloadItem, chapters)
	maintenance.Register(dispatcher,
		maintenance.NewScanner(cfg.LibraryDir, cfg.StagingDir, settingsRepo, appLogger),
		maintenance.NewPruner(queue, cfg.StagingDir, appLogger),
	)

	// Scheduler and actions
	scheduler := worker.NewScheduler(queue, dispatcher, worker.Config{
		RecoveryPolicy:      cfg.RecoveryPolicy,
		DownloadConcurrency: cfg.DownloadConcurrency,
		PollInterval:        cfg.PollInterval,
		StallTimeout:        cfg.StallTimeout,
	}, appLogger)

	actions := app.NewActionRouter(queue, scheduler, dispatcher, settingsRepo, appLogger)
	actions.Staging = chapters
	if paused, err := actions.RestorePause(); err != nil {
		appLogger.Error("Failed to restore pause state", "error", err)
	} else if paused {
		appLogger.Info("Downloads are paused")
	}
	scheduler.OnFinished(actions.AfterDownload)

	if err := scheduler.Start(context.Background()); err != nil {
		appLogger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	// Start Server
	h := httpapp.NewHandler(actions, events, registry, appLogger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapp.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exiting")
}
