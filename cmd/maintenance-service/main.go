package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/toolforge/toolforge-be/internal/config"
	"github.com/toolforge/toolforge-be/internal/maintenance"
	"github.com/toolforge/toolforge-be/internal/queue"
	"github.com/toolforge/toolforge-be/internal/tooljob/storage"
	"github.com/toolforge/toolforge-be/shared/logger"
	"github.com/toolforge/toolforge-be/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("MAINTENANCE_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/maintenance-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	runOnce := flag.Bool("once", false, "Run a single maintenance cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateMaintenanceConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		Service:      cfg.App.Name,
	})

	appLogger.Info("Starting maintenance service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("schedule", cfg.Maintenance.Schedule),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobStorage := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	outcomeStore := queue.NewOutcomeStore(dbClient.GetDB(), appLogger.Logger)

	stuckThreshold := cfg.Maintenance.StuckThreshold
	if stuckThreshold == 0 {
		stuckThreshold = maintenance.DefaultStuckThreshold
	}
	completedRetention := cfg.Maintenance.CompletedRetention
	if completedRetention == 0 {
		completedRetention = maintenance.DefaultCompletedRetention
	}
	failedRetention := cfg.Maintenance.FailedRetention
	if failedRetention == 0 {
		failedRetention = maintenance.DefaultFailedRetention
	}
	cycleTimeout := cfg.Maintenance.CycleTimeout
	if cycleTimeout == 0 {
		cycleTimeout = 10 * time.Minute
	}

	orchestrator := maintenance.NewOrchestrator(
		maintenance.NewReconciler(jobStorage, outcomeStore, appLogger.Logger),
		maintenance.NewStuckRecovery(jobStorage, stuckThreshold, appLogger.Logger),
		maintenance.NewRetentionCleanup(jobStorage, completedRetention, failedRetention, appLogger.Logger),
		appLogger.Logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCycle := func() {
		cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
		defer cancel()

		summary, err := orchestrator.RunCycle(cycleCtx)
		if err != nil {
			appLogger.Error("Maintenance cycle finished with errors",
				slog.Any("error", err),
				slog.Any("summary", summary),
			)
			return
		}

		appLogger.Info("Maintenance cycle finished",
			slog.Bool("reconcile_success", summary.Reconciled.Success),
			slog.Int("reconciled_synced", summary.Reconciled.Synced),
			slog.Int64("stuck_jobs_marked_failed", summary.StuckJobsMarkedFailed),
			slog.Int64("expired_jobs_deleted", summary.ExpiredJobsDeleted),
		)
	}

	if *runOnce {
		runCycle()
		return nil
	}

	// One cycle at most runs at a time; a tick that fires while the previous
	// cycle is still working is skipped, not queued.
	sem := semaphore.NewWeighted(1)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Maintenance.Schedule, func() {
		if !sem.TryAcquire(1) {
			appLogger.Warn("Previous maintenance cycle still running, skipping tick")
			return
		}
		defer sem.Release(1)

		runCycle()
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Maintenance.Schedule, err)
	}

	scheduler.Start()
	appLogger.Info("Maintenance scheduler started")

	<-ctx.Done()

	appLogger.Info("Shutting down maintenance service")

	// Let an in-flight cycle finish before exiting
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cycleTimeout):
		appLogger.Warn("Maintenance cycle did not finish before shutdown timeout")
	}

	appLogger.Info("Maintenance service shutdown complete")
	return nil
}
