package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/toolforge/toolforge-be/internal/api/handler"
	"github.com/toolforge/toolforge-be/internal/api/router"
	"github.com/toolforge/toolforge-be/internal/config"
	creditstorage "github.com/toolforge/toolforge-be/internal/credit/storage"
	"github.com/toolforge/toolforge-be/internal/maintenance"
	"github.com/toolforge/toolforge-be/internal/queue"
	"github.com/toolforge/toolforge-be/internal/tooljob/storage"
	"github.com/toolforge/toolforge-be/shared/logger"
	"github.com/toolforge/toolforge-be/shared/postgresql"
	"github.com/toolforge/toolforge-be/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger := initLogger(cfg)

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	jobStorage := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	creditStorage := creditstorage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	outcomeStore := queue.NewOutcomeStore(dbClient.GetDB(), appLogger.Logger)

	queueAdapter := queue.NewAdapter(&queue.Config{
		Client:     rabbitClient,
		Outcomes:   outcomeStore,
		Logger:     appLogger.Logger,
		MessageTTL: cfg.RabbitMQ.Queue.MessageTTL,
	})
	queueAdapter.OnExpire(queue.NewJobExpireHandler(jobStorage, appLogger.Logger))

	orchestrator := maintenance.NewOrchestrator(
		maintenance.NewReconciler(jobStorage, outcomeStore, appLogger.Logger),
		maintenance.NewStuckRecovery(jobStorage, cfg.Maintenance.StuckThreshold, appLogger.Logger),
		maintenance.NewRetentionCleanup(jobStorage, cfg.Maintenance.CompletedRetention, cfg.Maintenance.FailedRetention, appLogger.Logger),
		appLogger.Logger,
	)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:      appLogger.Logger,
		Jobs:        jobStorage,
		Queue:       queueAdapter,
		Credits:     creditStorage,
		Maintenance: orchestrator,
		DB:          dbClient,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := queueAdapter.Start(gCtx); err != nil {
			return fmt.Errorf("failed to start queue adapter: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		appLogger.Info("Shutting down API service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		}

		if err := queueAdapter.Stop(shutdownCtx); err != nil {
			appLogger.Error("Failed to stop queue adapter", slog.Any("error", err))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("API service shutdown complete")
	return nil
}

func initLogger(cfg *config.Config) *logger.Logger {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		Service:      cfg.App.Name,
	})
}

func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		DeadLetterExchange: cfg.Exchange.DeadLetter,
		QueueName:          cfg.Queue.Name,
		ExpiredQueueName:   cfg.Queue.ExpiredName,
		QueueDurable:       cfg.Queue.Durable,
		QueueMaxPriority:   cfg.Queue.MaxPriority,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
