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

	"github.com/finsightlab/finsight/internal/analysis"
	"github.com/finsightlab/finsight/internal/config"
	"github.com/finsightlab/finsight/internal/extract"
	"github.com/finsightlab/finsight/internal/jobstore"
	"github.com/finsightlab/finsight/internal/progress"
	"github.com/finsightlab/finsight/internal/resultcache"
	"github.com/finsightlab/finsight/internal/worker"
	"github.com/finsightlab/finsight/shared/logger"
	"github.com/finsightlab/finsight/shared/postgresql"
	"github.com/finsightlab/finsight/shared/rabbitmq"
	"github.com/finsightlab/finsight/shared/redis"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(cfg.Database.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	redisClient, err := redis.NewClient(cfg.Redis.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	analyzer, err := analysis.New(cfg.Analysis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	db := dbClient.GetDB()

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		RabbitClient: rabbitClient,
		Store:        jobstore.New(db, appLogger.Logger),
		Cache:        resultcache.New(db, appLogger.Logger),
		Progress:     progress.NewTracker(redisClient.GetClient(), appLogger.Logger),
		Analyzer:     analyzer,
		Extractor:    extract.NewPDFExtractor(appLogger.Logger),

		QueueName:     cfg.RabbitMQ.Queue.Name,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,

		CacheRetention:     cfg.Cache.Retention(),
		CacheMinAccess:     cfg.Cache.MinAccessCount,
		CleanupInterval:    cfg.Cache.CleanupInterval,
		StaleAfter:         cfg.Worker.StaleAfter,
		SupervisorInterval: cfg.Worker.SupervisorInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started",
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	// Stop blocks until in-flight jobs drain; cap the wait so a wedged job
	// cannot hold the process open past the configured timeout.
	stopped := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
