package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kidtube/kidtube/internal/analytics"
	"github.com/kidtube/kidtube/internal/cache"
	"github.com/kidtube/kidtube/internal/config"
	"github.com/kidtube/kidtube/internal/database"
	"github.com/kidtube/kidtube/internal/ledger"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/internal/queue"
	"github.com/kidtube/kidtube/internal/scheduler"
	"github.com/kidtube/kidtube/internal/storage"
	"github.com/kidtube/kidtube/internal/tracing"
	"github.com/kidtube/kidtube/internal/webhook"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.WithComponent("worker")

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize cache, used for scheduler slot locks
	kv, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer kv.Close()

	defaultLoc, err := time.LoadLocation(cfg.Engine.DefaultTimezone)
	if err != nil {
		logger.Fatalf("Invalid default timezone: %v", err)
	}

	notifier := webhook.NewService(repo, webhook.Config{
		DiscordURL: cfg.Webhook.DiscordURL,
		Secret:     cfg.Webhook.Secret,
	}, logger)

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if err := q.ConsumeRequestEvents(ctx, notifier.HandleRequestEvent); err != nil {
		logger.Fatalf("Failed to consume request events: %v", err)
	}

	// Report archiving is optional; reports are still sent without a link
	var archive scheduler.ReportArchive
	if stor, err := storage.New(cfg.Storage); err != nil {
		logger.WithError(err).Warn("Storage unavailable, daily reports will not be archived")
	} else {
		archive = stor
	}

	budgets := ledger.NewService(repo, ledger.Config{
		MaxDeltaSeconds: cfg.Engine.MaxDeltaSeconds,
		DefaultLocation: defaultLoc,
	}, logger)
	stats := analytics.NewService(repo, budgets, logger)

	sched := scheduler.NewScheduler(kv, logger)
	tasks := []scheduler.Task{
		scheduler.SweepGrantsTask(repo, cfg.Scheduler.SweepInterval),
		scheduler.DailyReportTask(stats, archive, notifier, cfg.Scheduler.ReportHour, defaultLoc, logger),
		scheduler.RetryWebhooksTask(notifier, time.Minute),
	}
	for _, task := range tasks {
		if err := sched.Register(task); err != nil {
			logger.Fatalf("Failed to register task %s: %v", task.Name, err)
		}
	}
	sched.Start(ctx)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	logger.Info("Worker started, waiting for events...")

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down worker gracefully...")
	cancel()
	sched.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Worker stopped")
}
