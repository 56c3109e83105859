package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/access"
	"github.com/kidtube/kidtube/internal/analytics"
	"github.com/kidtube/kidtube/internal/approval"
	"github.com/kidtube/kidtube/internal/availability"
	"github.com/kidtube/kidtube/internal/cache"
	"github.com/kidtube/kidtube/internal/config"
	"github.com/kidtube/kidtube/internal/database"
	"github.com/kidtube/kidtube/internal/ledger"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/internal/middleware"
	"github.com/kidtube/kidtube/internal/queue"
	"github.com/kidtube/kidtube/internal/realtime"
	"github.com/kidtube/kidtube/internal/session"
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

	tracer, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
	}

	repo := database.NewRepository(db)

	// Initialize cache
	kv, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer kv.Close()

	// The broker is optional; without it request events are not published
	var publisher approval.Publisher
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.WithError(err).Warn("Queue unavailable, request events will not be published")
	} else {
		defer q.Close()
		publisher = q
	}

	defaultLoc, err := time.LoadLocation(cfg.Engine.DefaultTimezone)
	if err != nil {
		logger.Fatalf("Invalid default timezone: %v", err)
	}
	policy, err := availability.ParsePolicy(cfg.Engine.SchedulePolicy)
	if err != nil {
		logger.Fatalf("Invalid schedule policy: %v", err)
	}

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	budgets := ledger.NewService(repo, ledger.Config{
		MaxDeltaSeconds: cfg.Engine.MaxDeltaSeconds,
		HeartbeatGap:    cfg.Engine.HeartbeatGap,
		DefaultLocation: defaultLoc,
	}, logger).WithPacer(kv)
	engine := access.NewEngine(repo, budgets, availability.NewGate(policy, defaultLoc), logger)
	workflow := approval.NewWorkflow(repo, kv, publisher, hub, approval.Config{
		SubmitCooldown:  cfg.Approval.SubmitCooldown,
		DefaultLocation: defaultLoc,
	}, logger)

	if cfg.Auth.AdminPINHash == "" {
		logger.Warn("auth.adminPinHash is empty: admin endpoints are open to any caller")
	}
	tokens := session.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	sessions := session.NewGate(repo, kv, tokens, session.Config{
		TTL:            cfg.Session.TTL,
		PINMaxAttempts: cfg.Session.PINMaxAttempts,
		PINWindow:      cfg.Session.PINWindow,
		AdminPINHash:   cfg.Auth.AdminPINHash,
	}, logger)

	// Initialize rate limiter and drop idle clients periodically
	rateLimiter := middleware.NewRateLimiter(float64(cfg.Server.RequestsPerSec), cfg.Server.Burst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rateLimiter.Sweep(now, 10*time.Minute)
			}
		}
	}()

	var discordKey ed25519.PublicKey
	if cfg.Webhook.DiscordPublicKey != "" {
		discordKey, err = webhook.ParsePublicKey(cfg.Webhook.DiscordPublicKey)
		if err != nil {
			logger.Fatalf("Invalid webhook.discordPublicKey: %v", err)
		}
	}

	api := &API{
		engine:   engine,
		ledger:   budgets,
		requests: workflow,
		sessions: sessions,
		controls: repo,
		stats:    analytics.NewService(repo, budgets, logger),
		webhooks: repo,
		realtime: hub,
		health: map[string]HealthCheck{
			"database": db.Health,
			"redis":    kv.Ping,
		},
		logger:     logger.WithComponent("api"),
		defaultLoc: defaultLoc,
		now:        time.Now,
		discordKey: discordKey,
	}

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, RouterConfig{
		CookieName:  cfg.Session.CookieName,
		SessionTTL:  cfg.Session.TTL,
		Tokens:      tokens,
		RateLimiter: rateLimiter,
		Tracer:      tracer,
	})

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Cancel context for background workers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}
