package main

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/handlers"
	"github.com/roundup-invest/receipt-review/internal/websocket"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/router"
	"github.com/roundup-invest/receipt-review/services"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional; without it the ticker cache and rate limits are per process.
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisOptions := &redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}
		if cfg.Redis.UseTLS {
			redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(redisOptions)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warnw("Redis is unreachable, continuing with in-process fallbacks",
				"address", logger.MaskRedisAddress(cfg.Redis.Address), "error", err)
		} else {
			log.Infow("Connected to Redis", "address", logger.MaskRedisAddress(cfg.Redis.Address))
		}
		cancel()
	}

	pool := services.NewWorkerPool(cfg.WorkerPool)
	pool.Start()

	search := services.NewTickerSearchService(redisClient, cfg.Workflow.SearchCacheTTL())
	learning := services.NewLearningService(pool)
	sessions := services.NewSessionService(cfg.Sessions, services.NewWorkflowFactory(cfg, search, learning))
	sessions.Start(ctx)

	hub := websocket.NewHub()
	healthService := services.NewHealthService(redisClient, sessions, pool, cfg.Server.Version)

	r := router.SetupRouter(router.Dependencies{
		Config:         cfg,
		RedisClient:    redisClient,
		SessionHandler: handlers.NewSessionHandler(sessions, cfg.Workflow.MaxUploadBytes),
		HealthHandler:  handlers.NewHealthHandler(healthService),
		WSHandler:      websocket.NewHandler(hub, &cfg.Server, sessions),
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Starting server", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownTimeout := time.Duration(cfg.WorkerPool.ShutdownTimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Close websockets first; Shutdown does not wait for hijacked connections.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warnw("WebSocket hub shutdown failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}
	sessions.Stop()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Learning queue did not drain before shutdown", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warnw("Failed to close Redis client", "error", err)
		}
	}
	log.Info("Server exited")
}
