package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/config"
	"github.com/streamweaver-io/streamweaver/internal/httpapi"
	"github.com/streamweaver-io/streamweaver/internal/service"
	"github.com/streamweaver-io/streamweaver/internal/session"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfgFile, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := cfgFile.Service()

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session store", zap.Error(err))
	}

	sw := service.New(cfg, store, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sw.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}

	mux := http.NewServeMux()
	httpapi.NewStreamingHandler(sw, logger).RegisterRoutes(mux)
	httpapi.NewWSHandler(sw, cfg.HeartbeatInterval, logger).RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf(":%d", cfgFile.HTTPPort(8080))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("StreamWeaver listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := sw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Service shutdown incomplete", zap.Error(err))
	}
}

// buildStore selects the session backend: Redis when REDIS_URL is set,
// otherwise the in-memory store with its expiry sweeper.
func buildStore(cfg service.Config, logger *zap.Logger) (session.Store, error) {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		logger.Info("Using Redis session store", zap.String("addr", opts.Addr))
		return session.NewRedisStore(redis.NewClient(opts), cfg.SessionTimeout, logger), nil
	}
	logger.Info("Using in-memory session store")
	return session.NewMemoryStore(cfg.SessionTimeout, logger,
		session.WithSweepInterval(cfg.SweepInterval)), nil
}
