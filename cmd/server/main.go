// Command server runs the rate-limit decision engine behind an HTTP
// boundary: a gin router enforcing spec.md §6's header/status contract in
// front of the Redis-backed atomic bucket evaluator.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/config"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/health"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/httpapi"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/ratelimit"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	addr := envOr("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	driver := store.NewRedisDriver(rdb)

	registry := config.NewWithDefaults()

	reg := prometheus.NewRegistry()
	analytics := ratelimit.NewAnalyticsRecorder(reg)

	engine := ratelimit.NewEngine(ratelimit.EngineConfig{
		Registry: registry,
		Store:    driver,
		Logger:   logger,
	}, analytics)

	healthSource := newHealthSource(logger)
	router := httpapi.NewRouter(engine, driver, healthSource, logger)
	router.GET("/metrics", httpapi.Metrics(reg))

	listenAddr := envOr("LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("ratelimit: listening", zap.String("addr", listenAddr), zap.String("redis", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ratelimit: server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("ratelimit: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("ratelimit: graceful shutdown failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newHealthSource dials a real Prometheus server when PROMETHEUS_URL is set,
// falling back to synthetic fleet data for local development.
func newHealthSource(logger *zap.Logger) health.Source {
	if url := os.Getenv("PROMETHEUS_URL"); url != "" {
		src, err := health.NewPrometheusSource(url)
		if err != nil {
			logger.Warn("ratelimit: prometheus health source unavailable, using simulated fleet data", zap.Error(err))
			return health.NewSimulatedSource(time.Now().UnixNano())
		}
		return src
	}
	return health.NewSimulatedSource(time.Now().UnixNano())
}
