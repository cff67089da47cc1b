package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "cio-queue/internal/api"
	"cio-queue/internal/app"
	"cio-queue/internal/config"
	"cio-queue/internal/logging"
	"cio-queue/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "console").Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build queue")
	}
	defer a.Close()

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()
	// tasks left over from the previous process
	a.Scheduler.ProcessQueueStatus(a.Queue.Status(ctx))

	var limiter api.Limiter
	if cfg.RateLimitCapacity > 0 {
		redisLimiter := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisLimiter.Close()
		limiter = ratelimit.NewTokenBucket(redisLimiter, cfg.SiteID, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(a.Queue, a.Scheduler, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info().Str("port", cfg.HTTPPort).Str("site", cfg.SiteID).Str("storage", cfg.StorageBackend).Msg("queue api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("listen")
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("queue api stopped")
}
