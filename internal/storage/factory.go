package storage

import (
	"context"
	"fmt"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	"cio-queue/internal/config"
)

// Open builds the backend named by cfg.StorageBackend.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.StorageBackend {
	case config.BackendFile, "":
		store, err = NewFileStore(cfg.StorageDir)
	case config.BackendBadger:
		store, err = NewBadgerStore(cfg.BadgerPath)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err = client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		store = NewRedisStore(client, "")
	case config.BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg.PostgresDSN)
	case config.BackendSQLite:
		store, err = NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.BackendS3:
		store, err = NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug().Str("backend", cfg.StorageBackend).Msg("queue blob storage opened")
	}
	return store, nil
}
