// Package app wires config into a running queue; shared by the daemon and queuectl.
package app

import (
	"context"
	"fmt"

	"github.com/phuslu/log"

	"cio-queue/internal/config"
	"cio-queue/internal/queue"
	"cio-queue/internal/storage"
	"cio-queue/internal/trackapi"
)

// App holds the long-lived pieces built from one Config.
type App struct {
	Config    config.Config
	Blobs     storage.Store
	Queue     *queue.Queue
	Scheduler *queue.Scheduler
}

// Build opens storage and assembles the queue with the track API runner.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	blobs, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	client := trackapi.New(trackapi.Options{
		BaseURL:           cfg.TrackAPIURL,
		SiteID:            cfg.SiteID,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.TrackAPITimeout,
		RequestsPerSecond: cfg.TrackAPIRPS,
		Logger:            logger,
	})
	q := queue.New(queue.Options{
		SiteID:     cfg.SiteID,
		Blobs:      blobs,
		Runner:     queue.NewAPIRunner(client, logger),
		TaskExpiry: cfg.TaskExpiry,
		Logger:     logger,
	})
	scheduler, err := queue.NewScheduler(q, queue.SchedulerOptions{
		MinTasksToRun:   cfg.MinTasksToRun,
		RunDelay:        cfg.RunDelay,
		DrainSchedule:   cfg.DrainSchedule,
		CleanupSchedule: cfg.CleanupSchedule,
	}, logger)
	if err != nil {
		blobs.Close()
		return nil, err
	}
	return &App{Config: cfg, Blobs: blobs, Queue: q, Scheduler: scheduler}, nil
}

// Close releases storage.
func (a *App) Close() error {
	return a.Blobs.Close()
}
