package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/phuslu/log"

	"cio-queue/internal/logging"
	"cio-queue/internal/models"
	"cio-queue/internal/telemetry"
)

// DrainResult summarizes one drain.
type DrainResult struct {
	Succeeded int
	Failed    int
	Pruned    int
	Remaining int
	Halted    bool
}

// RunRequest drains the queue of one site, one task at a time.
type RunRequest struct {
	runner         Runner
	storage        *Storage
	requestManager *RequestManager
	queryRunner    *QueryRunner
	logger         *log.Logger

	mu   sync.Mutex
	last DrainResult
}

func NewRunRequest(runner Runner, storage *Storage, requestManager *RequestManager, queryRunner *QueryRunner, logger *log.Logger) *RunRequest {
	return &RunRequest{
		runner:         runner,
		storage:        storage,
		requestManager: requestManager,
		queryRunner:    queryRunner,
		logger:         logging.OrDiscard(logger),
	}
}

// Start drains the queue, or joins the drain already in flight. onComplete fires once
// when that drain finishes. Start blocks for the caller that owns the drain and returns
// immediately for callers that joined one.
func (r *RunRequest) Start(ctx context.Context, onComplete func()) {
	if r.requestManager.StartRequest(onComplete) {
		telemetry.DrainsCoalesced.Inc()
		r.logger.Trace().Msg("queue drain already running, waiting for it")
		return
	}
	r.drain(ctx)
}

// LastResult returns the summary of the most recent finished drain.
func (r *RunRequest) LastResult() DrainResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *RunRequest) drain(ctx context.Context) {
	var result DrainResult
	defer func() {
		r.mu.Lock()
		r.last = result
		r.mu.Unlock()
		telemetry.DrainRunningGauge.Set(0)
		r.requestManager.RequestComplete()
	}()

	telemetry.DrainsStarted.Inc()
	telemetry.DrainRunningGauge.Set(1)
	r.queryRunner.Reset()

	remaining := r.storage.GetInventory(ctx)
	r.logger.Debug().Int("tasks", len(remaining)).Msg("queue drain starting")

	var lastFailed *models.QueueTaskMetadata
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info().Err(err).Msg("queue drain cancelled")
			break
		}
		next := r.queryRunner.GetNextTask(remaining, lastFailed)
		if next == nil {
			break
		}
		remaining = withoutTask(remaining, next.TaskPersistedID)
		lastFailed = nil

		task, ok := r.storage.Get(ctx, next.TaskPersistedID)
		if !ok {
			r.storage.Delete(ctx, next.TaskPersistedID)
			telemetry.TasksPruned.Inc()
			result.Pruned++
			r.logger.Error().Str("task", next.TaskPersistedID).Str("type", string(next.TaskType)).Msg("queue task missing from storage, removed from inventory")
			continue
		}

		r.logger.Trace().Str("task", task.StorageID).Str("type", string(task.Type)).Int("total_runs", task.RunResults.TotalRuns).Msg("running queue task")
		err := r.runTask(ctx, *task)
		if err == nil {
			r.storage.Delete(ctx, task.StorageID)
			telemetry.TaskSuccess.WithLabelValues(string(task.Type)).Inc()
			result.Succeeded++
			continue
		}

		telemetry.TaskFailures.WithLabelValues(string(task.Type)).Inc()
		result.Failed++
		runResults := models.QueueTaskRunResults{TotalRuns: task.RunResults.TotalRuns + 1}
		if !r.storage.Update(ctx, task.StorageID, runResults) {
			r.logger.Error().Str("task", task.StorageID).Msg("could not record failed run")
		}
		r.logger.Info().Err(err).Str("task", task.StorageID).Str("type", string(task.Type)).Int("total_runs", runResults.TotalRuns).Msg("queue task failed, will retry")
		lastFailed = next

		if errors.Is(err, ErrHaltDrain) {
			result.Halted = true
			r.logger.Info().Int("skipped", len(remaining)).Msg("queue drain halted, remaining tasks wait for the next run")
			break
		}
	}

	result.Remaining = len(remaining)
	telemetry.QueueDepthGauge.Set(float64(r.storage.Status(ctx).NumTasksInQueue))
	r.logger.Debug().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("pruned", result.Pruned).
		Int("not_run", result.Remaining).
		Strs("excluded_groups", r.queryRunner.ExcludedGroups()).
		Msg("queue drain finished")
}

// runTask counts a panicking runner as a failed run.
func (r *RunRequest) runTask(ctx context.Context, task models.QueueTask) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("task", task.StorageID).Str("stack", string(debug.Stack())).Msgf("queue runner panic: %v", rec)
			err = fmt.Errorf("runner panic: %v", rec)
		}
	}()
	return r.runner.RunTask(ctx, task)
}

func withoutTask(items []models.QueueTaskMetadata, storageID string) []models.QueueTaskMetadata {
	out := make([]models.QueueTaskMetadata, 0, len(items))
	for _, item := range items {
		if item.TaskPersistedID != storageID {
			out = append(out, item)
		}
	}
	return out
}
