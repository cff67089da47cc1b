// Package queue is the durable background task queue: storage of the inventory and
// task bodies, next-task selection with group exclusion, single-flight drains and
// the per-type runner.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"cio-queue/internal/jsonadapter"
	"cio-queue/internal/logging"
	"cio-queue/internal/models"
	"cio-queue/internal/storage"
	"cio-queue/internal/telemetry"
)

var (
	// ErrTaskNotPersisted is returned by the typed add helpers when storage rejected the task.
	ErrTaskNotPersisted = errors.New("task could not be persisted")
	// ErrInvalidTask wraps payloads that do not decode or validate, and unknown task types.
	ErrInvalidTask = errors.New("invalid task")
)

// Options wires a Queue.
type Options struct {
	SiteID     string
	Blobs      storage.Store
	Runner     Runner
	TaskExpiry time.Duration
	Logger     *log.Logger
}

// Queue is the entry point the rest of the system uses to enqueue and drain work.
type Queue struct {
	siteID     string
	storage    *Storage
	runRequest *RunRequest
	validate   *validator.Validate
	json       *jsonadapter.Adapter
	expiry     time.Duration
	logger     *log.Logger
}

// New builds a queue with its own request manager and query runner.
func New(opts Options) *Queue {
	logger := logging.OrDiscard(opts.Logger)
	st := NewStorage(opts.SiteID, opts.Blobs, logger)
	return &Queue{
		siteID:     opts.SiteID,
		storage:    st,
		runRequest: NewRunRequest(opts.Runner, st, NewRequestManager(), NewQueryRunner(), logger),
		validate:   validator.New(),
		json:       jsonadapter.New(logger),
		expiry:     opts.TaskExpiry,
		logger:     logger,
	}
}

// Storage exposes the underlying queue storage.
func (q *Queue) Storage() *Storage { return q.storage }

// AddTask persists a task. It does not start a drain; see Scheduler.ProcessQueueStatus.
func (q *Queue) AddTask(ctx context.Context, taskType models.QueueTaskType, data []byte, groupStart *string, groupMember []string) (bool, models.QueueStatus) {
	ok, status := q.storage.Create(ctx, taskType, data, groupStart, groupMember)
	if !ok {
		telemetry.EnqueueFailures.Inc()
		q.logger.Error().Str("type", string(taskType)).Msg("failed to add task to queue")
		return false, status
	}
	telemetry.EnqueueCounter.WithLabelValues(string(taskType)).Inc()
	telemetry.QueueDepthGauge.Set(float64(status.NumTasksInQueue))
	return true, status
}

// AddIdentifyTask queues a profile identify. It starts the profile's group.
func (q *Queue) AddIdentifyTask(ctx context.Context, data models.IdentifyProfileTaskData) (models.QueueStatus, error) {
	group := models.IdentifiedProfileGroup(data.Identifier)
	return addTyped(ctx, q, models.TaskIdentifyProfile, data, &group, nil)
}

// AddTrackEventTask queues an event; it waits on the profile's identify.
// A zero Timestamp is set to the enqueue time.
func (q *Queue) AddTrackEventTask(ctx context.Context, data models.TrackEventTaskData) (models.QueueStatus, error) {
	data.Timestamp = q.stamp(data.Timestamp)
	return addTyped(ctx, q, models.TaskTrackEvent, data, nil, []string{models.IdentifiedProfileGroup(data.Identifier)})
}

// AddRegisterPushTokenTask queues a device registration. It starts the token's group
// and waits on the profile's identify.
func (q *Queue) AddRegisterPushTokenTask(ctx context.Context, data models.RegisterPushTokenTaskData) (models.QueueStatus, error) {
	group := models.RegisteredPushTokenGroup(data.DeviceToken)
	return addTyped(ctx, q, models.TaskRegisterPushToken, data, &group, []string{models.IdentifiedProfileGroup(data.ProfileIdentifier)})
}

// AddDeletePushTokenTask queues a device removal after the profile and token registration.
func (q *Queue) AddDeletePushTokenTask(ctx context.Context, data models.DeletePushTokenTaskData) (models.QueueStatus, error) {
	return addTyped(ctx, q, models.TaskDeletePushToken, data, nil, []string{
		models.IdentifiedProfileGroup(data.ProfileIdentifier),
		models.RegisteredPushTokenGroup(data.DeviceToken),
	})
}

// AddPushMetricTask queues a push metric. Metrics are not grouped.
// A zero Timestamp is set to the enqueue time.
func (q *Queue) AddPushMetricTask(ctx context.Context, data models.PushMetricTaskData) (models.QueueStatus, error) {
	data.Timestamp = q.stamp(data.Timestamp)
	return addTyped(ctx, q, models.TaskTrackPushMetric, data, nil, nil)
}

// AddDeliveryEventTask queues an in-app delivery event.
// A zero Timestamp is set to the enqueue time.
func (q *Queue) AddDeliveryEventTask(ctx context.Context, data models.DeliveryEventTaskData) (models.QueueStatus, error) {
	data.Timestamp = q.stamp(data.Timestamp)
	return addTyped(ctx, q, models.TaskTrackDeliveryEvent, data, nil, nil)
}

// stamp keeps a caller supplied unix timestamp, otherwise uses the enqueue time
// so a task retried later still reports when the event happened.
func (q *Queue) stamp(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return q.storage.now().Unix()
}

func addTyped[T any](ctx context.Context, q *Queue, taskType models.QueueTaskType, data T, groupStart *string, groupMember []string) (models.QueueStatus, error) {
	if err := q.validate.Struct(data); err != nil {
		return q.storage.Status(ctx), fmt.Errorf("%w: %s: %v", ErrInvalidTask, taskType, err)
	}
	raw, ok := jsonadapter.ToJSON(q.json, data)
	if !ok {
		return q.storage.Status(ctx), fmt.Errorf("encode %s task: %w", taskType, ErrTaskNotPersisted)
	}
	ok, status := q.AddTask(ctx, taskType, raw, groupStart, groupMember)
	if !ok {
		return status, ErrTaskNotPersisted
	}
	return status, nil
}

// AddJSONTask decodes raw as the payload of taskType and queues it through the typed helper,
// so the task gets the same validation and group keys.
func (q *Queue) AddJSONTask(ctx context.Context, taskType models.QueueTaskType, raw []byte) (models.QueueStatus, error) {
	switch taskType {
	case models.TaskIdentifyProfile:
		return addDecoded(ctx, q, taskType, raw, q.AddIdentifyTask)
	case models.TaskTrackEvent:
		return addDecoded(ctx, q, taskType, raw, q.AddTrackEventTask)
	case models.TaskRegisterPushToken:
		return addDecoded(ctx, q, taskType, raw, q.AddRegisterPushTokenTask)
	case models.TaskDeletePushToken:
		return addDecoded(ctx, q, taskType, raw, q.AddDeletePushTokenTask)
	case models.TaskTrackPushMetric:
		return addDecoded(ctx, q, taskType, raw, q.AddPushMetricTask)
	case models.TaskTrackDeliveryEvent:
		return addDecoded(ctx, q, taskType, raw, q.AddDeliveryEventTask)
	default:
		return q.storage.Status(ctx), fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, taskType)
	}
}

func addDecoded[T any](ctx context.Context, q *Queue, taskType models.QueueTaskType, raw []byte, add func(context.Context, T) (models.QueueStatus, error)) (models.QueueStatus, error) {
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return q.storage.Status(ctx), fmt.Errorf("%w: %s: %v", ErrInvalidTask, taskType, err)
	}
	return add(ctx, data)
}

// Run starts a drain in the background, or joins the running one. onComplete may be nil.
func (q *Queue) Run(ctx context.Context, onComplete func()) {
	go q.runRequest.Start(ctx, onComplete)
}

// RunAndWait drains the queue and blocks until the drain (possibly one already in
// flight) finishes. ctx drives the drain too: once it is done no further task is
// started. If ctx ends before the drain does, the result is zero and ctx's error
// is returned.
func (q *Queue) RunAndWait(ctx context.Context) (DrainResult, error) {
	return q.runAndWait(ctx, ctx)
}

// RunDetachedAndWait is RunAndWait for callers whose context should only bound the
// wait, such as an HTTP request: the drain keeps running after ctx ends, so other
// callers that joined it are not cut short.
func (q *Queue) RunDetachedAndWait(ctx context.Context) (DrainResult, error) {
	return q.runAndWait(ctx, context.WithoutCancel(ctx))
}

func (q *Queue) runAndWait(waitCtx, drainCtx context.Context) (DrainResult, error) {
	done := make(chan struct{})
	go q.runRequest.Start(drainCtx, func() { close(done) })
	select {
	case <-done:
		return q.runRequest.LastResult(), nil
	case <-waitCtx.Done():
		return DrainResult{}, waitCtx.Err()
	}
}

// Status returns the current queue snapshot.
func (q *Queue) Status(ctx context.Context) models.QueueStatus {
	return q.storage.Status(ctx)
}

// Inventory returns the current ordered inventory.
func (q *Queue) Inventory(ctx context.Context) []models.QueueTaskMetadata {
	return q.storage.GetInventory(ctx)
}

// Task loads one task body.
func (q *Queue) Task(ctx context.Context, storageID string) (*models.QueueTask, bool) {
	return q.storage.Get(ctx, storageID)
}

// DeleteExpiredTasks removes tasks older than the configured expiry. A zero expiry disables it.
func (q *Queue) DeleteExpiredTasks(ctx context.Context) []string {
	if q.expiry <= 0 {
		return nil
	}
	expired := q.storage.DeleteExpired(ctx, time.Now().Add(-q.expiry))
	if len(expired) > 0 {
		telemetry.TasksExpired.Add(float64(len(expired)))
		q.logger.Info().Int("count", len(expired)).Dur("expiry", q.expiry).Msg("deleted expired queue tasks")
	}
	return expired
}

// IsRunning reports whether a drain is in flight.
func (q *Queue) IsRunning() bool {
	return q.runRequest.requestManager.IsRunning()
}
