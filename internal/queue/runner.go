package queue

import (
	"context"

	"github.com/phuslu/log"

	"cio-queue/internal/jsonadapter"
	"cio-queue/internal/logging"
	"cio-queue/internal/models"
	"cio-queue/internal/trackapi"
)

// ErrHaltDrain is returned (wrapped) by a Runner when no further task can succeed
// during this drain.
var ErrHaltDrain = trackapi.ErrHaltDrain

// Runner executes the side effect of one task. A nil error means the task is done
// and may be deleted.
type Runner interface {
	RunTask(ctx context.Context, task models.QueueTask) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task models.QueueTask) error

func (f RunnerFunc) RunTask(ctx context.Context, task models.QueueTask) error {
	return f(ctx, task)
}

// TrackAPI is the slice of trackapi.Client the runner needs.
type TrackAPI interface {
	IdentifyProfile(ctx context.Context, data models.IdentifyProfileTaskData) error
	TrackEvent(ctx context.Context, data models.TrackEventTaskData) error
	RegisterDevice(ctx context.Context, data models.RegisterPushTokenTaskData) error
	DeleteDevice(ctx context.Context, data models.DeletePushTokenTaskData) error
	TrackPushMetric(ctx context.Context, data models.PushMetricTaskData) error
	TrackDeliveryEvent(ctx context.Context, data models.DeliveryEventTaskData) error
}

// APIRunner dispatches tasks to the track API by type.
type APIRunner struct {
	api    TrackAPI
	json   *jsonadapter.Adapter
	logger *log.Logger
}

func NewAPIRunner(api TrackAPI, logger *log.Logger) *APIRunner {
	logger = logging.OrDiscard(logger)
	return &APIRunner{api: api, json: jsonadapter.New(logger), logger: logger}
}

// RunTask decodes the payload for task.Type and calls the matching endpoint. A payload
// that does not decode was malformed when it was enqueued and retrying cannot fix it,
// so it is logged and reported as done.
func (r *APIRunner) RunTask(ctx context.Context, task models.QueueTask) error {
	switch task.Type {
	case models.TaskIdentifyProfile:
		return runDecoded(ctx, r, task, r.api.IdentifyProfile)
	case models.TaskTrackEvent:
		return runDecoded(ctx, r, task, r.api.TrackEvent)
	case models.TaskRegisterPushToken:
		return runDecoded(ctx, r, task, r.api.RegisterDevice)
	case models.TaskDeletePushToken:
		return runDecoded(ctx, r, task, r.api.DeleteDevice)
	case models.TaskTrackPushMetric:
		return runDecoded(ctx, r, task, r.api.TrackPushMetric)
	case models.TaskTrackDeliveryEvent:
		return runDecoded(ctx, r, task, r.api.TrackDeliveryEvent)
	default:
		r.logger.Error().Str("task", task.StorageID).Str("type", string(task.Type)).Msg("unknown task type, dropping task")
		return nil
	}
}

func runDecoded[T any](ctx context.Context, r *APIRunner, task models.QueueTask, call func(context.Context, T) error) error {
	data, ok := jsonadapter.FromJSON[T](r.json, task.Data)
	if !ok {
		r.logger.Error().Str("task", task.StorageID).Str("type", string(task.Type)).Msg("task data could not be decoded, dropping task")
		return nil
	}
	return call(ctx, data)
}
