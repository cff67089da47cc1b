package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cio-queue/internal/models"
	"cio-queue/internal/storage"
	"cio-queue/internal/trackapi"
)

type fakeAPI struct {
	mu          sync.Mutex
	identified  []string
	events      []string
	devices     []string
	deleted     []string
	metrics     []string
	deliveries  []string
	metricTimes []int64
	identifyErr error
	metricErr   error
}

func (f *fakeAPI) IdentifyProfile(_ context.Context, data models.IdentifyProfileTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identified = append(f.identified, data.Identifier)
	return f.identifyErr
}

func (f *fakeAPI) TrackEvent(_ context.Context, data models.TrackEventTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, data.Identifier+":"+data.Name)
	return nil
}

func (f *fakeAPI) RegisterDevice(_ context.Context, data models.RegisterPushTokenTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, data.DeviceToken)
	return nil
}

func (f *fakeAPI) DeleteDevice(_ context.Context, data models.DeletePushTokenTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, data.DeviceToken)
	return nil
}

func (f *fakeAPI) TrackPushMetric(_ context.Context, data models.PushMetricTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, data.DeliveryID+":"+data.Event)
	f.metricTimes = append(f.metricTimes, data.Timestamp)
	return f.metricErr
}

func (f *fakeAPI) TrackDeliveryEvent(_ context.Context, data models.DeliveryEventTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, data.DeliveryID+":"+data.Event)
	return nil
}

func newTestQueue(runner Runner) *Queue {
	return New(Options{SiteID: "site", Blobs: newMemStore(), Runner: runner, TaskExpiry: time.Hour})
}

func TestTypedAddsAttachGroups(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(&recorder{})

	_, err := q.AddIdentifyTask(ctx, models.IdentifyProfileTaskData{Identifier: "p1"})
	require.NoError(t, err)
	_, err = q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p1", Name: "purchase"})
	require.NoError(t, err)
	_, err = q.AddRegisterPushTokenTask(ctx, models.RegisterPushTokenTaskData{ProfileIdentifier: "p1", DeviceToken: "tok", Platform: "ios"})
	require.NoError(t, err)
	_, err = q.AddDeletePushTokenTask(ctx, models.DeletePushTokenTaskData{ProfileIdentifier: "p1", DeviceToken: "tok"})
	require.NoError(t, err)
	_, err = q.AddPushMetricTask(ctx, models.PushMetricTaskData{DeliveryID: "d1", DeviceToken: "tok", Event: "opened"})
	require.NoError(t, err)
	status, err := q.AddDeliveryEventTask(ctx, models.DeliveryEventTaskData{DeliveryID: "d2", Event: "clicked"})
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatus{QueueID: "site", NumTasksInQueue: 6}, status)

	inv := q.Inventory(ctx)
	require.Len(t, inv, 6)

	assert.Equal(t, models.TaskIdentifyProfile, inv[0].TaskType)
	assert.Equal(t, "identified_profile_p1", *inv[0].GroupStart)
	assert.Empty(t, inv[0].GroupMember)

	assert.Nil(t, inv[1].GroupStart)
	assert.Equal(t, []string{"identified_profile_p1"}, inv[1].GroupMember)

	assert.Equal(t, "registered_push_token_tok", *inv[2].GroupStart)
	assert.Equal(t, []string{"identified_profile_p1"}, inv[2].GroupMember)

	assert.Equal(t, []string{"identified_profile_p1", "registered_push_token_tok"}, inv[3].GroupMember)

	assert.Nil(t, inv[4].GroupStart)
	assert.Empty(t, inv[4].GroupMember)
	assert.Equal(t, models.TaskTrackDeliveryEvent, inv[5].TaskType)
}

func TestTypedAddRejectsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(&recorder{})

	_, err := q.AddIdentifyTask(ctx, models.IdentifyProfileTaskData{})
	assert.Error(t, err)
	_, err = q.AddRegisterPushTokenTask(ctx, models.RegisterPushTokenTaskData{ProfileIdentifier: "p", DeviceToken: "t", Platform: "windows"})
	assert.Error(t, err)
	_, err = q.AddPushMetricTask(ctx, models.PushMetricTaskData{DeliveryID: "d", DeviceToken: "t", Event: "bounced"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.False(t, errors.Is(err, ErrTaskNotPersisted))

	assert.Empty(t, q.Inventory(ctx))
}

func TestAddJSONTask(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(&recorder{})

	status, err := q.AddJSONTask(ctx, models.TaskRegisterPushToken, []byte(`{"profileIdentifier":"p","deviceToken":"t","platform":"android"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumTasksInQueue)
	inv := q.Inventory(ctx)
	assert.Equal(t, "registered_push_token_t", *inv[0].GroupStart)

	_, err = q.AddJSONTask(ctx, models.TaskTrackEvent, []byte(`{"identifier":`))
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = q.AddJSONTask(ctx, models.TaskTrackEvent, []byte(`{"identifier":"p"}`))
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = q.AddJSONTask(ctx, models.QueueTaskType("send_email"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.Len(t, q.Inventory(ctx), 1)
}

func TestTypedAddReportsStorageFailure(t *testing.T) {
	ctx := context.Background()
	blobs := newMemStore()
	blobs.failSave = func(storage.Key) bool { return true }
	q := New(Options{SiteID: "site", Blobs: blobs, Runner: &recorder{}})

	_, err := q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p", Name: "n"})
	assert.ErrorIs(t, err, ErrTaskNotPersisted)
	assert.Empty(t, q.Inventory(ctx))
}

func TestRunAndWaitDeliversThroughAPIRunner(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{identifyErr: &trackapi.HTTPError{Method: "PUT", Path: "/api/v1/customers/p2", StatusCode: 500}}
	q := newTestQueue(NewAPIRunner(api, nil))

	_, err := q.AddIdentifyTask(ctx, models.IdentifyProfileTaskData{Identifier: "p2"})
	require.NoError(t, err)
	_, err = q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p2", Name: "blocked"})
	require.NoError(t, err)
	_, err = q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p3", Name: "viewed"})
	require.NoError(t, err)
	_, err = q.AddDeliveryEventTask(ctx, models.DeliveryEventTaskData{DeliveryID: "d", Event: "opened"})
	require.NoError(t, err)

	result, err := q.RunAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Succeeded: 2, Failed: 1, Remaining: 1}, result)
	assert.Equal(t, []string{"p2"}, api.identified)
	assert.Equal(t, []string{"p3:viewed"}, api.events)
	assert.Equal(t, []string{"d:opened"}, api.deliveries)
	assert.Equal(t, 2, q.Status(ctx).NumTasksInQueue)
	assert.False(t, q.IsRunning())

	api.identifyErr = nil
	result, err = q.RunAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Succeeded: 2}, result)
	assert.Equal(t, []string{"p2", "p2"}, api.identified)
	assert.Equal(t, []string{"p3:viewed", "p2:blocked"}, api.events)
	assert.Equal(t, 0, q.Status(ctx).NumTasksInQueue)
}

func TestAPIRunnerDropsUndecodableTasks(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	q := newTestQueue(NewAPIRunner(api, nil))

	ok, _ := q.AddTask(ctx, models.TaskTrackEvent, []byte(`[1,2`), nil, nil)
	require.True(t, ok)
	ok, _ = q.AddTask(ctx, models.QueueTaskType("legacy_type"), []byte(`{}`), nil, nil)
	require.True(t, ok)

	result, err := q.RunAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, api.events)
	assert.Empty(t, q.Inventory(ctx))
}

func TestAPIRunnerHaltsOnAuthFailure(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{identifyErr: &trackapi.HTTPError{Method: "PUT", Path: "/api/v1/customers/p", StatusCode: 401}}
	q := newTestQueue(NewAPIRunner(api, nil))
	_, err := q.AddIdentifyTask(ctx, models.IdentifyProfileTaskData{Identifier: "p"})
	require.NoError(t, err)
	_, err = q.AddDeliveryEventTask(ctx, models.DeliveryEventTaskData{DeliveryID: "d", Event: "opened"})
	require.NoError(t, err)

	result, err := q.RunAndWait(ctx)
	require.NoError(t, err)
	assert.True(t, result.Halted)
	assert.Empty(t, api.deliveries)
	assert.Equal(t, 2, q.Status(ctx).NumTasksInQueue)
}

func TestDeleteExpiredTasks(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(&recorder{})
	q.storage.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, err := q.AddIdentifyTask(ctx, models.IdentifyProfileTaskData{Identifier: "p"})
	require.NoError(t, err)
	_, err = q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p", Name: "stale"})
	require.NoError(t, err)
	q.storage.now = time.Now
	_, err = q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p", Name: "fresh"})
	require.NoError(t, err)

	expired := q.DeleteExpiredTasks(ctx)
	assert.Len(t, expired, 1)
	assert.Equal(t, 2, q.Status(ctx).NumTasksInQueue)

	q.expiry = 0
	assert.Nil(t, q.DeleteExpiredTasks(ctx))
}

func TestQueuedMetricKeepsEnqueueTimestamp(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{metricErr: &trackapi.HTTPError{Method: "POST", Path: "/push/events", StatusCode: 503}}
	q := newTestQueue(NewAPIRunner(api, nil))
	queuedAt := time.Now().Add(-48 * time.Hour)
	q.storage.now = func() time.Time { return queuedAt }

	_, err := q.AddPushMetricTask(ctx, models.PushMetricTaskData{DeliveryID: "d", DeviceToken: "tok", Event: "opened"})
	require.NoError(t, err)
	_, err = q.AddPushMetricTask(ctx, models.PushMetricTaskData{DeliveryID: "d2", DeviceToken: "tok", Event: "opened", Timestamp: 42})
	require.NoError(t, err)
	q.storage.now = time.Now

	result, err := q.RunAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)

	api.metricErr = nil
	result, err = q.RunAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, []int64{queuedAt.Unix(), 42, queuedAt.Unix(), 42}, api.metricTimes)
}

func TestTypedAddsStampEventTimes(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	q := newTestQueue(rec)
	queuedAt := time.Unix(1700000000, 0)
	q.storage.now = func() time.Time { return queuedAt }

	_, err := q.AddTrackEventTask(ctx, models.TrackEventTaskData{Identifier: "p", Name: "n"})
	require.NoError(t, err)
	_, err = q.AddDeliveryEventTask(ctx, models.DeliveryEventTaskData{DeliveryID: "d", Event: "opened"})
	require.NoError(t, err)

	for _, item := range q.Inventory(ctx) {
		task, ok := q.Task(ctx, item.TaskPersistedID)
		require.True(t, ok)
		assert.Contains(t, string(task.Data), `"timestamp":1700000000`)
	}
}

func TestRunAndWaitReturnsZeroWhenContextEndsFirst(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := newTestQueue(RunnerFunc(func(context.Context, models.QueueTask) error {
		started <- struct{}{}
		<-release
		return nil
	}))
	_, err := q.AddDeliveryEventTask(ctx, models.DeliveryEventTaskData{DeliveryID: "d", Event: "opened"})
	require.NoError(t, err)
	_, err = q.AddDeliveryEventTask(ctx, models.DeliveryEventTaskData{DeliveryID: "d2", Event: "opened"})
	require.NoError(t, err)

	q.Run(ctx, nil)
	<-started

	waitCtx, cancel := context.WithCancel(ctx)
	cancel()
	result, err := q.RunDetachedAndWait(waitCtx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DrainResult{}, result)

	// the detached drain is not cut short by the caller leaving
	release <- struct{}{}
	<-started
	close(release)
	assert.Eventually(t, func() bool { return !q.IsRunning() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Status(ctx).NumTasksInQueue)
}
