package models

import (
	"time"
)

// QueueTaskType identifies the kind of work a task performs. Each value maps to one
// execution branch in the queue runner.
type QueueTaskType string

const (
	TaskIdentifyProfile    QueueTaskType = "identify_profile"
	TaskTrackEvent         QueueTaskType = "track_event"
	TaskRegisterPushToken  QueueTaskType = "register_push_token"
	TaskDeletePushToken    QueueTaskType = "delete_push_token"
	TaskTrackPushMetric    QueueTaskType = "track_push_metric"
	TaskTrackDeliveryEvent QueueTaskType = "track_delivery_event"
)

// AllTaskTypes lists every known task type in a stable order.
var AllTaskTypes = []QueueTaskType{
	TaskIdentifyProfile,
	TaskTrackEvent,
	TaskRegisterPushToken,
	TaskDeletePushToken,
	TaskTrackPushMetric,
	TaskTrackDeliveryEvent,
}

// Valid reports whether t is a known task type.
func (t QueueTaskType) Valid() bool {
	for _, known := range AllTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// QueueTaskRunResults is the only part of a task mutated after creation.
type QueueTaskRunResults struct {
	TotalRuns int `json:"totalRuns"`
}

// QueueTask is the durable body of one enqueued operation. Data is opaque to the queue;
// only the runner decodes it. It is persisted base64 encoded.
type QueueTask struct {
	StorageID  string              `json:"storageId"`
	Type       QueueTaskType       `json:"type"`
	Data       []byte              `json:"data"`
	RunResults QueueTaskRunResults `json:"runResults"`
}

// QueueTaskMetadata is the inventory entry for a task. TaskType is a denormalized copy
// so callers can branch on type without loading the body.
type QueueTaskMetadata struct {
	TaskPersistedID string        `json:"taskPersistedId"`
	TaskType        QueueTaskType `json:"taskType"`
	GroupStart      *string       `json:"groupStart,omitempty"`
	GroupMember     []string      `json:"groupMember,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// IsMemberOfAny reports whether the task belongs to any of the given groups.
func (m QueueTaskMetadata) IsMemberOfAny(groups map[string]struct{}) bool {
	for _, g := range m.GroupMember {
		if _, ok := groups[g]; ok {
			return true
		}
	}
	return false
}

// StartsGroup reports whether the task begins a group.
func (m QueueTaskMetadata) StartsGroup() bool {
	return m.GroupStart != nil && *m.GroupStart != ""
}

// QueueStatus is a read-only snapshot returned after mutating operations.
type QueueStatus struct {
	QueueID         string `json:"queueId"`
	NumTasksInQueue int    `json:"numTasksInQueue"`
}
