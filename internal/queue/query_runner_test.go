package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cio-queue/internal/models"
)

func meta(id string, groupStart string, members ...string) models.QueueTaskMetadata {
	m := models.QueueTaskMetadata{TaskPersistedID: id, TaskType: models.TaskTrackEvent, GroupMember: members}
	if groupStart != "" {
		m.GroupStart = &groupStart
	}
	return m
}

func TestGetNextTaskFIFO(t *testing.T) {
	q := NewQueryRunner()
	assert.Nil(t, q.GetNextTask(nil, nil))

	queue := []models.QueueTaskMetadata{meta("1", ""), meta("2", "")}
	next := q.GetNextTask(queue, nil)
	require.NotNil(t, next)
	assert.Equal(t, "1", next.TaskPersistedID)
}

func TestGetNextTaskExcludesFailedGroup(t *testing.T) {
	q := NewQueryRunner()
	failed := meta("identify", "identified_profile_a")
	queue := []models.QueueTaskMetadata{
		meta("event-a", "", "identified_profile_a"),
		meta("event-b", "", "identified_profile_b"),
	}

	next := q.GetNextTask(queue, &failed)
	require.NotNil(t, next)
	assert.Equal(t, "event-b", next.TaskPersistedID)
	assert.Equal(t, []string{"identified_profile_a"}, q.ExcludedGroups())

	// the exclusion outlives the call
	next = q.GetNextTask(queue, nil)
	require.NotNil(t, next)
	assert.Equal(t, "event-b", next.TaskPersistedID)

	assert.Nil(t, q.GetNextTask(queue[:1], nil))
}

func TestGetNextTaskFailedMemberExcludesNothing(t *testing.T) {
	q := NewQueryRunner()
	failed := meta("event", "", "identified_profile_a")
	queue := []models.QueueTaskMetadata{meta("event-2", "", "identified_profile_a")}

	next := q.GetNextTask(queue, &failed)
	require.NotNil(t, next)
	assert.Equal(t, "event-2", next.TaskPersistedID)
	assert.Empty(t, q.ExcludedGroups())
}

func TestQueryRunnerReset(t *testing.T) {
	q := NewQueryRunner()
	failed := meta("identify", "identified_profile_a")
	queue := []models.QueueTaskMetadata{meta("event-a", "", "identified_profile_a")}
	assert.Nil(t, q.GetNextTask(queue, &failed))

	q.Reset()
	assert.Empty(t, q.ExcludedGroups())
	next := q.GetNextTask(queue, nil)
	require.NotNil(t, next)
	assert.Equal(t, "event-a", next.TaskPersistedID)
}
