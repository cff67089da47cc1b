package queue

import (
	"sync"

	"cio-queue/internal/models"
)

// QueueQueryCriteria accumulates groups excluded for the rest of a drain.
type QueueQueryCriteria struct {
	ExcludeGroups map[string]struct{}
}

func newQueryCriteria() QueueQueryCriteria {
	return QueueQueryCriteria{ExcludeGroups: make(map[string]struct{})}
}

// QueryRunner picks the next task to run. It does no I/O.
type QueryRunner struct {
	mu       sync.Mutex
	criteria QueueQueryCriteria
}

func NewQueryRunner() *QueryRunner {
	return &QueryRunner{criteria: newQueryCriteria()}
}

// GetNextTask returns the first task in queue that is not a member of an excluded group.
// When lastFailed starts a group, that group is excluded first. FIFO applies when
// nothing has failed. nil means nothing in queue may run now.
func (q *QueryRunner) GetNextTask(queue []models.QueueTaskMetadata, lastFailed *models.QueueTaskMetadata) *models.QueueTaskMetadata {
	if len(queue) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if lastFailed == nil && len(q.criteria.ExcludeGroups) == 0 {
		next := queue[0]
		return &next
	}
	if lastFailed != nil && lastFailed.StartsGroup() {
		q.criteria.ExcludeGroups[*lastFailed.GroupStart] = struct{}{}
	}
	for _, item := range queue {
		if !item.IsMemberOfAny(q.criteria.ExcludeGroups) {
			next := item
			return &next
		}
	}
	return nil
}

// Reset clears the exclusion set. Called at the start of every drain.
func (q *QueryRunner) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.criteria = newQueryCriteria()
}

// ExcludedGroups returns a copy of the current exclusion set.
func (q *QueryRunner) ExcludedGroups() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	groups := make([]string, 0, len(q.criteria.ExcludeGroups))
	for g := range q.criteria.ExcludeGroups {
		groups = append(groups, g)
	}
	return groups
}
