package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"cio-queue/internal/jsonadapter"
	"cio-queue/internal/logging"
	"cio-queue/internal/models"
	"cio-queue/internal/storage"
)

const inventoryID = "inventory"

// Storage persists the inventory and task bodies of one site. It never returns errors:
// failures are logged and reported as false / nil.
type Storage struct {
	siteID string
	blobs  storage.Store
	json   *jsonadapter.Adapter
	logger *log.Logger
	now    func() time.Time

	// guards inventory read-modify-write so Create can interleave with a drain
	mu sync.Mutex
}

// NewStorage binds a blob store to siteID.
func NewStorage(siteID string, blobs storage.Store, logger *log.Logger) *Storage {
	logger = logging.OrDiscard(logger)
	return &Storage{
		siteID: siteID,
		blobs:  blobs,
		json:   jsonadapter.New(logger),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Storage) inventoryKey() storage.Key {
	return storage.Key{SiteID: s.siteID, Type: storage.FileTypeQueueInventory, ID: inventoryID}
}

func (s *Storage) taskKey(storageID string) storage.Key {
	return storage.Key{SiteID: s.siteID, Type: storage.FileTypeQueueTask, ID: storageID}
}

// GetInventory returns the ordered inventory, or an empty list if absent or corrupt.
func (s *Storage) GetInventory(ctx context.Context) []models.QueueTaskMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getInventoryLocked(ctx)
}

func (s *Storage) getInventoryLocked(ctx context.Context) []models.QueueTaskMetadata {
	data, err := s.blobs.Get(ctx, s.inventoryKey())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Str("site", s.siteID).Msg("read queue inventory")
		}
		return []models.QueueTaskMetadata{}
	}
	items, ok := jsonadapter.FromJSON[[]models.QueueTaskMetadata](s.json, data)
	if !ok || items == nil {
		return []models.QueueTaskMetadata{}
	}
	return items
}

// SaveInventory overwrites the inventory.
func (s *Storage) SaveInventory(ctx context.Context, items []models.QueueTaskMetadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveInventoryLocked(ctx, items)
}

func (s *Storage) saveInventoryLocked(ctx context.Context, items []models.QueueTaskMetadata) bool {
	if items == nil {
		items = []models.QueueTaskMetadata{}
	}
	data, ok := jsonadapter.ToJSON(s.json, items)
	if !ok {
		return false
	}
	if err := s.blobs.Save(ctx, s.inventoryKey(), data); err != nil {
		s.logger.Error().Err(err).Str("site", s.siteID).Msg("save queue inventory")
		return false
	}
	return true
}

// Create persists a new task body, then appends its metadata to the inventory.
// If the body cannot be written the inventory is left untouched. If the inventory
// save fails the orphaned body stays on disk; nothing references it so it never runs.
func (s *Storage) Create(ctx context.Context, taskType models.QueueTaskType, data []byte, groupStart *string, groupMember []string) (bool, models.QueueStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inventory := s.getInventoryLocked(ctx)
	status := models.QueueStatus{QueueID: s.siteID, NumTasksInQueue: len(inventory)}

	task := models.QueueTask{
		StorageID:  uuid.NewString(),
		Type:       taskType,
		Data:       data,
		RunResults: models.QueueTaskRunResults{TotalRuns: 0},
	}
	if !s.saveTask(ctx, task) {
		return false, status
	}

	inventory = append(inventory, models.QueueTaskMetadata{
		TaskPersistedID: task.StorageID,
		TaskType:        taskType,
		GroupStart:      groupStart,
		GroupMember:     groupMember,
		CreatedAt:       s.now().UTC(),
	})
	if !s.saveInventoryLocked(ctx, inventory) {
		return false, status
	}

	s.logger.Debug().Str("site", s.siteID).Str("task", task.StorageID).Str("type", string(taskType)).Int("queue_size", len(inventory)).Msg("task added to queue")
	return true, models.QueueStatus{QueueID: s.siteID, NumTasksInQueue: len(inventory)}
}

// Update replaces a task's run results. Updating a missing task fails without side effects.
func (s *Storage) Update(ctx context.Context, storageID string, runResults models.QueueTaskRunResults) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.Get(ctx, storageID)
	if !ok {
		return false
	}
	task.RunResults = runResults
	return s.saveTask(ctx, *task)
}

// Get loads one task body.
func (s *Storage) Get(ctx context.Context, storageID string) (*models.QueueTask, bool) {
	data, err := s.blobs.Get(ctx, s.taskKey(storageID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Str("task", storageID).Msg("read queue task")
		}
		return nil, false
	}
	task, ok := jsonadapter.FromJSON[models.QueueTask](s.json, data)
	if !ok {
		return nil, false
	}
	return &task, true
}

// Delete removes the task body and its inventory entry. It reports whether the body existed.
func (s *Storage) Delete(ctx context.Context, storageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.blobs.Delete(ctx, s.taskKey(storageID))
	deleted := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Str("task", storageID).Msg("delete queue task")
	}

	inventory := s.getInventoryLocked(ctx)
	kept := inventory[:0]
	for _, item := range inventory {
		if item.TaskPersistedID != storageID {
			kept = append(kept, item)
		}
	}
	if len(kept) != len(inventory) {
		s.saveInventoryLocked(ctx, kept)
	}
	return deleted
}

// DeleteExpired removes tasks created before cutoff and returns their ids. Tasks that
// start a group are kept: removing one would strand the members waiting on it.
func (s *Storage) DeleteExpired(ctx context.Context, cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	inventory := s.getInventoryLocked(ctx)
	var expired []string
	kept := make([]models.QueueTaskMetadata, 0, len(inventory))
	for _, item := range inventory {
		if item.CreatedAt.Before(cutoff) && !item.StartsGroup() {
			expired = append(expired, item.TaskPersistedID)
			continue
		}
		kept = append(kept, item)
	}
	if len(expired) == 0 {
		return nil
	}
	if !s.saveInventoryLocked(ctx, kept) {
		return nil
	}
	for _, id := range expired {
		if err := s.blobs.Delete(ctx, s.taskKey(id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Str("task", id).Msg("delete expired task body")
		}
	}
	return expired
}

// Status returns the current queue snapshot.
func (s *Storage) Status(ctx context.Context) models.QueueStatus {
	return models.QueueStatus{QueueID: s.siteID, NumTasksInQueue: len(s.GetInventory(ctx))}
}

func (s *Storage) saveTask(ctx context.Context, task models.QueueTask) bool {
	data, ok := jsonadapter.ToJSON(s.json, task)
	if !ok {
		return false
	}
	if err := s.blobs.Save(ctx, s.taskKey(task.StorageID), data); err != nil {
		s.logger.Error().Err(err).Str("task", task.StorageID).Msg("save queue task")
		return false
	}
	return true
}
