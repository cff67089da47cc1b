package queue

import (
	"context"
	"errors"
	"sync"

	"cio-queue/internal/models"
	"cio-queue/internal/storage"
)

// memStore is an in-memory storage.Store whose saves can be made to fail.
type memStore struct {
	mu       sync.Mutex
	blobs    map[storage.Key][]byte
	failSave func(key storage.Key) bool
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[storage.Key][]byte)}
}

func (m *memStore) Get(_ context.Context, key storage.Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memStore) Save(_ context.Context, key storage.Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil && m.failSave(key) {
		return errors.New("disk full")
	}
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Delete(_ context.Context, key storage.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) dropTask(siteID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, storage.Key{SiteID: siteID, Type: storage.FileTypeQueueTask, ID: id})
}

// recorder is a Runner that records the payload of every task it runs.
type recorder struct {
	mu   sync.Mutex
	ran  []string
	fail func(data string) error
}

func (r *recorder) RunTask(_ context.Context, task models.QueueTask) error {
	r.mu.Lock()
	r.ran = append(r.ran, string(task.Data))
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail(string(task.Data))
	}
	return nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}
