package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"
)

// blobRecord is the badgerhold value type. The type name is part of the badgerhold key prefix.
type blobRecord struct {
	Key  string `badgerhold:"key"`
	Data []byte
}

// BadgerStore keeps blobs in an embedded Badger database.
type BadgerStore struct {
	store *badgerhold.Store
}

// NewBadgerStore opens (creating if needed) the database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{store: store}, nil
}

func (b *BadgerStore) Get(_ context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var rec blobRecord
	err := b.store.Get(key.String(), &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return rec.Data, nil
}

func (b *BadgerStore) Save(_ context.Context, key Key, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	rec := &blobRecord{Key: key.String(), Data: data}
	if err := b.store.Upsert(rec.Key, rec); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (b *BadgerStore) Delete(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := b.store.Delete(key.String(), &blobRecord{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
