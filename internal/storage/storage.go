// Package storage is the typed blob store the queue persists into. Every backend
// stores opaque bytes under a (site, file type, id) key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get and Delete when no blob exists for the key.
var ErrNotFound = errors.New("blob not found")

// FileType namespaces blobs within a site.
type FileType string

const (
	FileTypeQueueInventory FileType = "queue_inventory"
	FileTypeQueueTask      FileType = "queue_task"
)

// Key addresses one blob.
type Key struct {
	SiteID string
	Type   FileType
	ID     string
}

func (k Key) String() string {
	return k.SiteID + "/" + string(k.Type) + "/" + k.ID
}

// Validate rejects keys that could escape their namespace on path-based backends.
func (k Key) Validate() error {
	for name, part := range map[string]string{"site id": k.SiteID, "file type": string(k.Type), "id": k.ID} {
		if part == "" {
			return fmt.Errorf("%s is empty", name)
		}
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return fmt.Errorf("%s %q contains a path separator", name, part)
		}
	}
	return nil
}

// Store is implemented by every blob backend.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Save(ctx context.Context, key Key, data []byte) error
	Delete(ctx context.Context, key Key) error
	Close() error
}
