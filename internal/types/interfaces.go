// internal/types/interfaces.go
package types

import "context"

// BlobStore is an external key/blob store with version-checked writes.
// Versions start at 1 on first write and increase by 1 per successful write.
type BlobStore interface {
	// Get returns the blob and its current version. ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, int64, error)

	// Put writes unconditionally, creating the key if needed.
	Put(ctx context.Context, key string, data []byte) error

	// PutIfVersion writes only if the stored version equals expected
	// (0 means the key must not exist). Returns the new version, or
	// ErrVersionConflict when a concurrent writer won.
	PutIfVersion(ctx context.Context, key string, data []byte, expected int64) (int64, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
