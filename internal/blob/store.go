// Package blob provides a file-backed implementation of the versioned
// key/blob store contract. Each key maps to a JSON wrapper file holding the
// blob bytes and a monotonically increasing version used for conditional
// writes.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// wrapper is the on-disk format: {"version": N, "data": <base64>}.
type wrapper struct {
	Version int64  `json:"version"`
	Data    []byte `json:"data"`
}

// FileStore is a filesystem-backed BlobStore rooted at a directory.
// Writes are atomic (temp file + rename) and serialized per store, which is
// what makes PutIfVersion's read-compare-write sequence safe in-process.
type FileStore struct {
	root  string
	retry *RetryPolicy
	mu    sync.RWMutex
}

var _ types.BlobStore = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, retry: DefaultRetryPolicy()}
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FileStore) read(key string) (*wrapper, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, types.ErrNotFound)
		}
		return nil, &types.StorageError{Op: "read", Key: key, Err: err}
	}

	var w wrapper
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", key, types.ErrCorruptState, err)
	}
	return &w, nil
}

// write persists the wrapper atomically, retrying transient failures.
func (s *FileStore) write(key string, w *wrapper) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(w)
	if err != nil {
		return &types.StorageError{Op: "marshal", Key: key, Err: err}
	}

	err = s.retry.Execute(func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create blob dir: %w", err)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write temp blob: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("rename temp blob: %w", err)
		}
		return nil
	})
	if err != nil {
		return &types.StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Get returns the blob bytes and current version for the key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, err := s.read(key)
	if err != nil {
		return nil, 0, err
	}
	return w.Data, w.Version, nil
}

// Put writes the blob unconditionally, bumping the version past whatever is
// currently stored.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if w, err := s.read(key); err == nil {
		version = w.Version
	}
	return s.write(key, &wrapper{Version: version + 1, Data: data})
}

// PutIfVersion writes the blob only if the stored version equals expected.
// expected == 0 requires the key to be absent. Returns the new version.
func (s *FileStore) PutIfVersion(_ context.Context, key string, data []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	w, err := s.read(key)
	switch {
	case err == nil:
		current = w.Version
	case errors.Is(err, types.ErrNotFound):
		current = 0
	default:
		return 0, err
	}

	if current != expected {
		return 0, fmt.Errorf("%s: stored version %d, expected %d: %w",
			key, current, expected, types.ErrVersionConflict)
	}

	next := expected + 1
	if err := s.write(key, &wrapper{Version: next, Data: data}); err != nil {
		return 0, err
	}
	return next, nil
}

// Delete removes a key. Absent keys are not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &types.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List returns all keys with the given prefix, in unspecified order.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, &types.StorageError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}
