// Package session owns the canonical session record. All state transitions
// go through Store.Mutate, which implements optimistic locking against the
// blob store: read, transform, conditional write, retry on conflict.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// mutateAttempts bounds the read-transform-write loop. Exhausting it
// surfaces ErrConcurrencyConflict instead of retrying forever and masking a
// deeper problem.
const mutateAttempts = 3

// Store provides durable, concurrency-safe CRUD on Session records.
type Store struct {
	blobs types.BlobStore
}

// NewStore creates a session store backed by the given blob store.
func NewStore(blobs types.BlobStore) *Store {
	return &Store{blobs: blobs}
}

func key(id types.SessionID) string {
	return fmt.Sprintf("sessions/%s/session.json", id)
}

// Create allocates a new session with one column per known model, enabled
// per the given list. The write is unconditional: the key is derived from a
// fresh UUID, so no contention is possible.
func (s *Store) Create(ctx context.Context, prompt string, enabled []types.ModelName) (*types.Session, error) {
	if len(enabled) == 0 {
		return nil, errors.New("create session: no models enabled")
	}

	enabledSet := make(map[types.ModelName]bool, len(enabled))
	for _, m := range enabled {
		if !knownModel(m) {
			return nil, fmt.Errorf("create session: unknown model %q", m)
		}
		enabledSet[m] = true
	}

	now := time.Now().UTC()
	sess := &types.Session{
		ID:        types.NewSessionID(),
		Prompt:    prompt,
		Status:    types.SessionPending,
		Version:   1,
		Models:    make(map[types.ModelName]*types.ModelColumn),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range types.AllModels() {
		col := &types.ModelColumn{Status: types.ColumnDisabled}
		if enabledSet[m] {
			col.Enabled = true
			col.Status = types.ColumnPending
		}
		sess.Models[m] = col
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.blobs.PutIfVersion(ctx, key(sess.ID), data, 0); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("session created",
		"session_id", string(sess.ID),
		"models", len(enabled),
	)
	return sess, nil
}

// Get reads and deserializes the session with the given ID.
func (s *Store) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	sess, _, err := s.load(ctx, id)
	return sess, err
}

func (s *Store) load(ctx context.Context, id types.SessionID) (*types.Session, int64, error) {
	data, version, err := s.blobs.Get(ctx, key(id))
	if err != nil {
		return nil, 0, err
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, 0, fmt.Errorf("session %s: %w: %v", id, types.ErrCorruptState, err)
	}
	return &sess, version, nil
}

// Mutate is the sole write path for existing sessions. fn receives the
// current record and mutates it in place; the aggregated status is
// recomputed and the version bumped before the conditional write. When a
// concurrent writer wins the race, the loser re-reads and reapplies its
// transform against the new state, up to mutateAttempts times.
func (s *Store) Mutate(ctx context.Context, id types.SessionID, fn func(*types.Session) error) (*types.Session, error) {
	for attempt := 1; attempt <= mutateAttempts; attempt++ {
		sess, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(sess); err != nil {
			return nil, err
		}

		Recompute(sess)
		sess.Version = version + 1
		sess.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}

		_, err = s.blobs.PutIfVersion(ctx, key(id), data, version)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, types.ErrVersionConflict) {
			return nil, err
		}

		slog.Debug("session write conflict, retrying",
			"session_id", string(id),
			"attempt", attempt,
		)
	}
	return nil, fmt.Errorf("session %s: %d attempts exhausted: %w",
		id, mutateAttempts, types.ErrConcurrencyConflict)
}

// List returns all stored sessions. Corrupt records are skipped with a
// warning so one bad blob cannot hide the rest.
func (s *Store) List(ctx context.Context) ([]*types.Session, error) {
	keys, err := s.blobs.List(ctx, "sessions/")
	if err != nil {
		return nil, err
	}

	var sessions []*types.Session
	for _, k := range keys {
		if !strings.HasSuffix(k, "/session.json") {
			continue
		}
		data, _, err := s.blobs.Get(ctx, k)
		if err != nil {
			continue
		}
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			slog.Warn("skipping corrupt session record", "key", k, "error", err)
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

// Delete removes the session record and everything stored under its prefix
// (context windows, images).
func (s *Store) Delete(ctx context.Context, id types.SessionID) error {
	for _, prefix := range []string{
		fmt.Sprintf("sessions/%s/", id),
		fmt.Sprintf("images/%s/", id),
	} {
		keys, err := s.blobs.List(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := s.blobs.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func knownModel(m types.ModelName) bool {
	for _, known := range types.AllModels() {
		if m == known {
			return true
		}
	}
	return false
}
