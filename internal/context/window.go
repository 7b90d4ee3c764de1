// Package context maintains the rolling refinement history each provider
// sees during multi-turn editing: the last WindowSize (prompt, image) turns
// per (session, model) column, FIFO-evicted.
package context

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// WindowSize is the fixed capacity of a column's context window.
const WindowSize = 3

// record is the stored shape of one column's window.
type record struct {
	SessionID types.SessionID      `json:"sessionId"`
	Model     types.ModelName      `json:"model"`
	Window    []types.ContextEntry `json:"window"`
}

// Manager reads and writes context windows in the blob store.
//
// Append is not version-checked: only one iteration task is ever in flight
// per (session, model) column because the caller-facing API serializes
// iteration requests per column. That assumption lives here, not in the
// store.
type Manager struct {
	blobs types.BlobStore
}

// NewManager creates a context window manager backed by the given store.
func NewManager(blobs types.BlobStore) *Manager {
	return &Manager{blobs: blobs}
}

func key(id types.SessionID, model types.ModelName) string {
	return fmt.Sprintf("sessions/%s/context/%s.json", id, model)
}

// Get returns the column's window, oldest first. A missing or corrupt
// record degrades to an empty window: context is an optimization, and a bad
// record must never block an iteration.
func (m *Manager) Get(ctx context.Context, id types.SessionID, model types.ModelName) []types.ContextEntry {
	data, _, err := m.blobs.Get(ctx, key(id, model))
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			slog.Warn("context window unreadable, using empty window",
				"session_id", string(id),
				"model", string(model),
				"error", err,
			)
		}
		return nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("context window corrupt, using empty window",
			"session_id", string(id),
			"model", string(model),
			"error", err,
		)
		return nil
	}
	return rec.Window
}

// Append adds an entry to the column's window, evicting the oldest entries
// beyond WindowSize, and writes the result back.
func (m *Manager) Append(ctx context.Context, id types.SessionID, model types.ModelName, entry types.ContextEntry) error {
	window := append(m.Get(ctx, id, model), entry)
	if len(window) > WindowSize {
		window = window[len(window)-WindowSize:]
	}

	data, err := json.Marshal(record{SessionID: id, Model: model, Window: window})
	if err != nil {
		return fmt.Errorf("marshal context window: %w", err)
	}
	return m.blobs.Put(ctx, key(id, model), data)
}

// Clear removes the column's window.
func (m *Manager) Clear(ctx context.Context, id types.SessionID, model types.ModelName) error {
	return m.blobs.Delete(ctx, key(id, model))
}
