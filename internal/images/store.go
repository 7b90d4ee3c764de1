// Package images persists generated image payloads alongside the prompt
// that produced them, keyed by session, model, and iteration.
package images

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// Record is the stored form of one generated image.
type Record struct {
	SessionID types.SessionID `json:"sessionId"`
	Model     types.ModelName `json:"model"`
	Iteration int             `json:"iteration"`
	Prompt    string          `json:"prompt"`
	Output    []byte          `json:"output"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Store struct {
	blobs types.BlobStore
}

func NewStore(blobs types.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Key returns the blob key for an image without touching storage.
func Key(sessionID types.SessionID, model types.ModelName, iteration int) string {
	return fmt.Sprintf("images/%s/%s-%d.json", sessionID, model, iteration)
}

// Save writes an image record and returns its blob key.
func (s *Store) Save(ctx context.Context, sessionID types.SessionID, model types.ModelName, iteration int, output []byte, prompt string) (string, error) {
	rec := Record{
		SessionID: sessionID,
		Model:     model,
		Iteration: iteration,
		Prompt:    prompt,
		Output:    output,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal image record: %w", err)
	}
	key := Key(sessionID, model, iteration)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("save image %s: %w", key, err)
	}
	return key, nil
}

// Get loads an image record by its blob key.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	data, _, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("image %s: %w", key, types.ErrCorruptState)
	}
	return &rec, nil
}
