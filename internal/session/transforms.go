package session

import (
	"fmt"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// Transforms applied to a session inside Store.Mutate. Each is a pure
// in-memory mutation; durability and conflict handling belong to Mutate.

// AddIteration appends a pending iteration to the model's column and returns
// its index. Returns ErrIterationLimit when the column is full; the column
// is left untouched in that case.
func AddIteration(sess *types.Session, model types.ModelName, prompt string) (int, error) {
	col, err := enabledColumn(sess, model)
	if err != nil {
		return 0, err
	}

	if len(col.Iterations) >= types.MaxIterations {
		return 0, fmt.Errorf("model %s has %d iterations: %w",
			model, len(col.Iterations), types.ErrIterationLimit)
	}

	index := len(col.Iterations)
	col.Iterations = append(col.Iterations, types.Iteration{
		Index:  index,
		Prompt: prompt,
		Status: types.IterationPending,
	})
	return index, nil
}

// StartIteration marks an iteration in_progress and stamps its start time.
func StartIteration(sess *types.Session, model types.ModelName, index int) error {
	it, err := iteration(sess, model, index)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	it.Status = types.IterationInProgress
	it.StartedAt = &now
	return nil
}

// CompleteIteration records a successful result. Terminal: the iteration
// never leaves this state.
func CompleteIteration(sess *types.Session, model types.ModelName, index int, imageKey string, duration float64) error {
	it, err := iteration(sess, model, index)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	it.Status = types.IterationCompleted
	it.ImageKey = imageKey
	it.Duration = duration
	it.CompletedAt = &now
	return nil
}

// FailIteration records a terminal failure with its error message.
func FailIteration(sess *types.Session, model types.ModelName, index int, message string) error {
	it, err := iteration(sess, model, index)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	it.Status = types.IterationError
	it.Error = message
	it.CompletedAt = &now
	return nil
}

// LatestImageKey returns the image key of the most recent completed
// iteration in the column, or "" if none completed yet.
func LatestImageKey(sess *types.Session, model types.ModelName) string {
	col := sess.Column(model)
	if col == nil {
		return ""
	}
	for i := len(col.Iterations) - 1; i >= 0; i-- {
		if col.Iterations[i].Status == types.IterationCompleted {
			return col.Iterations[i].ImageKey
		}
	}
	return ""
}

func enabledColumn(sess *types.Session, model types.ModelName) (*types.ModelColumn, error) {
	col := sess.Column(model)
	if col == nil {
		return nil, fmt.Errorf("session %s: model %s: %w", sess.ID, model, types.ErrNotFound)
	}
	if !col.Enabled {
		return nil, fmt.Errorf("session %s: model %s is disabled", sess.ID, model)
	}
	return col, nil
}

func iteration(sess *types.Session, model types.ModelName, index int) (*types.Iteration, error) {
	col, err := enabledColumn(sess, model)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(col.Iterations) {
		return nil, fmt.Errorf("session %s: model %s iteration %d: %w",
			sess.ID, model, index, types.ErrNotFound)
	}
	return &col.Iterations[index], nil
}
