package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/blob"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(blob.NewFileStore(t.TempDir()))
}

func TestCreateInitializesColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "a sunset", []types.ModelName{types.ModelFlux, types.ModelGemini})
	if err != nil {
		t.Fatal(err)
	}

	if sess.Status != types.SessionPending {
		t.Errorf("expected pending, got %s", sess.Status)
	}
	if sess.Version != 1 {
		t.Errorf("expected version 1, got %d", sess.Version)
	}
	if !sess.Models[types.ModelFlux].Enabled || !sess.Models[types.ModelGemini].Enabled {
		t.Error("enabled models not marked enabled")
	}
	if sess.Models[types.ModelRecraft].Enabled {
		t.Error("recraft should be disabled")
	}
	if sess.Models[types.ModelRecraft].Status != types.ColumnDisabled {
		t.Errorf("expected disabled status, got %s", sess.Models[types.ModelRecraft].Status)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Prompt != "a sunset" {
		t.Errorf("unexpected prompt: %s", loaded.Prompt)
	}
}

func TestCreateRejectsUnknownModel(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(context.Background(), "p", []types.ModelName{"dalle9000"})
	if err == nil {
		t.Error("expected error for unknown model")
	}

	_, err = store.Create(context.Background(), "p", nil)
	if err == nil {
		t.Error("expected error for empty model list")
	}
}

func TestGetMissingSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-id")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "p", []types.ModelName{types.ModelFlux})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := store.Mutate(ctx, sess.ID, func(s *types.Session) error {
		_, err := AddIteration(s, types.ModelFlux, "p")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
}

func TestMutateFnErrorAborts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "p", []types.ModelName{types.ModelFlux})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err = store.Mutate(ctx, sess.ID, func(s *types.Session) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fn error, got %v", err)
	}

	// Nothing written.
	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != 1 {
		t.Errorf("expected version 1 after aborted mutate, got %d", loaded.Version)
	}
}

// Concurrent mutations against distinct columns must all survive: each
// transform's effect is observable in the final state and the version
// advances once per successful write.
func TestMutateConcurrentColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	models := types.AllModels()
	sess, err := store.Create(ctx, "p", models)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(models))
	for _, model := range models {
		wg.Add(1)
		go func(m types.ModelName) {
			defer wg.Done()
			_, err := store.Mutate(ctx, sess.ID, func(s *types.Session) error {
				_, err := AddIteration(s, m, "p")
				return err
			})
			errs <- err
		}(model)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, types.ErrConcurrencyConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	final, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Version != int64(1+succeeded) {
		t.Errorf("expected version %d, got %d", 1+succeeded, final.Version)
	}

	// No successful transform may be silently lost.
	present := 0
	for _, m := range models {
		present += len(final.Models[m].Iterations)
	}
	if present != succeeded {
		t.Errorf("expected %d iterations present, got %d", succeeded, present)
	}
	// With 3 retries and 4 writers every transform should land in practice.
	if succeeded < len(models)-1 {
		t.Errorf("expected at least %d successful mutations, got %d", len(models)-1, succeeded)
	}
}

func TestIterationCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "p", []types.ModelName{types.ModelFlux})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < types.MaxIterations; i++ {
		_, err := store.Mutate(ctx, sess.ID, func(s *types.Session) error {
			idx, err := AddIteration(s, types.ModelFlux, "p")
			if err != nil {
				return err
			}
			if idx != i {
				t.Errorf("expected index %d, got %d", i, idx)
			}
			return CompleteIteration(s, types.ModelFlux, idx, "key", 1.0)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	_, err = store.Mutate(ctx, sess.ID, func(s *types.Session) error {
		_, err := AddIteration(s, types.ModelFlux, "one too many")
		return err
	})
	if !errors.Is(err, types.ErrIterationLimit) {
		t.Errorf("expected ErrIterationLimit, got %v", err)
	}

	// The rejected append must not mutate the column.
	final, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(final.Models[types.ModelFlux].Iterations); n != types.MaxIterations {
		t.Errorf("expected %d iterations, got %d", types.MaxIterations, n)
	}
}

func TestLatestImageKey(t *testing.T) {
	sess := &types.Session{
		ID:     "s",
		Models: map[types.ModelName]*types.ModelColumn{types.ModelFlux: {Enabled: true}},
	}

	if k := LatestImageKey(sess, types.ModelFlux); k != "" {
		t.Errorf("expected empty key, got %q", k)
	}

	if _, err := AddIteration(sess, types.ModelFlux, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := CompleteIteration(sess, types.ModelFlux, 0, "key-0", 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := AddIteration(sess, types.ModelFlux, "p2"); err != nil {
		t.Fatal(err)
	}

	// Latest completed, not latest appended.
	if k := LatestImageKey(sess, types.ModelFlux); k != "key-0" {
		t.Errorf("expected key-0, got %q", k)
	}
}

func TestListSkipsCorrupt(t *testing.T) {
	blobs := blob.NewFileStore(t.TempDir())
	store := NewStore(blobs)
	ctx := context.Background()

	if _, err := store.Create(ctx, "good", []types.ModelName{types.ModelFlux}); err != nil {
		t.Fatal(err)
	}
	if err := blobs.Put(ctx, "sessions/bad/session.json", []byte("{oops")); err != nil {
		t.Fatal(err)
	}

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(sessions))
	}
}

func TestDeleteRemovesAllRecords(t *testing.T) {
	blobs := blob.NewFileStore(t.TempDir())
	store := NewStore(blobs)
	ctx := context.Background()

	sess, err := store.Create(ctx, "p", []types.ModelName{types.ModelFlux})
	if err != nil {
		t.Fatal(err)
	}
	if err := blobs.Put(ctx, "sessions/"+string(sess.ID)+"/context/flux.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := blobs.Put(ctx, "images/"+string(sess.ID)+"/flux-0.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}

	for _, prefix := range []string{"sessions/", "images/"} {
		keys, err := blobs.List(ctx, prefix)
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 0 {
			t.Errorf("expected no keys under %s, got %v", prefix, keys)
		}
	}
}
