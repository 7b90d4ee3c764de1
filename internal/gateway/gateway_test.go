package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/blob"
	ctxwin "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/context"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/engine"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/images"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/ratelimit"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

type okGenerator struct{}

func (okGenerator) Generate(ctx context.Context, req *imagegen.Request) ([]byte, error) {
	return []byte("img:" + req.Prompt), nil
}

type stubEnhancer struct {
	out string
	err error
}

func (s stubEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	return s.out, s.err
}

func newGateway(t *testing.T, callerLimit int, opts ...Option) *Gateway {
	t.Helper()
	blobs := blob.NewFileStore(t.TempDir())

	sessions := session.NewStore(blobs)
	contexts := ctxwin.NewManager(blobs)
	imageStore := images.NewStore(blobs)
	registry := imagegen.NewRegistry()
	for _, m := range types.AllModels() {
		registry.Register(string(m), okGenerator{})
	}
	eng := engine.New(sessions, contexts, imageStore, registry,
		engine.WithRetryDelay(time.Millisecond), engine.WithTaskTimeout(time.Second))
	limiter := ratelimit.New(blobs, 1000, callerLimit, nil)

	g := New(sessions, contexts, imageStore, eng, limiter, types.AllModels(), opts...)
	g.Start(context.Background())
	t.Cleanup(g.Stop)
	return g
}

func TestCreateSessionGeneratesAllColumns(t *testing.T) {
	g := newGateway(t, 100)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, "caller-1", "a red fox")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != types.SessionPending && sess.Status != types.SessionInProgress {
		t.Errorf("unexpected initial status %s", sess.Status)
	}

	g.Wait()

	got, err := g.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SessionCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	for _, m := range types.AllModels() {
		key := got.Column(m).Iterations[0].ImageKey
		if key == "" {
			t.Errorf("column %s missing image", m)
			continue
		}
		if _, err := g.GetImage(ctx, key); err != nil {
			t.Errorf("column %s image unreadable: %v", m, err)
		}
	}
}

func TestCreateSessionRejectsBlockedPrompt(t *testing.T) {
	g := newGateway(t, 100)
	_, err := g.CreateSession(context.Background(), "caller-1", "a nude figure")
	if !errors.Is(err, types.ErrPromptRejected) {
		t.Errorf("expected ErrPromptRejected, got %v", err)
	}
}

func TestCreateSessionEnforcesCallerLimit(t *testing.T) {
	g := newGateway(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.CreateSession(ctx, "caller-1", "a fox"); err != nil {
			t.Fatal(err)
		}
	}
	_, err := g.CreateSession(ctx, "caller-1", "a fox")
	if !errors.Is(err, types.ErrCallerLimit) {
		t.Errorf("expected ErrCallerLimit, got %v", err)
	}

	// A different caller still has quota.
	if _, err := g.CreateSession(ctx, "caller-2", "a fox"); err != nil {
		t.Errorf("unrelated caller rejected: %v", err)
	}
}

func TestIterateReturnsIndexImmediately(t *testing.T) {
	g := newGateway(t, 100)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, "caller-1", "a fox")
	if err != nil {
		t.Fatal(err)
	}
	g.Wait()

	index, err := g.Iterate(ctx, "caller-1", sess.ID, types.ModelFlux, "make it snowy")
	if err != nil {
		t.Fatal(err)
	}
	if index != 1 {
		t.Errorf("expected index 1, got %d", index)
	}

	// The slot exists as soon as Iterate returns, even if generation is
	// still running.
	got, err := g.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	col := got.Column(types.ModelFlux)
	if len(col.Iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(col.Iterations))
	}

	g.Wait()
	got, _ = g.GetSession(ctx, sess.ID)
	it := got.Column(types.ModelFlux).Iterations[1]
	if it.Status != types.IterationCompleted {
		t.Errorf("refinement status %s", it.Status)
	}
	if it.Prompt != "make it snowy" {
		t.Errorf("refinement prompt %q", it.Prompt)
	}
}

func TestIterateUnknownSession(t *testing.T) {
	g := newGateway(t, 100)
	_, err := g.Iterate(context.Background(), "caller-1", types.NewSessionID(), types.ModelFlux, "p")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIterateCapSurfacesBeforeDispatch(t *testing.T) {
	g := newGateway(t, 100)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, "caller-1", "a fox")
	if err != nil {
		t.Fatal(err)
	}
	g.Wait()

	for i := 1; i < types.MaxIterations; i++ {
		if _, err := g.Iterate(ctx, "caller-1", sess.ID, types.ModelFlux, "again"); err != nil {
			t.Fatal(err)
		}
		g.Wait()
	}

	_, err = g.Iterate(ctx, "caller-1", sess.ID, types.ModelFlux, "one too many")
	if !errors.Is(err, types.ErrIterationLimit) {
		t.Errorf("expected ErrIterationLimit, got %v", err)
	}
}

func TestEnhance(t *testing.T) {
	g := newGateway(t, 100, WithEnhancer(stubEnhancer{out: "a majestic red fox"}))
	if got := g.Enhance(context.Background(), "fox"); got != "a majestic red fox" {
		t.Errorf("Enhance = %q", got)
	}
}

func TestEnhanceFallsBackOnError(t *testing.T) {
	g := newGateway(t, 100, WithEnhancer(stubEnhancer{err: errors.New("backend down")}))
	if got := g.Enhance(context.Background(), "fox"); got != "fox" {
		t.Errorf("expected original prompt back, got %q", got)
	}

	plain := newGateway(t, 100)
	if got := plain.Enhance(context.Background(), "fox"); got != "fox" {
		t.Errorf("expected original prompt without enhancer, got %q", got)
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	g := newGateway(t, 100)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, "caller-1", "a fox")
	if err != nil {
		t.Fatal(err)
	}
	g.Wait()

	key := func() string {
		got, _ := g.GetSession(ctx, sess.ID)
		return got.Column(types.ModelFlux).Iterations[0].ImageKey
	}()

	if err := g.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.GetSession(ctx, sess.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected session gone, got %v", err)
	}
	if _, err := g.GetImage(ctx, key); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected image gone, got %v", err)
	}
}
