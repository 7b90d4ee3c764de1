// Package gateway is the service facade. It validates and admits
// incoming requests, creates and mutates sessions, and hands generation
// work to the engine on background goroutines so callers get an
// immediate acknowledgement while columns fill in asynchronously.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ctxwin "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/context"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/engine"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/filter"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/images"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/ratelimit"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

const maxPromptLength = 2000

type Gateway struct {
	sessions *session.Store
	contexts *ctxwin.Manager
	images   *images.Store
	engine   *engine.Engine
	limiter  *ratelimit.Limiter
	budget   *ctxwin.Budget

	// enhancer is optional; without one Enhance echoes the prompt back.
	enhancer imagegen.Enhancer

	// enabled lists the model columns new sessions are created with.
	enabled []types.ModelName

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Gateway)

// WithEnhancer installs a prompt enhancement backend.
func WithEnhancer(e imagegen.Enhancer) Option {
	return func(g *Gateway) { g.enhancer = e }
}

// WithBudget installs a token budget for refinement context windows.
func WithBudget(b *ctxwin.Budget) Option {
	return func(g *Gateway) { g.budget = b }
}

func New(sessions *session.Store, contexts *ctxwin.Manager, imageStore *images.Store, eng *engine.Engine, limiter *ratelimit.Limiter, enabled []types.ModelName, opts ...Option) *Gateway {
	g := &Gateway{
		sessions: sessions,
		contexts: contexts,
		images:   imageStore,
		engine:   eng,
		limiter:  limiter,
		enabled:  enabled,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start establishes the background context generation runs inherit.
// Requests arriving before Start fall back to their own context.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	slog.Info("gateway started", "models", g.enabled)
}

// Stop cancels in-flight generation runs and waits for them to record
// their terminal states.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	slog.Info("gateway stopped")
}

func (g *Gateway) admit(ctx context.Context, caller types.CallerID, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("%w: prompt is required", types.ErrPromptRejected)
	}
	if len(prompt) > maxPromptLength {
		return fmt.Errorf("%w: prompt exceeds %d characters", types.ErrPromptRejected, maxPromptLength)
	}
	if err := filter.Check(prompt); err != nil {
		return err
	}
	return g.limiter.Admit(ctx, caller)
}

// CreateSession admits the request, creates the session with all enabled
// model columns pending, and kicks off generation in the background. The
// returned session reflects the pre-generation state.
func (g *Gateway) CreateSession(ctx context.Context, caller types.CallerID, prompt string) (*types.Session, error) {
	if err := g.admit(ctx, caller, prompt); err != nil {
		return nil, err
	}

	sess, err := g.sessions.Create(ctx, prompt, g.enabled)
	if err != nil {
		return nil, err
	}

	tasks := make([]engine.Task, 0, len(g.enabled))
	for _, m := range g.enabled {
		tasks = append(tasks, engine.Task{Model: m, Prompt: prompt, Index: -1})
	}
	g.dispatch(sess.ID, tasks)

	slog.Info("session created", "session", sess.ID, "caller", caller.Hash(), "models", len(tasks))
	return sess, nil
}

// Iterate admits a refinement for one model column, allocates its
// iteration slot synchronously so the caller can track it, and runs the
// generation in the background.
func (g *Gateway) Iterate(ctx context.Context, caller types.CallerID, sessionID types.SessionID, model types.ModelName, prompt string) (int, error) {
	if err := g.admit(ctx, caller, prompt); err != nil {
		return 0, err
	}

	index := -1
	sess, err := g.sessions.Mutate(ctx, sessionID, func(sess *types.Session) error {
		idx, err := session.AddIteration(sess, model, prompt)
		if err != nil {
			return err
		}
		index = idx
		return nil
	})
	if err != nil {
		return 0, err
	}

	window := g.contexts.Get(ctx, sessionID, model)
	if g.budget != nil {
		window = g.budget.Trim(window)
	}

	task := engine.Task{
		Model:          model,
		Prompt:         prompt,
		Index:          index,
		Refinement:     true,
		Window:         window,
		SourceImageKey: session.LatestImageKey(sess, model),
	}
	g.dispatch(sessionID, []engine.Task{task})

	slog.Info("iteration queued", "session", sessionID, "model", model, "iteration", index)
	return index, nil
}

// dispatch runs tasks on a background goroutine tied to the gateway
// lifecycle.
func (g *Gateway) dispatch(sessionID types.SessionID, tasks []engine.Task) {
	runCtx := g.ctx
	if runCtx == nil {
		runCtx = context.Background()
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.engine.Run(runCtx, sessionID, tasks); err != nil {
			slog.Error("generation run failed", "session", sessionID, "error", err)
		}
	}()
}

// GetSession returns the current session state.
func (g *Gateway) GetSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	return g.sessions.Get(ctx, id)
}

// ListSessions returns all sessions, skipping unreadable ones.
func (g *Gateway) ListSessions(ctx context.Context) ([]*types.Session, error) {
	return g.sessions.List(ctx)
}

// DeleteSession removes a session with its context windows and images.
func (g *Gateway) DeleteSession(ctx context.Context, id types.SessionID) error {
	return g.sessions.Delete(ctx, id)
}

// GetImage loads a stored image record by key.
func (g *Gateway) GetImage(ctx context.Context, key string) (*images.Record, error) {
	return g.images.Get(ctx, key)
}

// Enhance rewrites a prompt through the configured enhancer. Enhancement
// is best-effort: on any failure the original prompt comes back so the
// caller can proceed with it.
func (g *Gateway) Enhance(ctx context.Context, prompt string) string {
	if g.enhancer == nil || prompt == "" {
		return prompt
	}
	enhanced, err := g.enhancer.Enhance(ctx, prompt)
	if err != nil || enhanced == "" {
		slog.Warn("prompt enhancement failed", "error", err)
		return prompt
	}
	return enhanced
}

// Wait blocks until all in-flight generation runs finish. Intended for
// tests and graceful drains.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
