// Package engine fans generation tasks out across provider backends with
// bounded parallelism. Each task's outcome is written to the session as
// soon as it is known, so concurrent readers see columns complete
// independently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	ctxwin "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/context"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/images"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

const (
	// DefaultMaxWorkers bounds how many provider calls run at once.
	DefaultMaxWorkers = 4

	// DefaultTaskTimeout caps a single provider attempt.
	DefaultTaskTimeout = 120 * time.Second

	// DefaultRetryDelay is the fixed pause before the single retry of a
	// failed attempt.
	DefaultRetryDelay = 2 * time.Second
)

// Task is one unit of generation work against one model column.
type Task struct {
	Model  types.ModelName
	Prompt string

	// Index is the iteration slot this task fills. Negative means the
	// slot has not been allocated yet and Run will append one.
	Index int

	// Refinement marks a follow-up to an earlier image. Refinements
	// carry conversational context and feed the window afterward.
	Refinement bool

	// Window holds the prior refinement context for this column,
	// already trimmed to budget. Empty for initial generations.
	Window []types.ContextEntry

	// SourceImageKey points at the latest completed image for
	// refinements. The engine loads it best-effort.
	SourceImageKey string
}

type Option func(*Engine)

func WithMaxWorkers(n int64) Option {
	return func(e *Engine) { e.maxWorkers = n }
}

func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) { e.taskTimeout = d }
}

func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

type Engine struct {
	sessions  *session.Store
	contexts  *ctxwin.Manager
	images    *images.Store
	providers *imagegen.Registry

	maxWorkers  int64
	taskTimeout time.Duration
	retryDelay  time.Duration
}

func New(sessions *session.Store, contexts *ctxwin.Manager, imageStore *images.Store, providers *imagegen.Registry, opts ...Option) *Engine {
	e := &Engine{
		sessions:    sessions,
		contexts:    contexts,
		images:      imageStore,
		providers:   providers,
		maxWorkers:  DefaultMaxWorkers,
		taskTimeout: DefaultTaskTimeout,
		retryDelay:  DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes all tasks for one session and blocks until every task has
// reached a terminal state. Provider failures are recorded on their own
// column and never abort sibling tasks; only storage failures surface as
// the returned error.
func (e *Engine) Run(ctx context.Context, sessionID types.SessionID, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	if err := e.allocate(ctx, sessionID, tasks); err != nil {
		return err
	}

	sem := semaphore.NewWeighted(e.maxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var infraErrs []error

	for i := range tasks {
		task := tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				e.recordFailure(sessionID, task, fmt.Sprintf("canceled before start: %v", err))
				return
			}
			defer sem.Release(1)

			if err := e.runTask(ctx, sessionID, task); err != nil {
				mu.Lock()
				infraErrs = append(infraErrs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(infraErrs...)
}

// allocate appends a pending iteration for every task that does not have
// a slot yet, in a single session write.
func (e *Engine) allocate(ctx context.Context, sessionID types.SessionID, tasks []Task) error {
	need := false
	for i := range tasks {
		if tasks[i].Index < 0 {
			need = true
			break
		}
	}
	if !need {
		return nil
	}

	indices := make([]int, len(tasks))
	_, err := e.sessions.Mutate(ctx, sessionID, func(sess *types.Session) error {
		for i := range tasks {
			if tasks[i].Index >= 0 {
				indices[i] = tasks[i].Index
				continue
			}
			idx, err := session.AddIteration(sess, tasks[i].Model, tasks[i].Prompt)
			if err != nil {
				return err
			}
			indices[i] = idx
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("allocate iterations: %w", err)
	}
	for i := range tasks {
		tasks[i].Index = indices[i]
	}
	return nil
}

func (e *Engine) runTask(ctx context.Context, sessionID types.SessionID, task Task) error {
	log := slog.With("session", sessionID, "model", task.Model, "iteration", task.Index)

	if _, err := e.sessions.Mutate(ctx, sessionID, func(sess *types.Session) error {
		return session.StartIteration(sess, task.Model, task.Index)
	}); err != nil {
		return fmt.Errorf("start iteration %s/%d: %w", task.Model, task.Index, err)
	}

	generator, err := e.providers.For(string(task.Model))
	if err != nil {
		e.recordFailure(sessionID, task, err.Error())
		return nil
	}

	req := e.buildRequest(ctx, task, log)

	start := time.Now()
	output, genErr := e.generate(ctx, generator, req)
	elapsed := time.Since(start)

	if genErr != nil {
		msg := imagegen.SanitizeError(genErr)
		log.Warn("generation failed", "error", msg, "elapsed", elapsed)
		e.recordFailure(sessionID, task, msg)
		return nil
	}

	imageKey, err := e.images.Save(ctx, sessionID, task.Model, task.Index, output, task.Prompt)
	if err != nil {
		e.recordFailure(sessionID, task, "failed to store generated image")
		return fmt.Errorf("save image %s/%d: %w", task.Model, task.Index, err)
	}

	if _, err := e.sessions.Mutate(ctx, sessionID, func(sess *types.Session) error {
		return session.CompleteIteration(sess, task.Model, task.Index, imageKey, elapsed.Seconds())
	}); err != nil {
		return fmt.Errorf("complete iteration %s/%d: %w", task.Model, task.Index, err)
	}
	log.Info("generation completed", "elapsed", elapsed, "bytes", len(output))

	if task.Refinement {
		entry := types.ContextEntry{
			Iteration: task.Index,
			Prompt:    task.Prompt,
			ImageKey:  imageKey,
			Timestamp: time.Now().UTC(),
		}
		if err := e.contexts.Append(ctx, sessionID, task.Model, entry); err != nil {
			// Context loss degrades future refinements but the image
			// itself is already committed.
			log.Warn("failed to append context", "error", err)
		}
	}
	return nil
}

// generate makes one attempt plus exactly one retry after a fixed delay.
func (e *Engine) generate(ctx context.Context, g imagegen.Generator, req *imagegen.Request) ([]byte, error) {
	attempt := func() ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
		return g.Generate(attemptCtx, req)
	}

	output, err := attempt()
	if err == nil {
		return output, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(e.retryDelay):
	}

	output, retryErr := attempt()
	if retryErr != nil {
		return nil, fmt.Errorf("%w (retry: %w)", err, retryErr)
	}
	return output, nil
}

func (e *Engine) buildRequest(ctx context.Context, task Task, log *slog.Logger) *imagegen.Request {
	req := &imagegen.Request{Prompt: task.Prompt}
	for _, entry := range task.Window {
		req.Context = append(req.Context, imagegen.Turn{Prompt: entry.Prompt})
	}
	if task.SourceImageKey != "" {
		rec, err := e.images.Get(ctx, task.SourceImageKey)
		if err != nil {
			log.Warn("source image unavailable", "key", task.SourceImageKey, "error", err)
		} else {
			req.SourceImage = rec.Output
		}
	}
	return req
}

// recordFailure marks the iteration failed, using a background context so
// the terminal state lands even when the run context is gone.
func (e *Engine) recordFailure(sessionID types.SessionID, task Task, message string) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.sessions.Mutate(writeCtx, sessionID, func(sess *types.Session) error {
		return session.FailIteration(sess, task.Model, task.Index, message)
	}); err != nil {
		slog.Error("failed to record iteration failure",
			"session", sessionID, "model", task.Model, "iteration", task.Index, "error", err)
	}
}
