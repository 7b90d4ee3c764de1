// internal/scheduler/janitor.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/ratelimit"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Janitor periodically prunes expired rate-limit counters and deletes
// sessions past their retention window.
type Janitor struct {
	sessions *session.Store
	limiter  *ratelimit.Limiter
	schedule string
	ttl      time.Duration
	cron     *cron.Cron
}

func New(sessions *session.Store, limiter *ratelimit.Limiter, schedule string, ttl time.Duration) *Janitor {
	return &Janitor{
		sessions: sessions,
		limiter:  limiter,
		schedule: schedule,
		ttl:      ttl,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep on the configured schedule and starts the
// cron ticker.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.Sweep(ctx)
	}); err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("janitor started", "schedule", j.schedule, "session_ttl", j.ttl)
	return nil
}

// Stop stops the cron ticker.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// Sweep runs one cleanup pass. Failures are logged and the sweep moves
// on; the next run retries whatever was missed.
func (j *Janitor) Sweep(ctx context.Context) {
	pruned, err := j.limiter.PruneExpired(ctx)
	if err != nil {
		slog.Error("janitor: prune rate counters failed", "error", err)
	} else if pruned > 0 {
		slog.Info("janitor: pruned expired rate counters", "count", pruned)
	}

	if j.ttl <= 0 {
		return
	}
	sessions, err := j.sessions.List(ctx)
	if err != nil {
		slog.Error("janitor: list sessions failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-j.ttl)
	removed := 0
	for _, sess := range sessions {
		if sess.UpdatedAt.After(cutoff) {
			continue
		}
		if err := j.sessions.Delete(ctx, sess.ID); err != nil {
			slog.Error("janitor: delete session failed", "session", sess.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("janitor: removed expired sessions", "count", removed)
	}
}
