// Package ratelimit provides admission control ahead of orchestration:
// a global hourly quota and a per-caller daily quota, both persisted as
// rolling-window counters in the blob store.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

const (
	globalKey    = "rate-limit/global.json"
	callerPrefix = "rate-limit/callers/"

	globalWindow = time.Hour
	callerWindow = 24 * time.Hour

	saveAttempts = 3
)

// counter is one rolling-window tally. Created lazily on the first request
// in a window and reset once the window elapses.
type counter struct {
	WindowStart time.Time `json:"windowStart"`
	Count       int       `json:"count"`
}

func (c *counter) expired(now time.Time, window time.Duration) bool {
	return now.Sub(c.WindowStart) >= window
}

// Limiter decides admit/reject for incoming requests.
//
// The check-then-increment sequence is intentionally not atomic across
// concurrent callers: under heavy load at the quota boundary the limiter
// may admit slightly more requests than the limit. This is a soft quota;
// the simplicity is preferred over distributed locking. Lost increments
// (rather than lost checks) are retried via conditional writes.
type Limiter struct {
	blobs       types.BlobStore
	globalLimit int
	callerLimit int
	whitelist   map[types.CallerID]bool
	now         func() time.Time
}

// New creates a Limiter. Whitelisted callers bypass both quotas.
func New(blobs types.BlobStore, globalLimit, callerLimit int, whitelist []string) *Limiter {
	wl := make(map[types.CallerID]bool, len(whitelist))
	for _, id := range whitelist {
		wl[types.CallerID(id)] = true
	}
	return &Limiter{
		blobs:       blobs,
		globalLimit: globalLimit,
		callerLimit: callerLimit,
		whitelist:   wl,
		now:         time.Now,
	}
}

func callerKey(id types.CallerID) string {
	return callerPrefix + id.Hash() + ".json"
}

// Admit returns nil if the request may proceed, ErrGlobalLimit or
// ErrCallerLimit if a quota is exhausted. On admission both counters are
// incremented and persisted.
func (l *Limiter) Admit(ctx context.Context, caller types.CallerID) error {
	if l.whitelist[caller] {
		slog.Debug("caller whitelisted, bypassing rate limit", "caller", caller.Hash())
		return nil
	}

	now := l.now().UTC()

	global, globalVersion, err := l.load(ctx, globalKey, now, globalWindow)
	if err != nil {
		return err
	}
	if global.Count >= l.globalLimit {
		return fmt.Errorf("%d/%d requests this hour: %w",
			global.Count, l.globalLimit, types.ErrGlobalLimit)
	}

	perCaller, callerVersion, err := l.load(ctx, callerKey(caller), now, callerWindow)
	if err != nil {
		return err
	}
	if perCaller.Count >= l.callerLimit {
		return fmt.Errorf("%d/%d requests today: %w",
			perCaller.Count, l.callerLimit, types.ErrCallerLimit)
	}

	if err := l.increment(ctx, globalKey, global, globalVersion, now, globalWindow); err != nil {
		return err
	}
	if err := l.increment(ctx, callerKey(caller), perCaller, callerVersion, now, callerWindow); err != nil {
		return err
	}

	slog.Debug("rate limit check passed",
		"global", fmt.Sprintf("%d/%d", global.Count+1, l.globalLimit),
		"caller", fmt.Sprintf("%d/%d", perCaller.Count+1, l.callerLimit),
	)
	return nil
}

// load reads a counter, creating a fresh one if absent and resetting it if
// its window has elapsed.
func (l *Limiter) load(ctx context.Context, key string, now time.Time, window time.Duration) (*counter, int64, error) {
	data, version, err := l.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &counter{WindowStart: now}, 0, nil
		}
		return nil, 0, err
	}

	var c counter
	if err := json.Unmarshal(data, &c); err != nil {
		// A mangled counter must not lock everyone out. Start over.
		slog.Warn("rate counter corrupt, resetting", "key", key, "error", err)
		return &counter{WindowStart: now}, version, nil
	}
	if c.expired(now, window) {
		return &counter{WindowStart: now}, version, nil
	}
	return &c, version, nil
}

// increment bumps the counter with a conditional write, re-reading on
// conflict so concurrent admissions are not silently dropped. After
// saveAttempts conflicts it falls back to an unconditional write: losing an
// increment is preferable to failing an admitted request.
func (l *Limiter) increment(ctx context.Context, key string, c *counter, version int64, now time.Time, window time.Duration) error {
	c.Count++
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal rate counter: %w", err)
		}

		_, err = l.blobs.PutIfVersion(ctx, key, data, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrVersionConflict) {
			return err
		}

		c, version, err = l.load(ctx, key, now, window)
		if err != nil {
			return err
		}
		c.Count++
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal rate counter: %w", err)
	}
	return l.blobs.Put(ctx, key, data)
}

// PruneExpired deletes per-caller counters whose windows have fully
// elapsed, returning the number removed. Called by the janitor; the global
// counter is a single record and is simply reset in place on next use.
func (l *Limiter) PruneExpired(ctx context.Context) (int, error) {
	keys, err := l.blobs.List(ctx, callerPrefix)
	if err != nil {
		return 0, err
	}

	now := l.now().UTC()
	pruned := 0
	for _, key := range keys {
		data, _, err := l.blobs.Get(ctx, key)
		if err != nil {
			continue
		}
		var c counter
		if err := json.Unmarshal(data, &c); err != nil || c.expired(now, callerWindow) {
			if err := l.blobs.Delete(ctx, key); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
