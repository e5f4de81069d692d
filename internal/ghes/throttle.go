package ghes

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SearchThrottle spaces search-endpoint calls to respect the host's
// ~30 req/min search quota. One instance is shared across a whole client
// pool so that the interval holds across concurrent workers.
type SearchThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewSearchThrottle creates a throttle with the given minimum spacing.
// A non-positive interval disables throttling.
func NewSearchThrottle(interval time.Duration) *SearchThrottle {
	return &SearchThrottle{interval: interval}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous search call. The pre-sleep reservation is made under the lock so
// concurrent callers queue up rather than stampede.
func (t *SearchThrottle) Wait(ctx context.Context) error {
	if t == nil || t.interval <= 0 {
		return nil
	}
	t.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if !t.last.IsZero() {
		if elapsed := now.Sub(t.last); elapsed < t.interval {
			wait = t.interval - elapsed
		}
	}
	t.last = now.Add(wait)
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	slog.Debug("search throttle", "wait", wait)
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
