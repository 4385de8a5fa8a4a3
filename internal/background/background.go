// Package background runs fire-and-forget work detached from the request
// that triggered it. The originating request never waits on, and can never
// be failed by, a detached task.
package background

import (
	"context"
	"log/slog"
	"time"
)

// taskTimeout bounds a detached task so a hung store call cannot leak
// goroutines for the process lifetime.
const taskTimeout = 10 * time.Second

// Go runs fn on its own goroutine with a fresh context. Errors and panics
// are logged under the given operation name and otherwise swallowed.
func Go(logger *slog.Logger, op string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panicked", "op", op, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.Warn("background task failed", "op", op, "error", err)
		}
	}()
}
