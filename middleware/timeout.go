package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakops/gatekeep/task"
)

// Timeout returns middleware that enforces a per-task execution deadline.
// Tasks with a zero Timeout run unbounded. When the deadline fires the
// handler's context is cancelled and the returned error wraps
// context.DeadlineExceeded, annotated with the task and how long the
// handler actually ran so the retry log reads at a glance.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		if t.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()

		start := time.Now()
		err := next(ctx)
		if err == nil || !errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		elapsed := time.Since(start)
		attrs := []any{
			slog.String("task_type", t.Type),
			slog.String("task_id", t.ID.String()),
			slog.Duration("timeout", t.Timeout),
			slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
		}
		if action := gatedAction(t.Payload); action != "" {
			attrs = append(attrs, slog.String("action", action))
		}
		logger.Warn("task deadline exceeded", attrs...)
		return fmt.Errorf("task %s exceeded %s deadline after %s: %w",
			t.Type, t.Timeout, elapsed.Round(time.Millisecond), err)
	}
}
