// Package worker provides the task execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for tasks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/backoff"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/ext"
	"github.com/zakops/gatekeep/middleware"
	"github.com/zakops/gatekeep/task"
)

// Executor runs a single task through middleware and the registered
// handler, then handles retry logic, DLQ push, state updates and
// lifecycle events.
type Executor struct {
	registry   *task.Registry
	extensions *ext.Registry
	store      task.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	extensions *ext.Registry,
	store task.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed task through the middleware chain and handler.
// On success: marks completed, emits TaskCompleted.
// On failure with attempts remaining: reschedules with backoff, emits
// TaskRetrying.
// On failure with attempts exhausted: dead-letters atomically, emits
// TaskDLQ.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Type)
	if !ok {
		// An unroutable task burns an attempt like any other failure
		// so it eventually dead-letters instead of spinning forever.
		return e.handleFailure(ctx, t, fmt.Errorf("no handler registered for task type %q", t.Type))
	}

	start := time.Now()

	terminal := func(ctx context.Context) error {
		return handler(ctx, t.Payload)
	}

	err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, t, err)
	}

	return e.handleSuccess(ctx, t, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	if err := e.store.CompleteTask(ctx, t.ID, t.ClaimedBy); err != nil {
		e.logger.Error("failed to mark task completed",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", t.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	t.Status = task.StatusCompleted

	e.extensions.EmitTaskCompleted(ctx, t, elapsed)
	return nil
}

// handleFailure increments the attempt counter and either retries or
// sends to the DLQ.
func (e *Executor) handleFailure(ctx context.Context, t *task.Task, handlerErr error) error {
	t.Attempts++
	t.LastError = handlerErr.Error()

	if t.Attempts < t.MaxAttempts {
		return e.scheduleRetry(ctx, t, handlerErr)
	}

	return e.sendToDLQ(ctx, t, handlerErr)
}

// scheduleRetry returns the task to pending with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, t *task.Task, handlerErr error) error {
	delay := e.backoff.Delay(t.Attempts)
	nextRunAt := time.Now().UTC().Add(delay)
	t.RunAt = nextRunAt
	t.Status = task.StatusPending

	if err := e.store.RetryTask(ctx, t.ID, t.ClaimedBy, t.Attempts, t.LastError, nextRunAt); err != nil {
		e.logger.Error("failed to reschedule task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitTaskRetrying(ctx, t, t.Attempts, nextRunAt)

	e.logger.Info("task scheduled for retry",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.Type),
		slog.Int("attempt", t.Attempts),
		slog.Int("max_attempts", t.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("task %s attempt %d/%d: %w", t.Type, t.Attempts, t.MaxAttempts, handlerErr)
}

// sendToDLQ dead-letters the task and emits lifecycle events.
func (e *Executor) sendToDLQ(ctx context.Context, t *task.Task, handlerErr error) error {
	if _, err := e.dlqService.Push(ctx, t, handlerErr); err != nil {
		e.logger.Error("failed to push task to DLQ",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	t.Status = task.StatusFailed

	e.extensions.EmitTaskDLQ(ctx, t, handlerErr)

	e.logger.Warn("task moved to DLQ after exhausting attempts",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.Type),
		slog.Int("attempts", t.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return fmt.Errorf("task %s: %w: %w", t.Type, gatekeep.ErrMaxAttemptsExceeded, handlerErr)
}
