package audithook

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/ext"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.TaskEnqueued        = (*Extension)(nil)
	_ ext.TaskCompleted       = (*Extension)(nil)
	_ ext.TaskRetrying        = (*Extension)(nil)
	_ ext.TaskDLQ             = (*Extension)(nil)
	_ ext.CheckpointSaved     = (*Extension)(nil)
	_ ext.StaleClaimReclaimed = (*Extension)(nil)
)

// Extension appends audit events for asynchronous engine activity.
// Each lifecycle hook becomes an append to the immutable ledger.
type Extension struct {
	store   audit.Store
	enabled map[audit.EventType]bool // nil = all enabled
}

// New creates an Extension writing through the given audit store.
func New(store audit.Store, opts ...Option) *Extension {
	e := &Extension{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnTaskEnqueued implements ext.TaskEnqueued.
func (e *Extension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	return e.append(ctx, audit.New(audit.EventTaskEnqueued, audit.SystemActor, map[string]any{
		"task_id":   t.ID.String(),
		"task_type": t.Type,
	}))
}

// OnTaskCompleted implements ext.TaskCompleted.
func (e *Extension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	return e.append(ctx, audit.New(audit.EventTaskCompleted, audit.SystemActor, map[string]any{
		"task_id":    t.ID.String(),
		"task_type":  t.Type,
		"attempts":   t.Attempts,
		"elapsed_ms": elapsed.Milliseconds(),
	}))
}

// OnTaskRetrying implements ext.TaskRetrying.
func (e *Extension) OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error {
	return e.append(ctx, audit.New(audit.EventTaskRetrying, audit.SystemActor, map[string]any{
		"task_id":     t.ID.String(),
		"task_type":   t.Type,
		"attempt":     attempt,
		"next_run_at": nextRunAt.Format(time.RFC3339),
		"error":       t.LastError,
	}))
}

// OnTaskDLQ implements ext.TaskDLQ.
func (e *Extension) OnTaskDLQ(ctx context.Context, t *task.Task, taskErr error) error {
	detail := map[string]any{
		"task_id":      t.ID.String(),
		"task_type":    t.Type,
		"attempts":     t.Attempts,
		"max_attempts": t.MaxAttempts,
	}
	if taskErr != nil {
		detail["error"] = taskErr.Error()
	}
	return e.append(ctx, audit.New(audit.EventTaskDeadLettered, audit.SystemActor, detail))
}

// OnCheckpointSaved implements ext.CheckpointSaved.
func (e *Extension) OnCheckpointSaved(ctx context.Context, runID id.RunID, seq int64) error {
	evt := audit.New(audit.EventCheckpointSaved, audit.SystemActor, map[string]any{
		"seq": seq,
	}).WithRun(runID)
	return e.append(ctx, evt)
}

// OnStaleClaimReclaimed implements ext.StaleClaimReclaimed.
func (e *Extension) OnStaleClaimReclaimed(ctx context.Context, t *task.Task) error {
	return e.append(ctx, audit.New(audit.EventStaleClaimReclaimed, audit.SystemActor, map[string]any{
		"task_id":    t.ID.String(),
		"task_type":  t.Type,
		"claimed_by": t.ClaimedBy.String(),
	}))
}

func (e *Extension) append(ctx context.Context, evt *audit.Event) error {
	if e.enabled != nil && !e.enabled[evt.Type] {
		return nil
	}
	return e.store.AppendEvent(ctx, evt)
}
