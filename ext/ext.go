// Package ext defines the extension system for Gatekeep.
// Extensions are notified of lifecycle events (approval created, task
// completed, checkpoint saved, etc.) and can react to them — audit
// trails, notifications, metrics.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Approval lifecycle hooks
// ──────────────────────────────────────────────────

// ApprovalCreated is called after a pending approval is persisted.
type ApprovalCreated interface {
	OnApprovalCreated(ctx context.Context, a *approval.Approval) error
}

// ApprovalDecided is called after an approval is approved or rejected.
type ApprovalDecided interface {
	OnApprovalDecided(ctx context.Context, a *approval.Approval, decision approval.Decision) error
}

// ApprovalExpired is called when the sweeper expires a pending approval.
type ApprovalExpired interface {
	OnApprovalExpired(ctx context.Context, approvalID id.ApprovalID) error
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskEnqueued is called after a task is successfully enqueued.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when a worker begins executing a task.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskRetrying is called when a task fails but is scheduled for retry.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error
}

// TaskDLQ is called when a task is moved to the dead letter queue.
type TaskDLQ interface {
	OnTaskDLQ(ctx context.Context, t *task.Task, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CheckpointSaved is called after run state is durably checkpointed.
type CheckpointSaved interface {
	OnCheckpointSaved(ctx context.Context, runID id.RunID, seq int64) error
}

// StaleClaimReclaimed is called when the reaper returns an abandoned
// task to the pending queue.
type StaleClaimReclaimed interface {
	OnStaleClaimReclaimed(ctx context.Context, t *task.Task) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
