package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type approvalCreatedEntry struct {
	name string
	hook ApprovalCreated
}

type approvalDecidedEntry struct {
	name string
	hook ApprovalDecided
}

type approvalExpiredEntry struct {
	name string
	hook ApprovalExpired
}

type taskEnqueuedEntry struct {
	name string
	hook TaskEnqueued
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskRetryingEntry struct {
	name string
	hook TaskRetrying
}

type taskDLQEntry struct {
	name string
	hook TaskDLQ
}

type checkpointSavedEntry struct {
	name string
	hook CheckpointSaved
}

type staleClaimReclaimedEntry struct {
	name string
	hook StaleClaimReclaimed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	approvalCreated     []approvalCreatedEntry
	approvalDecided     []approvalDecidedEntry
	approvalExpired     []approvalExpiredEntry
	taskEnqueued        []taskEnqueuedEntry
	taskStarted         []taskStartedEntry
	taskCompleted       []taskCompletedEntry
	taskRetrying        []taskRetryingEntry
	taskDLQ             []taskDLQEntry
	checkpointSaved     []checkpointSavedEntry
	staleClaimReclaimed []staleClaimReclaimedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ApprovalCreated); ok {
		r.approvalCreated = append(r.approvalCreated, approvalCreatedEntry{name, h})
	}
	if h, ok := e.(ApprovalDecided); ok {
		r.approvalDecided = append(r.approvalDecided, approvalDecidedEntry{name, h})
	}
	if h, ok := e.(ApprovalExpired); ok {
		r.approvalExpired = append(r.approvalExpired, approvalExpiredEntry{name, h})
	}
	if h, ok := e.(TaskEnqueued); ok {
		r.taskEnqueued = append(r.taskEnqueued, taskEnqueuedEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskRetrying); ok {
		r.taskRetrying = append(r.taskRetrying, taskRetryingEntry{name, h})
	}
	if h, ok := e.(TaskDLQ); ok {
		r.taskDLQ = append(r.taskDLQ, taskDLQEntry{name, h})
	}
	if h, ok := e.(CheckpointSaved); ok {
		r.checkpointSaved = append(r.checkpointSaved, checkpointSavedEntry{name, h})
	}
	if h, ok := e.(StaleClaimReclaimed); ok {
		r.staleClaimReclaimed = append(r.staleClaimReclaimed, staleClaimReclaimedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Approval event emitters
// ──────────────────────────────────────────────────

// EmitApprovalCreated notifies all extensions that implement ApprovalCreated.
func (r *Registry) EmitApprovalCreated(ctx context.Context, a *approval.Approval) {
	for _, e := range r.approvalCreated {
		if err := e.hook.OnApprovalCreated(ctx, a); err != nil {
			r.logHookError("OnApprovalCreated", e.name, err)
		}
	}
}

// EmitApprovalDecided notifies all extensions that implement ApprovalDecided.
func (r *Registry) EmitApprovalDecided(ctx context.Context, a *approval.Approval, decision approval.Decision) {
	for _, e := range r.approvalDecided {
		if err := e.hook.OnApprovalDecided(ctx, a, decision); err != nil {
			r.logHookError("OnApprovalDecided", e.name, err)
		}
	}
}

// EmitApprovalExpired notifies all extensions that implement ApprovalExpired.
func (r *Registry) EmitApprovalExpired(ctx context.Context, approvalID id.ApprovalID) {
	for _, e := range r.approvalExpired {
		if err := e.hook.OnApprovalExpired(ctx, approvalID); err != nil {
			r.logHookError("OnApprovalExpired", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskEnqueued notifies all extensions that implement TaskEnqueued.
func (r *Registry) EmitTaskEnqueued(ctx context.Context, t *task.Task) {
	for _, e := range r.taskEnqueued {
		if err := e.hook.OnTaskEnqueued(ctx, t); err != nil {
			r.logHookError("OnTaskEnqueued", e.name, err)
		}
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskStarted {
		if err := e.hook.OnTaskStarted(ctx, t); err != nil {
			r.logHookError("OnTaskStarted", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskRetrying notifies all extensions that implement TaskRetrying.
func (r *Registry) EmitTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) {
	for _, e := range r.taskRetrying {
		if err := e.hook.OnTaskRetrying(ctx, t, attempt, nextRunAt); err != nil {
			r.logHookError("OnTaskRetrying", e.name, err)
		}
	}
}

// EmitTaskDLQ notifies all extensions that implement TaskDLQ.
func (r *Registry) EmitTaskDLQ(ctx context.Context, t *task.Task, taskErr error) {
	for _, e := range r.taskDLQ {
		if err := e.hook.OnTaskDLQ(ctx, t, taskErr); err != nil {
			r.logHookError("OnTaskDLQ", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCheckpointSaved notifies all extensions that implement CheckpointSaved.
func (r *Registry) EmitCheckpointSaved(ctx context.Context, runID id.RunID, seq int64) {
	for _, e := range r.checkpointSaved {
		if err := e.hook.OnCheckpointSaved(ctx, runID, seq); err != nil {
			r.logHookError("OnCheckpointSaved", e.name, err)
		}
	}
}

// EmitStaleClaimReclaimed notifies all extensions that implement StaleClaimReclaimed.
func (r *Registry) EmitStaleClaimReclaimed(ctx context.Context, t *task.Task) {
	for _, e := range r.staleClaimReclaimed {
		if err := e.hook.OnStaleClaimReclaimed(ctx, t); err != nil {
			r.logHookError("OnStaleClaimReclaimed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
