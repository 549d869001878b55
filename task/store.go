package task

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/id"
)

// ListOpts controls pagination and filtering for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
	// Type filters by task type. Empty means all types.
	Type string
}

// CountOpts controls filtering for task count queries.
type CountOpts struct {
	// Type filters by task type. Empty means all types.
	Type string
	// Status filters by task status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for the task queue.
type Store interface {
	// EnqueueTask persists a new task in pending state.
	EnqueueTask(ctx context.Context, t *Task) error

	// ClaimTask atomically claims the next due pending task for the
	// given worker using a non-blocking, skip-locked-style claim:
	// concurrent workers never block on each other and never
	// double-claim the same row. Tasks are ordered by priority
	// (descending) then RunAt (ascending). Returns (nil, nil) when
	// nothing is claimable.
	ClaimTask(ctx context.Context, workerID id.WorkerID) (*Task, error)

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// CompleteTask marks a claimed task completed. The write only lands
	// if workerID still owns the claim; a worker whose claim was reaped
	// and re-issued gets ErrTaskNotFound instead of clobbering the new
	// owner's run.
	CompleteTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error

	// RetryTask records a failed attempt and reschedules the task:
	// attempts is set, last error stored, status returned to pending
	// with RunAt pushed to nextRunAt. Guarded by claim ownership the
	// same way CompleteTask is.
	RetryTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID, attempts int, lastError string, nextRunAt time.Time) error

	// FailTask marks the task terminally failed. The caller is
	// responsible for dead-lettering; postgres implementations do both
	// in one transaction via the dlq store's push-with-task variant.
	FailTask(ctx context.Context, taskID id.TaskID, attempts int, lastError string) error

	// HeartbeatTask refreshes the heartbeat timestamp for a claimed task.
	HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error

	// ReapStaleTasks returns claimed tasks whose heartbeat is older
	// than threshold to pending so another worker can pick them up,
	// and reports which tasks were reclaimed.
	ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*Task, error)

	// ListTasksByStatus returns tasks matching the given status.
	ListTasksByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Task, error)

	// CountTasks returns the number of tasks matching the given options.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)
}
