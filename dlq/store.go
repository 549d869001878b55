package dlq

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// TaskType filters by task type. Empty means all types.
	TaskType string
}

// Store defines the persistence contract for the dead letter sink.
type Store interface {
	// DeadLetterTask atomically marks the task terminally failed and
	// inserts the DLQ entry. Both writes happen in one transaction so
	// a task is never lost between queue and sink.
	DeadLetterTask(ctx context.Context, t *task.Task, entry *Entry) error

	// ListDLQ returns DLQ entries matching the given options.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves a DLQ entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// MarkReplayed records that a DLQ entry was replayed. The actual
	// re-enqueue happens at the service layer.
	MarkReplayed(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes DLQ entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the sink.
	CountDLQ(ctx context.Context) (int64, error)
}
