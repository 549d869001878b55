package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store     Store
	taskStore task.Store
}

// NewService creates a DLQ service.
func NewService(store Store, taskStore task.Store) *Service {
	return &Service{store: store, taskStore: taskStore}
}

// Push builds a DLQ Entry from a failed task and dead-letters it
// atomically: the task leaves the active queue and the entry lands in
// the sink in one transaction, with the full failure history preserved.
func (s *Service) Push(ctx context.Context, t *task.Task, taskErr error) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		TaskID:      t.ID,
		TaskType:    t.Type,
		Payload:     t.Payload,
		Error:       taskErr.Error(),
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	if err := s.store.DeadLetterTask(ctx, t, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Replay re-enqueues a dead-lettered task as a fresh pending task with
// a reset attempt budget, and marks the entry replayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*task.Task, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, fmt.Errorf("gatekeep/dlq: entry %s already replayed at %s",
			entryID, entry.ReplayedAt.Format(time.RFC3339))
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:          id.NewTaskID(),
		Type:        entry.TaskType,
		Payload:     entry.Payload,
		Status:      task.StatusPending,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.taskStore.EnqueueTask(ctx, t); err != nil {
		return nil, err
	}
	if err := s.store.MarkReplayed(ctx, entryID); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns DLQ entries matching the given options.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get retrieves a DLQ entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// Count returns the total number of entries in the sink.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}
