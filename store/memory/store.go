// Package memory provides a fully in-memory implementation of
// store.Store. Safe for concurrent access. Intended for unit testing
// and development; semantics match the postgres backend, including
// exactly-one-winner claims and the append-only audit ledger.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/checkpoint"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/orchestrator"
	"github.com/zakops/gatekeep/task"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ approval.Store              = (*Store)(nil)
	_ checkpoint.Store            = (*Store)(nil)
	_ audit.Store                 = (*Store)(nil)
	_ task.Store                  = (*Store)(nil)
	_ dlq.Store                   = (*Store)(nil)
	_ orchestrator.ExecutionStore = (*Store)(nil)
)

// Store is a fully in-memory implementation of the aggregate store.
type Store struct {
	mu sync.RWMutex

	approvals    map[string]*approval.Approval
	approvalKeys map[string]string // idempotency key -> approval id
	checkpoints  map[string][]*checkpoint.Checkpoint
	events       []*audit.Event
	tasks        map[string]*task.Task
	dlqs         map[string]*dlq.Entry
	executions   map[string]*orchestrator.Execution
	execByAppr   map[string]string // approval id -> execution id
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		approvals:    make(map[string]*approval.Approval),
		approvalKeys: make(map[string]string),
		checkpoints:  make(map[string][]*checkpoint.Checkpoint),
		tasks:        make(map[string]*task.Task),
		dlqs:         make(map[string]*dlq.Entry),
		executions:   make(map[string]*orchestrator.Execution),
		execByAppr:   make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Approval Store
// ──────────────────────────────────────────────────

// CreateApproval persists a new pending approval with its audit event.
// Duplicate idempotency keys resolve to the existing approval.
func (m *Store) CreateApproval(_ context.Context, a *approval.Approval, evt *audit.Event) (*approval.Approval, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.approvalKeys[a.IdempotencyKey]; ok {
		cp := *m.approvals[existingID]
		return &cp, false, nil
	}

	cp := *a
	m.approvals[a.ID.String()] = &cp
	m.approvalKeys[a.IdempotencyKey] = a.ID.String()
	m.appendEventLocked(evt)

	out := cp
	return &out, true, nil
}

// GetApproval retrieves an approval by ID.
func (m *Store) GetApproval(_ context.Context, approvalID id.ApprovalID) (*approval.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.approvals[approvalID.String()]
	if !ok {
		return nil, fmt.Errorf("gatekeep/memory: approval %s: %w", approvalID, gatekeep.ErrApprovalNotFound)
	}
	cp := *a
	return &cp, nil
}

// ListApprovals returns approvals matching the given options, newest first.
func (m *Store) ListApprovals(_ context.Context, opts approval.ListOpts) ([]*approval.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*approval.Approval, 0, len(m.approvals))
	for _, a := range m.approvals {
		if !opts.RunID.IsNil() && a.RunID != opts.RunID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// DecideApproval atomically transitions pending -> decided. The status
// guard under the mutex gives the same exactly-one-winner semantics as
// the conditional update in postgres.
func (m *Store) DecideApproval(_ context.Context, approvalID id.ApprovalID, actorID string, decision approval.Decision, reason string, evt *audit.Event) (*approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.approvals[approvalID.String()]
	if !ok {
		return nil, fmt.Errorf("gatekeep/memory: approval %s: %w", approvalID, gatekeep.ErrApprovalNotFound)
	}
	if a.Status != approval.StatusPending {
		return nil, fmt.Errorf("gatekeep/memory: approval %s is %s: %w", approvalID, a.Status, gatekeep.ErrAlreadyDecided)
	}
	now := time.Now().UTC()
	if !a.ExpiresAt.IsZero() && !a.ExpiresAt.After(now) {
		return nil, fmt.Errorf("gatekeep/memory: approval %s: %w", approvalID, gatekeep.ErrApprovalExpired)
	}

	a.Status = decision.Status()
	a.DecidedBy = actorID
	a.Reason = reason
	a.DecidedAt = &now
	m.appendEventLocked(evt)

	cp := *a
	return &cp, nil
}

// ExpireApprovals transitions overdue pending approvals to expired,
// appending one audit event per approval. Expiry is attributed to the
// system actor, the same as the postgres backend.
func (m *Store) ExpireApprovals(_ context.Context, now time.Time) ([]id.ApprovalID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []id.ApprovalID
	for _, a := range m.approvals {
		if a.Status != approval.StatusPending {
			continue
		}
		if a.ExpiresAt.IsZero() || a.ExpiresAt.After(now) {
			continue
		}
		decidedAt := now
		a.Status = approval.StatusExpired
		a.DecidedBy = audit.SystemActor
		a.DecidedAt = &decidedAt
		expired = append(expired, a.ID)

		evt := audit.New(audit.EventApprovalExpired, audit.SystemActor, map[string]any{
			"action": a.ActionName,
		}).WithRun(a.RunID).WithApproval(a.ID)
		m.appendEventLocked(evt)
	}
	return expired, nil
}

// ──────────────────────────────────────────────────
// Checkpoint Store
// ──────────────────────────────────────────────────

// SaveCheckpoint appends a checkpoint, allocating the next sequence.
func (m *Store) SaveCheckpoint(_ context.Context, c *checkpoint.Checkpoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.RunID.String()
	chain := m.checkpoints[key]

	var seq int64 = 1
	if len(chain) > 0 {
		seq = chain[len(chain)-1].Seq + 1
	}

	cp := *c
	cp.Seq = seq
	m.checkpoints[key] = append(chain, &cp)
	return seq, nil
}

// LatestCheckpoint returns the highest-sequence checkpoint for the run.
func (m *Store) LatestCheckpoint(_ context.Context, runID id.RunID) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.checkpoints[runID.String()]
	if len(chain) == 0 {
		return nil, fmt.Errorf("gatekeep/memory: run %s: %w", runID, gatekeep.ErrCheckpointNotFound)
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

// ListCheckpoints returns all checkpoints for a run, sequence ascending.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.checkpoints[runID.String()]
	result := make([]*checkpoint.Checkpoint, len(chain))
	for i, c := range chain {
		cp := *c
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendEvent appends an event to the ledger. There is no way to mutate
// or remove an appended event through this store.
func (m *Store) AppendEvent(_ context.Context, e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventLocked(e)
	return nil
}

// appendEventLocked stores a copy. Callers hold m.mu.
func (m *Store) appendEventLocked(e *audit.Event) {
	if e == nil {
		return
	}
	cp := *e
	m.events = append(m.events, &cp)
}

// QueryEvents returns events matching the filter, oldest first.
func (m *Store) QueryEvents(_ context.Context, f audit.Filter) ([]*audit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*audit.Event, 0, len(m.events))
	for _, e := range m.events {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if !f.RunID.IsNil() && e.RunID != f.RunID {
			continue
		}
		if !f.ApprovalID.IsNil() && e.ApprovalID != f.ApprovalID {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return paginate(result, f.Offset, f.Limit), nil
}

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// EnqueueTask persists a new task in pending state.
func (m *Store) EnqueueTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return gatekeep.ErrTaskAlreadyExists
	}
	cp := *t
	m.tasks[key] = &cp
	return nil
}

// ClaimTask claims the next due pending task for the worker. The mutex
// serializes claimants the way FOR UPDATE SKIP LOCKED does in postgres:
// no blocking between workers on different rows, no double claim.
func (m *Store) ClaimTask(_ context.Context, workerID id.WorkerID) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	var best *task.Task
	for _, t := range m.tasks {
		if t.Status != task.StatusPending {
			continue
		}
		if !t.RunAt.IsZero() && t.RunAt.After(now) {
			continue
		}
		if best == nil ||
			t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.RunAt.Before(best.RunAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = task.StatusClaimed
	best.ClaimedBy = workerID
	n := now
	best.StartedAt = &n
	best.HeartbeatAt = &n
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, fmt.Errorf("gatekeep/memory: task %s: %w", taskID, gatekeep.ErrTaskNotFound)
	}
	cp := *t
	return &cp, nil
}

// CompleteTask marks a claimed task completed. Only the worker that
// holds the claim may complete it; a stale worker whose task was
// reaped and re-claimed gets an error instead of overwriting the new
// owner's run.
func (m *Store) CompleteTask(_ context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: task %s: %w", taskID, gatekeep.ErrTaskNotFound)
	}
	if t.Status != task.StatusClaimed || t.ClaimedBy != workerID {
		return fmt.Errorf("gatekeep/memory: task %s not claimed by %s: %w", taskID, workerID, gatekeep.ErrInvalidState)
	}
	now := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

// RetryTask returns a task to pending with updated attempt bookkeeping.
// Guarded on claim ownership the same way CompleteTask is.
func (m *Store) RetryTask(_ context.Context, taskID id.TaskID, workerID id.WorkerID, attempts int, lastError string, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: task %s: %w", taskID, gatekeep.ErrTaskNotFound)
	}
	if t.Status != task.StatusClaimed || t.ClaimedBy != workerID {
		return fmt.Errorf("gatekeep/memory: task %s not claimed by %s: %w", taskID, workerID, gatekeep.ErrInvalidState)
	}
	t.Status = task.StatusPending
	t.Attempts = attempts
	t.LastError = lastError
	t.RunAt = nextRunAt
	t.ClaimedBy = id.WorkerID{}
	t.StartedAt = nil
	t.HeartbeatAt = nil
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// FailTask marks the task terminally failed.
func (m *Store) FailTask(_ context.Context, taskID id.TaskID, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failTaskLocked(taskID, attempts, lastError)
}

func (m *Store) failTaskLocked(taskID id.TaskID, attempts int, lastError string) error {
	t, ok := m.tasks[taskID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: task %s: %w", taskID, gatekeep.ErrTaskNotFound)
	}
	t.Status = task.StatusFailed
	t.Attempts = attempts
	t.LastError = lastError
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// HeartbeatTask refreshes the heartbeat for a claimed task.
func (m *Store) HeartbeatTask(_ context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: task %s: %w", taskID, gatekeep.ErrTaskNotFound)
	}
	if t.Status != task.StatusClaimed || t.ClaimedBy != workerID {
		return fmt.Errorf("gatekeep/memory: task %s not claimed by %s: %w", taskID, workerID, gatekeep.ErrInvalidState)
	}
	now := time.Now().UTC()
	t.HeartbeatAt = &now
	t.UpdatedAt = now
	return nil
}

// ReapStaleTasks returns abandoned claims to pending and reports which
// tasks were reclaimed.
func (m *Store) ReapStaleTasks(_ context.Context, threshold time.Duration) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)

	var reclaimed []*task.Task
	for _, t := range m.tasks {
		if t.Status != task.StatusClaimed {
			continue
		}
		last := t.HeartbeatAt
		if last == nil {
			last = t.StartedAt
		}
		if last == nil || last.After(cutoff) {
			continue
		}

		cp := *t // snapshot with the stale claim owner still set
		reclaimed = append(reclaimed, &cp)

		t.Status = task.StatusPending
		t.ClaimedBy = id.WorkerID{}
		t.StartedAt = nil
		t.HeartbeatAt = nil
		t.RunAt = time.Now().UTC()
		t.UpdatedAt = t.RunAt
	}
	return reclaimed, nil
}

// ListTasksByStatus returns tasks with the given status.
func (m *Store) ListTasksByStatus(_ context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status != status {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountTasks returns the number of tasks matching the options.
func (m *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, t := range m.tasks {
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// DeadLetterTask marks the task failed and inserts the DLQ entry under
// one lock acquisition, mirroring the single postgres transaction.
func (m *Store) DeadLetterTask(_ context.Context, t *task.Task, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failTaskLocked(t.ID, t.Attempts, entry.Error); err != nil {
		return err
	}
	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the options, newest failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.TaskType != "" && e.TaskType != opts.TaskType {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, fmt.Errorf("gatekeep/memory: dlq entry %s: %w", entryID, gatekeep.ErrDLQNotFound)
	}
	cp := *e
	return &cp, nil
}

// MarkReplayed records that a DLQ entry was replayed.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: dlq entry %s: %w", entryID, gatekeep.ErrDLQNotFound)
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the sink.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Execution journal
// ──────────────────────────────────────────────────

// CreateExecution persists a journal record; the approval index gives
// the claim-first uniqueness guarantee.
func (m *Store) CreateExecution(_ context.Context, e *orchestrator.Execution) (*orchestrator.Execution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.execByAppr[e.ApprovalID.String()]; ok {
		cp := *m.executions[existingID]
		return &cp, false, nil
	}

	cp := *e
	m.executions[e.ID.String()] = &cp
	m.execByAppr[e.ApprovalID.String()] = e.ID.String()

	out := cp
	return &out, true, nil
}

// GetExecutionByApproval retrieves the journal record for an approval.
func (m *Store) GetExecutionByApproval(_ context.Context, approvalID id.ApprovalID) (*orchestrator.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execID, ok := m.execByAppr[approvalID.String()]
	if !ok {
		return nil, fmt.Errorf("gatekeep/memory: execution for approval %s: %w", approvalID, gatekeep.ErrExecutionNotFound)
	}
	cp := *m.executions[execID]
	return &cp, nil
}

// CompleteExecution marks the record completed and caches the result.
func (m *Store) CompleteExecution(_ context.Context, executionID id.ExecutionID, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[executionID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: execution %s: %w", executionID, gatekeep.ErrExecutionNotFound)
	}
	now := time.Now().UTC()
	e.Status = orchestrator.ExecutionCompleted
	e.Result = result
	e.Error = ""
	e.CompletedAt = &now
	return nil
}

// FailExecution marks the record failed with the error message.
func (m *Store) FailExecution(_ context.Context, executionID id.ExecutionID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[executionID.String()]
	if !ok {
		return fmt.Errorf("gatekeep/memory: execution %s: %w", executionID, gatekeep.ErrExecutionNotFound)
	}
	now := time.Now().UTC()
	e.Status = orchestrator.ExecutionFailed
	e.Error = errMsg
	e.CompletedAt = &now
	return nil
}

// ListExecutionsByRun returns a run's journal records, oldest first.
func (m *Store) ListExecutionsByRun(_ context.Context, runID id.RunID) ([]*orchestrator.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*orchestrator.Execution, 0)
	for _, e := range m.executions {
		if e.RunID != runID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})
	return result, nil
}

// paginate applies offset/limit to an already-sorted slice.
func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
