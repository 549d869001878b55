package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
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

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Approval Store tests
// ──────────────────────────────────────────────────

func newApproval(runID id.RunID, key string) *approval.Approval {
	now := time.Now().UTC()
	return &approval.Approval{
		ID:             id.NewApprovalID(),
		RunID:          runID,
		ActionName:     "transition_deal",
		ActionArgs:     []byte(`{"deal_id":"d-1","target_stage":"negotiation"}`),
		Tier:           approval.TierCritical,
		Status:         approval.StatusPending,
		IdempotencyKey: key,
		RequestedBy:    "agent",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func createEvent(a *approval.Approval) *audit.Event {
	return audit.New(audit.EventApprovalCreated, a.RequestedBy, nil).
		WithRun(a.RunID).WithApproval(a.ID)
}

func TestCreateApprovalIdempotent(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	runID := id.NewRunID()

	a := newApproval(runID, "key-1")
	got, created, err := s.CreateApproval(ctx, a, createEvent(a))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first create reported created=false")
	}
	if got.ID != a.ID {
		t.Fatalf("created ID = %v, want %v", got.ID, a.ID)
	}

	dup := newApproval(runID, "key-1")
	got2, created2, err := s.CreateApproval(ctx, dup, createEvent(dup))
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created2 {
		t.Fatal("duplicate create reported created=true")
	}
	if got2.ID != a.ID {
		t.Fatalf("duplicate resolved to %v, want original %v", got2.ID, a.ID)
	}

	// Only the first create appends an audit event.
	events, err := s.QueryEvents(ctx, audit.Filter{Type: audit.EventApprovalCreated})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
}

func TestDecideApproval(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newApproval(id.NewRunID(), "key-decide")
	if _, _, err := s.CreateApproval(ctx, a, createEvent(a)); err != nil {
		t.Fatalf("create: %v", err)
	}

	evt := audit.New(audit.EventApprovalApproved, "alice", nil).WithApproval(a.ID)
	decided, err := s.DecideApproval(ctx, a.ID, "alice", approval.Approve, "", evt)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != approval.StatusApproved {
		t.Fatalf("status = %s, want approved", decided.Status)
	}
	if decided.DecidedBy != "alice" {
		t.Fatalf("decided_by = %q, want alice", decided.DecidedBy)
	}
	if decided.DecidedAt == nil {
		t.Fatal("decided_at not set")
	}

	// Second decision loses.
	_, err = s.DecideApproval(ctx, a.ID, "bob", approval.Reject, "late", evt)
	if !errors.Is(err, gatekeep.ErrAlreadyDecided) {
		t.Fatalf("second decide error = %v, want ErrAlreadyDecided", err)
	}
}

func TestDecideApprovalExactlyOneWinner(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newApproval(id.NewRunID(), "key-race")
	if _, _, err := s.CreateApproval(ctx, a, createEvent(a)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := approval.Approve
			if i%2 == 1 {
				decision = approval.Reject
			}
			evt := audit.New(audit.EventApprovalApproved, "racer", nil).WithApproval(a.ID)
			_, errs[i] = s.DecideApproval(ctx, a.ID, "racer", decision, "r", evt)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, gatekeep.ErrAlreadyDecided):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	// Exactly one decision audit event.
	events, err := s.QueryEvents(ctx, audit.Filter{Type: audit.EventApprovalApproved, ApprovalID: a.ID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("decision audit events = %d, want 1", len(events))
	}
}

func TestDecideExpiredApproval(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newApproval(id.NewRunID(), "key-exp")
	a.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if _, _, err := s.CreateApproval(ctx, a, createEvent(a)); err != nil {
		t.Fatalf("create: %v", err)
	}

	evt := audit.New(audit.EventApprovalApproved, "alice", nil).WithApproval(a.ID)
	_, err := s.DecideApproval(ctx, a.ID, "alice", approval.Approve, "", evt)
	if !errors.Is(err, gatekeep.ErrApprovalExpired) {
		t.Fatalf("decide error = %v, want ErrApprovalExpired", err)
	}
}

func TestExpireApprovals(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	overdue := newApproval(id.NewRunID(), "key-overdue")
	overdue.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	fresh := newApproval(id.NewRunID(), "key-fresh")

	for _, a := range []*approval.Approval{overdue, fresh} {
		if _, _, err := s.CreateApproval(ctx, a, createEvent(a)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	expired, err := s.ExpireApprovals(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0] != overdue.ID {
		t.Fatalf("expired = %v, want [%v]", expired, overdue.ID)
	}

	got, err := s.GetApproval(ctx, overdue.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != approval.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if got.DecidedBy != audit.SystemActor {
		t.Fatalf("decided by = %q, want %q", got.DecidedBy, audit.SystemActor)
	}
	if got.DecidedAt == nil {
		t.Fatal("decided at not recorded for expired approval")
	}

	events, err := s.QueryEvents(ctx, audit.Filter{Type: audit.EventApprovalExpired})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expiry audit events = %d, want 1", len(events))
	}
}

func TestListApprovalsFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	runID := id.NewRunID()

	a1 := newApproval(runID, "key-a")
	a2 := newApproval(runID, "key-b")
	a3 := newApproval(id.NewRunID(), "key-c")
	for _, a := range []*approval.Approval{a1, a2, a3} {
		if _, _, err := s.CreateApproval(ctx, a, createEvent(a)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	byRun, err := s.ListApprovals(ctx, approval.ListOpts{RunID: runID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byRun) != 2 {
		t.Fatalf("by run = %d, want 2", len(byRun))
	}

	pending, err := s.ListApprovals(ctx, approval.ListOpts{Status: approval.StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
}

// ──────────────────────────────────────────────────
// Checkpoint Store tests
// ──────────────────────────────────────────────────

func TestCheckpointSequence(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	runID := id.NewRunID()

	for want := int64(1); want <= 3; want++ {
		c := &checkpoint.Checkpoint{
			ID:        id.NewCheckpointID(),
			RunID:     runID,
			Payload:   []byte("state"),
			CreatedAt: time.Now().UTC(),
		}
		seq, err := s.SaveCheckpoint(ctx, c)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if seq != want {
			t.Fatalf("seq = %d, want %d", seq, want)
		}
	}

	latest, err := s.LatestCheckpoint(ctx, runID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Seq != 3 {
		t.Fatalf("latest seq = %d, want 3", latest.Seq)
	}

	all, err := s.ListCheckpoints(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(all))
	}
	for i, c := range all {
		if c.Seq != int64(i+1) {
			t.Fatalf("checkpoints[%d].Seq = %d, want %d", i, c.Seq, i+1)
		}
	}
}

func TestLatestCheckpointNotFound(t *testing.T) {
	t.Parallel()
	s := New()

	_, err := s.LatestCheckpoint(context.Background(), id.NewRunID())
	if !errors.Is(err, gatekeep.ErrCheckpointNotFound) {
		t.Fatalf("error = %v, want ErrCheckpointNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Audit Store tests
// ──────────────────────────────────────────────────

func TestQueryEventsFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	runID := id.NewRunID()

	e1 := audit.New(audit.EventTaskEnqueued, audit.SystemActor, nil)
	e2 := audit.New(audit.EventApprovalApproved, "alice", nil).WithRun(runID)
	e3 := audit.New(audit.EventApprovalRejected, "alice", nil)
	for _, e := range []*audit.Event{e1, e2, e3} {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter audit.Filter
		want   int
	}{
		{"all", audit.Filter{}, 3},
		{"by type", audit.Filter{Type: audit.EventTaskEnqueued}, 1},
		{"by actor", audit.Filter{ActorID: "alice"}, 2},
		{"by run", audit.Filter{RunID: runID}, 1},
		{"limit", audit.Filter{Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("events = %d, want %d", len(got), tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Task Store tests
// ──────────────────────────────────────────────────

func newTask(taskType string, priority int) *task.Task {
	t := task.New(taskType, []byte(`{}`), task.WithPriority(priority))
	t.RunAt = time.Now().UTC().Add(-time.Second) // eligible immediately
	return t
}

func TestClaimTaskOrderingAndNoDoubleClaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	low := newTask("tool_execution", 0)
	high := newTask("tool_execution", 5)
	for _, tk := range []*task.Task{low, high} {
		if err := s.EnqueueTask(ctx, tk); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	first, err := s.ClaimTask(ctx, w1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.ID != high.ID {
		t.Fatalf("first claim = %v, want high-priority %v", first.ID, high.ID)
	}
	if first.ClaimedBy != w1 {
		t.Fatalf("claimed_by = %v, want %v", first.ClaimedBy, w1)
	}

	second, err := s.ClaimTask(ctx, w2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second.ID != low.ID {
		t.Fatalf("second claim = %v, want %v", second.ID, low.ID)
	}

	third, err := s.ClaimTask(ctx, w1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if third != nil {
		t.Fatalf("third claim = %v, want nil (queue drained)", third.ID)
	}
}

func TestClaimTaskSkipsFuture(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	future := task.New("notify", nil, task.WithRunAt(time.Now().UTC().Add(time.Hour)))
	if err := s.EnqueueTask(ctx, future); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.ClaimTask(ctx, id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed future task %v, want nil", got.ID)
	}
}

func TestRetryTaskReturnsToPending(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("tool_execution", 0)
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	owner := id.NewWorkerID()
	if _, err := s.ClaimTask(ctx, owner); err != nil {
		t.Fatalf("claim: %v", err)
	}

	next := time.Now().UTC().Add(30 * time.Second)
	if err := s.RetryTask(ctx, tk.ID, owner, 1, "boom", next); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 1 || got.LastError != "boom" {
		t.Fatalf("attempts = %d lastError = %q", got.Attempts, got.LastError)
	}
	if !got.RunAt.Equal(next) {
		t.Fatalf("run_at = %v, want %v", got.RunAt, next)
	}
	if !got.ClaimedBy.IsNil() {
		t.Fatalf("claimed_by = %v, want cleared", got.ClaimedBy)
	}
}

func TestHeartbeatRequiresOwner(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("tool_execution", 0)
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	owner := id.NewWorkerID()
	if _, err := s.ClaimTask(ctx, owner); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := s.HeartbeatTask(ctx, tk.ID, owner); err != nil {
		t.Fatalf("heartbeat by owner: %v", err)
	}
	if err := s.HeartbeatTask(ctx, tk.ID, id.NewWorkerID()); err == nil {
		t.Fatal("heartbeat by non-owner succeeded")
	}
}

func TestCompleteAndRetryRequireOwner(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("tool_execution", 0)
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale := id.NewWorkerID()
	if _, err := s.ClaimTask(ctx, stale); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Reap the claim and hand the task to a second worker, as the
	// reaper would after the first worker wedged mid-execution.
	s.mu.Lock()
	old := time.Now().UTC().Add(-time.Hour)
	s.tasks[tk.ID.String()].HeartbeatAt = &old
	s.mu.Unlock()
	if _, err := s.ReapStaleTasks(ctx, 5*time.Minute); err != nil {
		t.Fatalf("reap: %v", err)
	}
	current := id.NewWorkerID()
	if _, err := s.ClaimTask(ctx, current); err != nil {
		t.Fatalf("re-claim: %v", err)
	}

	// The wedged worker wakes up; its writes must not land.
	if err := s.CompleteTask(ctx, tk.ID, stale); !errors.Is(err, gatekeep.ErrInvalidState) {
		t.Fatalf("complete by stale worker: %v, want invalid state", err)
	}
	next := time.Now().UTC().Add(time.Minute)
	if err := s.RetryTask(ctx, tk.ID, stale, 2, "late failure", next); !errors.Is(err, gatekeep.ErrInvalidState) {
		t.Fatalf("retry by stale worker: %v, want invalid state", err)
	}
	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusClaimed || got.ClaimedBy != current {
		t.Fatalf("task = %s/%v, want still claimed by %v", got.Status, got.ClaimedBy, current)
	}

	if err := s.CompleteTask(ctx, tk.ID, current); err != nil {
		t.Fatalf("complete by owner: %v", err)
	}
}

func TestReapStaleTasks(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("tool_execution", 0)
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	crashed := id.NewWorkerID()
	claimed, err := s.ClaimTask(ctx, crashed)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Age the heartbeat past the threshold.
	s.mu.Lock()
	old := time.Now().UTC().Add(-time.Hour)
	s.tasks[claimed.ID.String()].HeartbeatAt = &old
	s.mu.Unlock()

	reclaimed, err := s.ReapStaleTasks(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("reclaimed = %d, want 1", len(reclaimed))
	}
	if reclaimed[0].ClaimedBy != crashed {
		t.Fatalf("reclaimed claimant = %v, want %v", reclaimed[0].ClaimedBy, crashed)
	}

	// The task is claimable again.
	again, err := s.ClaimTask(ctx, id.NewWorkerID())
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if again == nil || again.ID != tk.ID {
		t.Fatal("reclaimed task not claimable")
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func TestDeadLetterTask(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tk := newTask("tool_execution", 0)
	tk.Attempts = 5
	if err := s.EnqueueTask(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	entry := &dlq.Entry{
		ID:          id.NewDLQID(),
		TaskID:      tk.ID,
		TaskType:    tk.Type,
		Payload:     tk.Payload,
		Error:       "exhausted",
		Attempts:    5,
		MaxAttempts: 5,
		FailedAt:    now,
		CreatedAt:   now,
	}
	if err := s.DeadLetterTask(ctx, tk, entry); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Fatalf("task status = %s, want failed", got.Status)
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("dlq count = %d, want 1", count)
	}

	if err := s.MarkReplayed(ctx, entry.ID); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	e, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if e.ReplayedAt == nil {
		t.Fatal("replayed_at not set")
	}
}

// ──────────────────────────────────────────────────
// Execution journal tests
// ──────────────────────────────────────────────────

func TestCreateExecutionClaimFirst(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	approvalID := id.NewApprovalID()

	e := &orchestrator.Execution{
		ID:         id.NewExecutionID(),
		RunID:      id.NewRunID(),
		ApprovalID: approvalID,
		ActionName: "transition_deal",
		Status:     orchestrator.ExecutionStarted,
		StartedAt:  time.Now().UTC(),
	}
	_, created, err := s.CreateExecution(ctx, e)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first create reported created=false")
	}

	dup := *e
	dup.ID = id.NewExecutionID()
	existing, created2, err := s.CreateExecution(ctx, &dup)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created2 {
		t.Fatal("duplicate create reported created=true")
	}
	if existing.ID != e.ID {
		t.Fatalf("duplicate resolved to %v, want original %v", existing.ID, e.ID)
	}

	if err := s.CompleteExecution(ctx, e.ID, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := s.GetExecutionByApproval(ctx, approvalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != orchestrator.ExecutionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}
