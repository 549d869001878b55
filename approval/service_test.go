package approval_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/store/memory"
)

func createParams(runID id.RunID) approval.CreateParams {
	return approval.CreateParams{
		RunID:          runID,
		ActionName:     "transition_deal",
		ActionArgs:     json.RawMessage(`{"deal_id":"d-1","from_stage":"screening","to_stage":"qualified"}`),
		Tier:           approval.TierCritical,
		IdempotencyKey: "key-" + runID.String(),
		RequestedBy:    "agent-1",
	}
}

func TestCreatePending(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New(), approval.WithDefaultTTL(time.Hour))
	ctx := context.Background()

	a, err := svc.CreatePending(ctx, createParams(id.NewRunID()))
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if a.Status != approval.StatusPending {
		t.Errorf("status = %q, want pending", a.Status)
	}
	if a.ID.IsNil() {
		t.Error("approval has nil id")
	}
	if !a.ExpiresAt.After(a.CreatedAt) {
		t.Error("expiry not after creation")
	}
}

func TestCreatePending_Idempotent(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New())
	ctx := context.Background()
	p := createParams(id.NewRunID())

	first, err := svc.CreatePending(ctx, p)
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	second, err := svc.CreatePending(ctx, p)
	if err != nil {
		t.Fatalf("CreatePending retry: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("retry created a new approval: %s vs %s", first.ID, second.ID)
	}
}

func TestCreatePending_Validation(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*approval.CreateParams)
	}{
		{"missing run", func(p *approval.CreateParams) { p.RunID = id.Nil }},
		{"missing action", func(p *approval.CreateParams) { p.ActionName = " " }},
		{"missing key", func(p *approval.CreateParams) { p.IdempotencyKey = "" }},
		{"missing requester", func(p *approval.CreateParams) { p.RequestedBy = "" }},
		{"bad tier", func(p *approval.CreateParams) { p.Tier = "superuser" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := createParams(id.NewRunID())
			tt.mutate(&p)
			if _, err := svc.CreatePending(ctx, p); !errors.Is(err, gatekeep.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestClaim(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New())
	ctx := context.Background()

	a, err := svc.CreatePending(ctx, createParams(id.NewRunID()))
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	decided, err := svc.Claim(ctx, a.ID, "alice", approval.Approve, "looks right")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if decided.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved", decided.Status)
	}
	if decided.DecidedBy != "alice" {
		t.Errorf("decided_by = %q, want alice", decided.DecidedBy)
	}
	if decided.DecidedAt == nil {
		t.Error("decided_at not set")
	}

	// Second decision loses, regardless of direction.
	if _, err = svc.Claim(ctx, a.ID, "bob", approval.Reject, ""); !errors.Is(err, gatekeep.ErrAlreadyDecided) {
		t.Errorf("second claim err = %v, want ErrAlreadyDecided", err)
	}
}

func TestClaim_NotFound(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New())
	_, err := svc.Claim(context.Background(), id.NewApprovalID(), "alice", approval.Approve, "")
	if !errors.Is(err, gatekeep.ErrApprovalNotFound) {
		t.Errorf("err = %v, want ErrApprovalNotFound", err)
	}
}

func TestClaim_Expired(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New(), approval.WithDefaultTTL(-time.Minute))
	ctx := context.Background()

	a, err := svc.CreatePending(ctx, createParams(id.NewRunID()))
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if _, err = svc.Claim(ctx, a.ID, "alice", approval.Approve, ""); !errors.Is(err, gatekeep.ErrApprovalExpired) {
		t.Errorf("err = %v, want ErrApprovalExpired", err)
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	t.Parallel()

	st := memory.New()
	svc := approval.NewService(st, approval.WithDefaultTTL(-time.Minute))
	ctx := context.Background()

	expired, err := svc.CreatePending(ctx, createParams(id.NewRunID()))
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	fresh := approval.NewService(st, approval.WithDefaultTTL(time.Hour))
	alive, err := fresh.CreatePending(ctx, createParams(id.NewRunID()))
	if err != nil {
		t.Fatalf("CreatePending fresh: %v", err)
	}

	sweeper := approval.NewSweeper(st)
	swept, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if len(swept) != 1 || swept[0] != expired.ID {
		t.Fatalf("swept = %v, want [%s]", swept, expired.ID)
	}

	got, err := svc.Get(ctx, expired.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}

	untouched, err := fresh.Get(ctx, alive.ID)
	if err != nil {
		t.Fatalf("Get fresh: %v", err)
	}
	if untouched.Status != approval.StatusPending {
		t.Errorf("fresh status = %q, want pending", untouched.Status)
	}
}

func TestListPending(t *testing.T) {
	t.Parallel()

	svc := approval.NewService(memory.New())
	ctx := context.Background()
	runID := id.NewRunID()

	a, err := svc.CreatePending(ctx, createParams(runID))
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	p2 := createParams(runID)
	p2.ActionName = "create_deal"
	p2.ActionArgs = json.RawMessage(`{"name":"acme"}`)
	p2.Tier = approval.TierWrite
	p2.IdempotencyKey = "key-2-" + runID.String()
	b, err := svc.CreatePending(ctx, p2)
	if err != nil {
		t.Fatalf("CreatePending second: %v", err)
	}

	if _, err = svc.Claim(ctx, b.ID, "alice", approval.Reject, "no"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	pending, err := svc.ListPending(ctx, runID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Errorf("pending = %d approvals, want exactly the undecided one", len(pending))
	}
}
