package approval

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/id"
)

// ListOpts controls filtering and pagination for approval list queries.
type ListOpts struct {
	// RunID filters by owning run. Nil ID means all runs.
	RunID id.RunID
	// Status filters by status. Empty means all statuses.
	Status Status
	// Limit is the maximum number of approvals to return. Zero means no limit.
	Limit int
	// Offset is the number of approvals to skip.
	Offset int
}

// Store is the persistence contract for the approval registry.
//
// CreateApproval and DecideApproval take the audit event that records
// the transition; implementations must persist approval and event in
// the same transaction, so a failed audit append aborts the decision.
type Store interface {
	// CreateApproval persists a new pending approval together with its
	// creation audit event. If an approval with the same idempotency
	// key already exists, the existing approval is returned with
	// created == false and nothing is written.
	CreateApproval(ctx context.Context, a *Approval, evt *audit.Event) (existing *Approval, created bool, err error)

	// GetApproval retrieves an approval by ID.
	GetApproval(ctx context.Context, approvalID id.ApprovalID) (*Approval, error)

	// ListApprovals returns approvals matching the given options,
	// newest first.
	ListApprovals(ctx context.Context, opts ListOpts) ([]*Approval, error)

	// DecideApproval atomically transitions the approval from pending
	// to the decision's terminal status and appends the decision audit
	// event, in one transaction. It must be implemented as a single
	// conditional update guarded by status = 'pending': exactly one
	// concurrent caller succeeds, all others get ErrAlreadyDecided.
	// A pending approval past its expiry cannot be decided; callers
	// get ErrApprovalExpired.
	DecideApproval(ctx context.Context, approvalID id.ApprovalID, actorID string, decision Decision, reason string, evt *audit.Event) (*Approval, error)

	// ExpireApprovals transitions all pending approvals whose expiry is
	// at or before now to expired, appending one audit event per
	// approval in the same transaction. The update is guarded by
	// status = 'pending' so it races safely against human decisions.
	// Returns the IDs of the approvals expired.
	ExpireApprovals(ctx context.Context, now time.Time) ([]id.ApprovalID, error)
}
