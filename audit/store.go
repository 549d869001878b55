package audit

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/id"
)

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	// Type filters by event type. Empty means all types.
	Type EventType
	// ActorID filters by actor. Empty means all actors.
	ActorID string
	// RunID filters by run.
	RunID id.RunID
	// ApprovalID filters by approval.
	ApprovalID id.ApprovalID
	// Since restricts to events created at or after this time.
	Since time.Time
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Offset is the number of events to skip.
	Offset int
}

// Store is the persistence contract for the audit ledger.
// Append is the only write operation; there is no update or delete.
type Store interface {
	// AppendEvent persists an audit event. Implementations must never
	// mutate existing rows.
	AppendEvent(ctx context.Context, e *Event) error

	// QueryEvents returns events matching the filter, oldest first.
	// Read side only; the write path never depends on it.
	QueryEvents(ctx context.Context, f Filter) ([]*Event, error)
}
