package approval

import (
	"encoding/json"
	"time"

	"github.com/zakops/gatekeep/id"
)

// Status is the lifecycle state of an approval.
type Status string

const (
	// StatusPending means the approval awaits a human decision.
	StatusPending Status = "pending"
	// StatusApproved means a human approved the action.
	StatusApproved Status = "approved"
	// StatusRejected means a human rejected the action.
	StatusRejected Status = "rejected"
	// StatusExpired means the approval passed its expiry undecided.
	StatusExpired Status = "expired"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Tier is the ordered permission classification of a gated action.
type Tier string

const (
	// TierRead covers actions with no side effects.
	TierRead Tier = "read"
	// TierWrite covers actions that mutate business records.
	TierWrite Tier = "write"
	// TierCritical covers actions that always require a human decision.
	TierCritical Tier = "critical"
)

// tierOrder gives read < write < critical.
var tierOrder = map[Tier]int{
	TierRead:     1,
	TierWrite:    2,
	TierCritical: 3,
}

// AtLeast reports whether t is at or above other in the tier ordering.
func (t Tier) AtLeast(other Tier) bool {
	return tierOrder[t] >= tierOrder[other]
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// Decision is a human verdict on a pending approval.
type Decision string

const (
	// Approve resolves the approval and schedules the gated action.
	Approve Decision = "approve"
	// Reject resolves the approval and aborts the gated action.
	Reject Decision = "reject"
)

// Status returns the terminal status this decision produces.
func (d Decision) Status() Status {
	if d == Approve {
		return StatusApproved
	}
	return StatusRejected
}

// Approval is a proposed side-effectful operation awaiting a human
// decision. Mutated exactly once, by the claim operation; never deleted.
type Approval struct {
	ID             id.ApprovalID   `json:"id"`
	RunID          id.RunID        `json:"run_id"`
	ActionName     string          `json:"action_name"`
	ActionArgs     json.RawMessage `json:"action_args"`
	Tier           Tier            `json:"permission_tier"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	RequestedBy    string          `json:"requested_by"`
	DecidedBy      string          `json:"decided_by,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
}
