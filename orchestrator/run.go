package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/id"
)

// OutcomeStatus classifies what happened to a proposed action.
type OutcomeStatus string

const (
	// OutcomeExecuted means the action ran and produced a result.
	OutcomeExecuted OutcomeStatus = "executed"
	// OutcomeFailed means the action ran and returned an error.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeRejected means a human rejected the action.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeExpired means the approval lapsed before a decision.
	OutcomeExpired OutcomeStatus = "expired"
)

// Outcome records how one proposed action ended. Outcomes accumulate in
// the run's checkpoint so the agent sees them on its next turn.
type Outcome struct {
	ApprovalID id.ApprovalID   `json:"approval_id,omitempty"`
	Action     string          `json:"action"`
	Status     OutcomeStatus   `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// envelope is the checkpoint payload format. The agent's state is
// opaque inside it; everything else belongs to the orchestrator.
type envelope struct {
	RunID      id.RunID        `json:"run_id"`
	AgentState json.RawMessage `json:"agent_state,omitempty"`
	Outcomes   []Outcome       `json:"outcomes,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RunState is the externally visible state of a run, aggregated from
// the latest checkpoint and the approval registry.
type RunState struct {
	RunID            id.RunID             `json:"run_id"`
	LatestSeq        int64                `json:"latest_seq"`
	UpdatedAt        time.Time            `json:"updated_at"`
	PendingApprovals []*approval.Approval `json:"pending_approvals"`
	Outcomes         []Outcome            `json:"outcomes"`
}
