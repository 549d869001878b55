package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zakops/gatekeep/id"
)

// ExecutionStatus is the lifecycle state of a journalled execution.
type ExecutionStatus string

const (
	// ExecutionStarted means the journal row exists but the action has
	// not finished. A row stuck here marks an execution interrupted by
	// a crash.
	ExecutionStarted ExecutionStatus = "started"
	// ExecutionCompleted means the action ran and its result is cached.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed means the action ran and returned an error.
	ExecutionFailed ExecutionStatus = "failed"
)

// Execution is the claim-first journal record for one gated action.
// It is written before the action runs; uniqueness on the approval ID
// guarantees an approved action executes at most once no matter how
// many resume requests race.
type Execution struct {
	ID          id.ExecutionID  `json:"id"`
	RunID       id.RunID        `json:"run_id"`
	ApprovalID  id.ApprovalID   `json:"approval_id"`
	ActionName  string          `json:"action_name"`
	ActionArgs  json.RawMessage `json:"action_args"`
	Status      ExecutionStatus `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionStore is the persistence contract for the execution journal.
type ExecutionStore interface {
	// CreateExecution persists a new journal record in started state.
	// If a record for the same approval already exists the existing
	// record is returned with created == false and nothing is written.
	CreateExecution(ctx context.Context, e *Execution) (existing *Execution, created bool, err error)

	// GetExecutionByApproval retrieves the journal record for an
	// approval, or ErrExecutionNotFound.
	GetExecutionByApproval(ctx context.Context, approvalID id.ApprovalID) (*Execution, error)

	// CompleteExecution marks the record completed and caches the result.
	CompleteExecution(ctx context.Context, executionID id.ExecutionID, result json.RawMessage) error

	// FailExecution marks the record failed with the error message.
	FailExecution(ctx context.Context, executionID id.ExecutionID, errMsg string) error

	// ListExecutionsByRun returns a run's journal records, oldest first.
	ListExecutionsByRun(ctx context.Context, runID id.RunID) ([]*Execution, error)
}
