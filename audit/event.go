package audit

import (
	"encoding/json"
	"time"

	"github.com/zakops/gatekeep/id"
)

// EventType classifies what happened.
type EventType string

// Event types recorded by the engine.
const (
	EventApprovalCreated  EventType = "approval_created"
	EventApprovalClaimed  EventType = "approval_claimed"
	EventApprovalApproved EventType = "approval_approved"
	EventApprovalRejected EventType = "approval_rejected"
	EventApprovalExpired  EventType = "approval_expired"

	EventExecutionStarted   EventType = "tool_execution_started"
	EventExecutionCompleted EventType = "tool_execution_completed"
	EventExecutionFailed    EventType = "tool_execution_failed"

	EventTaskEnqueued     EventType = "task_enqueued"
	EventTaskCompleted    EventType = "task_completed"
	EventTaskRetrying     EventType = "task_retrying"
	EventTaskDeadLettered EventType = "task_dead_lettered"

	EventCheckpointSaved     EventType = "checkpoint_saved"
	EventStaleClaimReclaimed EventType = "stale_claim_reclaimed"
)

// SystemActor is the actor recorded for engine-initiated transitions
// such as expiry sweeps and stale claim reaping.
const SystemActor = "system"

// Event is an immutable fact about a state transition. Once appended it
// is never updated or deleted.
type Event struct {
	ID          id.AuditID      `json:"id"`
	Type        EventType       `json:"event_type"`
	ActorID     string          `json:"actor_id"`
	RunID       id.RunID        `json:"run_id,omitempty"`
	ApprovalID  id.ApprovalID   `json:"approval_id,omitempty"`
	ExecutionID id.ExecutionID  `json:"execution_id,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// New builds an Event with a fresh ID and the current UTC time.
// Detail is marshalled from the given map; a nil map stores an empty
// JSON object.
func New(eventType EventType, actorID string, detail map[string]any) *Event {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		// map[string]any with JSON-safe values cannot fail to marshal;
		// fall back to an empty object rather than dropping the event.
		raw = []byte("{}")
	}
	return &Event{
		ID:        id.NewAuditID(),
		Type:      eventType,
		ActorID:   actorID,
		Detail:    raw,
		CreatedAt: time.Now().UTC(),
	}
}

// WithRun attaches the run this event relates to.
func (e *Event) WithRun(runID id.RunID) *Event {
	e.RunID = runID
	return e
}

// WithApproval attaches the approval this event relates to.
func (e *Event) WithApproval(approvalID id.ApprovalID) *Event {
	e.ApprovalID = approvalID
	return e
}

// WithExecution attaches the execution record this event relates to.
func (e *Event) WithExecution(executionID id.ExecutionID) *Event {
	e.ExecutionID = executionID
	return e
}
