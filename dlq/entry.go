package dlq

import (
	"time"

	"github.com/zakops/gatekeep/id"
)

// Entry represents a task that exhausted its retry budget and was moved
// to the dead letter sink for inspection or replay.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	TaskID      id.TaskID  `json:"task_id"`
	TaskType    string     `json:"task_type"`
	Payload     []byte     `json:"payload"`
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
