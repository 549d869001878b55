package task

import (
	"time"

	"github.com/zakops/gatekeep/id"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending means the task is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusClaimed means a worker holds the task and is executing it.
	StatusClaimed Status = "claimed"
	// StatusCompleted means the task finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the task exhausted its attempts and was
	// dead-lettered.
	StatusFailed Status = "failed"
)

// Task is a unit of asynchronous work, typically executing an approved
// action on behalf of a resumed run.
type Task struct {
	ID          id.TaskID     `json:"id"`
	Type        string        `json:"type"`
	Payload     []byte        `json:"payload"`
	Priority    int           `json:"priority"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	ClaimedBy   id.WorkerID   `json:"claimed_by,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Options configures per-task behaviour.
type Options struct {
	// MaxAttempts is the execution budget before dead-lettering.
	MaxAttempts int

	// Priority determines claim ordering. Higher values first.
	Priority int

	// Timeout is the maximum duration a task may run before being
	// cancelled.
	Timeout time.Duration

	// RunAt schedules the task for future execution. Zero means now.
	RunAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for Enqueue.
type Option func(*Options)

// WithMaxAttempts sets the execution budget before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithPriority sets the claim priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum execution duration.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the task for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// New builds a pending task of the given type with a fresh ID,
// applying any options over the defaults.
func New(taskType string, payload []byte, opts ...Option) *Task {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	return &Task{
		ID:          id.NewTaskID(),
		Type:        taskType,
		Payload:     payload,
		Priority:    o.Priority,
		Status:      StatusPending,
		MaxAttempts: o.MaxAttempts,
		RunAt:       runAt,
		Timeout:     o.Timeout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
