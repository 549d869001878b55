package orchestrator

import (
	"context"
	"encoding/json"
)

// Sink receives streamed content chunks during a step. The HTTP layer
// bridges this to server-sent events; non-streaming callers use NopSink.
type Sink interface {
	Content(ctx context.Context, chunk string)
}

// NopSink discards streamed content.
type NopSink struct{}

func (NopSink) Content(context.Context, string) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, chunk string)

func (f SinkFunc) Content(ctx context.Context, chunk string) { f(ctx, chunk) }

// Proposal is a side-effectful action the agent wants to perform.
// Whether it executes immediately or waits behind an approval gate is
// the orchestrator's call, not the agent's.
type Proposal struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

// StepInput carries everything the agent needs for one turn.
type StepInput struct {
	// Message is the user input for this turn. Empty on resumption.
	Message string

	// State is the agent's opaque state from the latest checkpoint,
	// nil on the first turn of a run.
	State json.RawMessage

	// Outcomes lists what happened to previously gated actions, most
	// recent last. The agent folds these into its next response.
	Outcomes []Outcome
}

// StepResult is what the agent produced for one turn. Exactly one of
// Proposal or Content is the step's point: a non-nil Proposal suspends
// the run at a gate, otherwise Content is the final answer.
type StepResult struct {
	// Content is the agent's response text so far.
	Content string

	// Proposal, when non-nil, is an action the agent wants executed.
	Proposal *Proposal

	// State is the agent's opaque state to checkpoint.
	State json.RawMessage
}

// Agent is the external reasoning collaborator. Implementations may
// stream partial content through the sink before returning.
type Agent interface {
	Step(ctx context.Context, in StepInput, sink Sink) (*StepResult, error)
}

// Runner executes a validated action against the business backend.
// Implementations are external collaborators; the orchestrator only
// guarantees each gated action reaches the runner at most once.
type Runner interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

func (f RunnerFunc) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, name, args)
}
