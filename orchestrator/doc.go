// Package orchestrator drives agent runs up to approval gates and back.
//
// The agent's reasoning is an external collaborator behind the Agent
// interface. The orchestrator owns the gate/resume contract: when the
// agent proposes a side-effectful action it persists a checkpoint,
// records a pending approval and returns without blocking. A human
// decision arrives as a fresh request; Resume reloads the latest
// checkpoint and either enqueues the approved action for execution or
// records the rejection outcome.
//
// Every gated execution is journalled claim-first, so a crash between
// approval and execution never runs the same action twice.
package orchestrator
