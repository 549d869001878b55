// Package gatekeep is a human-in-the-loop approval workflow engine.
// An autonomous agent proposes side-effectful actions; gatekeep suspends
// the run at an approval gate, durably records the pending action, lets
// exactly one concurrent approval or rejection win, resumes or aborts the
// run, and keeps an append-only audit trail of every transition.
//
// Gatekeep is designed as a library, not a service. Import it, configure
// a store, and drive runs through the orchestrator:
//
//	eng, err := engine.Build(
//	    engine.WithStore(pgStore),
//	    engine.WithAuthzGate(gate),
//	)
//
// # Architecture
//
// Gatekeep follows a composable store pattern where each subsystem
// (approval, checkpoint, audit, task, dlq) defines its own store
// interface. A single backend implements all of them; store/postgres and
// store/memory ship with the module.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
//
// # Durability and concurrency
//
// Every operation is a short-lived transaction against the store; there
// are no long-held in-process locks, so multiple service instances may
// run against the same database. Approval decisions are linearizable at
// the row level via a conditional update, checkpoints for a run are
// totally ordered by sequence number, and the audit ledger is physically
// protected against UPDATE and DELETE.
package gatekeep
