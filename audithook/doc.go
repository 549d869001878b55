// Package audithook bridges engine lifecycle events to the audit ledger.
//
// Approval transitions are already recorded transactionally by the
// approval store; this extension covers the asynchronous side of the
// engine (tasks, checkpoints, stale claim reaping) where best-effort
// append-after-commit is acceptable.
package audithook
