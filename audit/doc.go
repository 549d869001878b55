// Package audit defines the append-only audit ledger: immutable facts
// about approval, checkpoint, and task lifecycle transitions.
//
// The store contract exposes exactly one write operation, Append. No
// update or delete exists anywhere in the contract, and the postgres
// backend additionally installs a trigger so that direct UPDATE or
// DELETE statements against the ledger table are rejected by the
// database itself, regardless of caller privilege.
package audit
