// Package approval implements the registry of pending actions: the
// state machine for side-effectful operations an agent has proposed and
// a human must decide.
//
// Status transitions are monotonic and one-way: pending moves to exactly
// one of approved, rejected, or expired, and never back. The decision is
// a single conditional update guarded by status = 'pending', so under
// any number of concurrent decision requests exactly one wins and the
// rest observe ErrAlreadyDecided. Creation is idempotent: a duplicate
// idempotency key returns the existing approval instead of a new row.
package approval
