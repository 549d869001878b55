// Package checkpoint provides versioned, optionally-encrypted snapshots
// of paused run state, keyed by run identity.
//
// Checkpoints for a run form a total order by sequence number; the
// latest checkpoint is the sole source of truth for resumption. Saves
// append, never overwrite. Payloads pass through a Codec: AES-256-GCM
// when a key is configured, fail-closed in production when it is not.
package checkpoint

import (
	"context"
	"time"

	"github.com/zakops/gatekeep/id"
)

// Checkpoint is an immutable snapshot of a run's state at one sequence
// point. Payload is opaque to the store: encrypted or plaintext
// depending on the codec configuration at save time.
type Checkpoint struct {
	ID        id.CheckpointID `json:"id"`
	RunID     id.RunID        `json:"run_id"`
	Seq       int64           `json:"seq"`
	Payload   []byte          `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the persistence contract for checkpoints.
type Store interface {
	// SaveCheckpoint appends a new checkpoint for the run and returns
	// its sequence number. Sequence numbers are allocated per run,
	// strictly increasing; concurrent writers serialize through the
	// store and never silently overwrite an existing sequence.
	SaveCheckpoint(ctx context.Context, c *Checkpoint) (int64, error)

	// LatestCheckpoint returns the highest-sequence checkpoint for the
	// run, or ErrCheckpointNotFound if the run has none.
	LatestCheckpoint(ctx context.Context, runID id.RunID) (*Checkpoint, error)

	// ListCheckpoints returns all checkpoints for a run ordered by
	// sequence ascending.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)
}
