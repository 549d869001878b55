package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/checkpoint"
	"github.com/zakops/gatekeep/id"
)

// seqRetries bounds how often SaveCheckpoint retries after losing a
// sequence allocation race.
const seqRetries = 5

const checkpointColumns = `run_id, seq, id, payload, created_at`

// SaveCheckpoint appends a checkpoint at the next free sequence for the
// run. The sequence is allocated optimistically: read MAX(seq)+1 then
// insert, and let the (run_id, seq) primary key arbitrate concurrent
// writers. The loser retries with a fresh sequence.
func (s *Store) SaveCheckpoint(ctx context.Context, c *checkpoint.Checkpoint) (int64, error) {
	for attempt := 0; attempt < seqRetries; attempt++ {
		var seq int64
		err := s.pool.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM gatekeep_checkpoints WHERE run_id = $1`,
			c.RunID.String(),
		).Scan(&seq)
		if err != nil {
			return 0, wrapUnavailable("save checkpoint: next seq", err)
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO gatekeep_checkpoints (run_id, seq, id, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			c.RunID.String(), seq, c.ID.String(), c.Payload, c.CreatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return 0, wrapUnavailable("save checkpoint", err)
		}

		c.Seq = seq
		return seq, nil
	}
	return 0, fmt.Errorf("gatekeep/postgres: save checkpoint: sequence contention after %d attempts", seqRetries)
}

// LatestCheckpoint returns the highest-sequence checkpoint for the run.
func (s *Store) LatestCheckpoint(ctx context.Context, runID id.RunID) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM gatekeep_checkpoints
		WHERE run_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		runID.String(),
	)
	c, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekeep.ErrCheckpointNotFound
		}
		return nil, wrapUnavailable("latest checkpoint", err)
	}
	return c, nil
}

// ListCheckpoints returns all checkpoints for a run, sequence ascending.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+checkpointColumns+`
		FROM gatekeep_checkpoints
		WHERE run_id = $1
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, wrapUnavailable("list checkpoints", err)
	}
	defer rows.Close()

	var checkpoints []*checkpoint.Checkpoint
	for rows.Next() {
		c, scanErr := scanCheckpoint(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gatekeep/postgres: scan checkpoint row: %w", scanErr)
		}
		checkpoints = append(checkpoints, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekeep/postgres: iterate checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// scanCheckpoint scans a single checkpoint row.
func scanCheckpoint(row pgx.Row) (*checkpoint.Checkpoint, error) {
	var (
		c      checkpoint.Checkpoint
		runStr string
		idStr  string
	)
	err := row.Scan(&runStr, &c.Seq, &idStr, &c.Payload, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	parsedRun, parseErr := id.ParseRunID(runStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse run id %q: %w", runStr, parseErr)
	}
	c.RunID = parsedRun

	parsedID, parseErr := id.ParseCheckpointID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse checkpoint id %q: %w", idStr, parseErr)
	}
	c.ID = parsedID

	return &c, nil
}
