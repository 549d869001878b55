package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

const dlqColumns = `
	id, task_id, task_type, payload, error, attempts, max_attempts,
	failed_at, replayed_at, created_at`

// DeadLetterTask marks the task failed and inserts the DLQ entry in one
// transaction, so a crash between the two writes cannot lose the task.
func (s *Store) DeadLetterTask(ctx context.Context, t *task.Task, entry *dlq.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapUnavailable("dead letter task: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, failTaskSQL, t.ID.String(), t.Attempts, entry.Error)
	if err != nil {
		return wrapUnavailable("dead letter task: fail", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrTaskNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO gatekeep_dlq (
			id, task_id, task_type, payload, error, attempts,
			max_attempts, failed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID.String(), entry.TaskID.String(), entry.TaskType,
		entry.Payload, entry.Error, entry.Attempts, entry.MaxAttempts,
		entry.FailedAt, entry.CreatedAt,
	)
	if err != nil {
		return wrapUnavailable("dead letter task: insert", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return wrapUnavailable("dead letter task: commit", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest
// failures first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + dlqColumns + ` FROM gatekeep_dlq WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.TaskType != "" {
		query += fmt.Sprintf(" AND task_type = $%d", argIdx)
		args = append(args, opts.TaskType)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapUnavailable("list dlq", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gatekeep/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekeep/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+dlqColumns+` FROM gatekeep_dlq WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanDLQEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekeep.ErrDLQNotFound
		}
		return nil, wrapUnavailable("get dlq", err)
	}
	return e, nil
}

// MarkReplayed records that a DLQ entry was replayed.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gatekeep_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return wrapUnavailable("mark replayed", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM gatekeep_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, wrapUnavailable("purge dlq", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the sink.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gatekeep_dlq`).Scan(&count); err != nil {
		return 0, wrapUnavailable("count dlq", err)
	}
	return count, nil
}

// scanDLQEntry scans a single DLQ entry row.
func scanDLQEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		idStr   string
		taskStr string
	)
	err := row.Scan(
		&idStr, &taskStr, &e.TaskType, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedTask, parseErr := id.ParseTaskID(taskStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse task id %q: %w", taskStr, parseErr)
	}
	e.TaskID = parsedTask

	return &e, nil
}
