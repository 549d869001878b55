package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/task"
)

const taskColumns = `
	id, type, payload, priority, status, attempts, max_attempts,
	last_error, claimed_by, run_at, started_at, completed_at,
	heartbeat_at, timeout_ms, created_at, updated_at`

// EnqueueTask persists a new task in pending state.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekeep_tasks (
			id, type, payload, priority, status, attempts, max_attempts,
			last_error, claimed_by, run_at, timeout_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', $8, $9, $10, $11)`,
		t.ID.String(), t.Type, t.Payload, t.Priority, string(t.Status),
		t.Attempts, t.MaxAttempts, t.RunAt, t.Timeout.Milliseconds(),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gatekeep.ErrTaskAlreadyExists
		}
		return wrapUnavailable("enqueue task", err)
	}
	return nil
}

// ClaimTask atomically claims the next due pending task for the worker.
// FOR UPDATE SKIP LOCKED keeps concurrent workers from blocking on or
// double-claiming the same row.
func (s *Store) ClaimTask(ctx context.Context, workerID id.WorkerID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE gatekeep_tasks
			SET status = 'claimed', claimed_by = $1,
			    started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM gatekeep_tasks
				WHERE status = 'pending' AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING`+taskColumns+`
		)
		SELECT`+taskColumns+` FROM claimed`,
		workerID.String(),
	)
	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapUnavailable("claim task", err)
	}
	return t, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+taskColumns+` FROM gatekeep_tasks WHERE id = $1`,
		taskID.String(),
	)
	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekeep.ErrTaskNotFound
		}
		return nil, wrapUnavailable("get task", err)
	}
	return t, nil
}

// CompleteTask marks a claimed task completed. The claimed_by guard
// matches HeartbeatTask: a worker that lost its claim to the reaper
// cannot complete a task another worker has since re-claimed.
func (s *Store) CompleteTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekeep_tasks
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		taskID.String(), workerID.String(),
	)
	if err != nil {
		return wrapUnavailable("complete task", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrTaskNotFound
	}
	return nil
}

// RetryTask records a failed attempt and returns the task to pending,
// rescheduled at nextRunAt. Guarded on claim ownership like
// CompleteTask.
func (s *Store) RetryTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID, attempts int, lastError string, nextRunAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekeep_tasks
		SET status = 'pending', attempts = $2, last_error = $3,
		    run_at = $4, claimed_by = '', started_at = NULL,
		    heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $5`,
		taskID.String(), attempts, lastError, nextRunAt, workerID.String(),
	)
	if err != nil {
		return wrapUnavailable("retry task", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrTaskNotFound
	}
	return nil
}

// FailTask marks the task terminally failed.
func (s *Store) FailTask(ctx context.Context, taskID id.TaskID, attempts int, lastError string) error {
	tag, err := s.pool.Exec(ctx, failTaskSQL, taskID.String(), attempts, lastError)
	if err != nil {
		return wrapUnavailable("fail task", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrTaskNotFound
	}
	return nil
}

const failTaskSQL = `
	UPDATE gatekeep_tasks
	SET status = 'failed', attempts = $2, last_error = $3,
	    completed_at = NOW(), updated_at = NOW()
	WHERE id = $1`

// HeartbeatTask refreshes the heartbeat for a task the worker still
// holds. The claimed_by guard means a reaped task cannot be revived by
// its original, wedged worker.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekeep_tasks
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		taskID.String(), workerID.String(),
	)
	if err != nil {
		return wrapUnavailable("heartbeat task", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrTaskNotFound
	}
	return nil
}

// ReapStaleTasks returns claimed tasks with heartbeats older than
// threshold to pending and reports which tasks were reclaimed. The
// returned tasks carry the state they had before the reset, so callers
// see which worker went stale.
func (s *Store) ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		WITH stale AS (
			SELECT`+taskColumns+`
			FROM gatekeep_tasks
			WHERE status = 'claimed'
			  AND heartbeat_at IS NOT NULL
			  AND heartbeat_at < NOW() - make_interval(secs => $1)
			FOR UPDATE SKIP LOCKED
		),
		reset AS (
			UPDATE gatekeep_tasks
			SET status = 'pending', claimed_by = '', started_at = NULL,
			    heartbeat_at = NULL, updated_at = NOW()
			WHERE id IN (SELECT id FROM stale)
		)
		SELECT`+taskColumns+` FROM stale`,
		threshold.Seconds(),
	)
	if err != nil {
		return nil, wrapUnavailable("reap stale tasks", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListTasksByStatus returns tasks matching the given status.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	query := `SELECT` + taskColumns + ` FROM gatekeep_tasks WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, wrapUnavailable("list tasks by status", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM gatekeep_tasks WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapUnavailable("count tasks", err)
	}
	return count, nil
}

// scanTask scans a single task row.
func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t         task.Task
		idStr     string
		statusStr string
		workerStr string
		timeoutMs int64
	)
	err := row.Scan(
		&idStr, &t.Type, &t.Payload, &t.Priority, &statusStr,
		&t.Attempts, &t.MaxAttempts, &t.LastError, &workerStr,
		&t.RunAt, &t.StartedAt, &t.CompletedAt, &t.HeartbeatAt,
		&timeoutMs, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(statusStr)
	t.Timeout = time.Duration(timeoutMs) * time.Millisecond

	parsedID, parseErr := id.ParseTaskID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse task id %q: %w", idStr, parseErr)
	}
	t.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			t.ClaimedBy = parsedWorker
		}
	}

	return &t, nil
}

// collectTasks collects all tasks from query rows.
func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("gatekeep/postgres: scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekeep/postgres: iterate task rows: %w", err)
	}
	return tasks, nil
}
