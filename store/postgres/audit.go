package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/id"
)

const auditColumns = `
	id, event_type, actor_id, run_id, approval_id, execution_id, detail, created_at`

// AppendEvent persists an audit event. The ledger table carries a
// trigger that rejects UPDATE and DELETE, so append is the only write
// that can ever succeed.
func (s *Store) AppendEvent(ctx context.Context, e *audit.Event) error {
	_, err := s.pool.Exec(ctx, appendEventSQL, appendEventArgs(e)...)
	if err != nil {
		return wrapUnavailable("append event", err)
	}
	return nil
}

const appendEventSQL = `
	INSERT INTO gatekeep_audit_log (
		id, event_type, actor_id, run_id, approval_id, execution_id,
		detail, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func appendEventArgs(e *audit.Event) []any {
	return []any{
		e.ID.String(), string(e.Type), e.ActorID,
		e.RunID.String(), e.ApprovalID.String(), e.ExecutionID.String(),
		[]byte(e.Detail), e.CreatedAt,
	}
}

// appendEventTx appends an audit event inside an open transaction, so
// the event commits or rolls back together with the state transition
// it records.
func (s *Store) appendEventTx(ctx context.Context, tx pgx.Tx, e *audit.Event) error {
	if _, err := tx.Exec(ctx, appendEventSQL, appendEventArgs(e)...); err != nil {
		return wrapUnavailable("append event", err)
	}
	return nil
}

// QueryEvents returns events matching the filter, oldest first.
func (s *Store) QueryEvents(ctx context.Context, f audit.Filter) ([]*audit.Event, error) {
	query := `SELECT` + auditColumns + ` FROM gatekeep_audit_log WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Type != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(f.Type))
		argIdx++
	}
	if f.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, f.ActorID)
		argIdx++
	}
	if !f.RunID.IsNil() {
		query += fmt.Sprintf(" AND run_id = $%d", argIdx)
		args = append(args, f.RunID.String())
		argIdx++
	}
	if !f.ApprovalID.IsNil() {
		query += fmt.Sprintf(" AND approval_id = $%d", argIdx)
		args = append(args, f.ApprovalID.String())
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Since)
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapUnavailable("query events", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gatekeep/postgres: scan event row: %w", scanErr)
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekeep/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

// scanEvent scans a single audit event row.
func scanEvent(row pgx.Row) (*audit.Event, error) {
	var (
		e         audit.Event
		idStr     string
		typeStr   string
		runStr    string
		apvStr    string
		execStr   string
		createdAt time.Time
	)
	err := row.Scan(
		&idStr, &typeStr, &e.ActorID, &runStr, &apvStr, &execStr,
		&e.Detail, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = audit.EventType(typeStr)
	e.CreatedAt = createdAt

	parsedID, parseErr := id.ParseAuditID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse audit id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	if runStr != "" {
		if parsed, pErr := id.ParseRunID(runStr); pErr == nil {
			e.RunID = parsed
		}
	}
	if apvStr != "" {
		if parsed, pErr := id.ParseApprovalID(apvStr); pErr == nil {
			e.ApprovalID = parsed
		}
	}
	if execStr != "" {
		if parsed, pErr := id.ParseExecutionID(execStr); pErr == nil {
			e.ExecutionID = parsed
		}
	}

	return &e, nil
}
