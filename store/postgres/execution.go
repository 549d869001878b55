package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/orchestrator"
)

const executionColumns = `
	id, run_id, approval_id, action_name, action_args, status, result,
	error, started_at, completed_at`

// CreateExecution claims the journal slot for an approval. The unique
// constraint on approval_id arbitrates races: the loser reads back the
// winner's record and returns it with created == false.
func (s *Store) CreateExecution(ctx context.Context, e *orchestrator.Execution) (*orchestrator.Execution, bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekeep_executions (
			id, run_id, approval_id, action_name, action_args, status,
			error, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, '', $7)`,
		e.ID.String(), e.RunID.String(), e.ApprovalID.String(),
		e.ActionName, []byte(e.ActionArgs), string(e.Status), e.StartedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			existing, getErr := s.GetExecutionByApproval(ctx, e.ApprovalID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, wrapUnavailable("create execution", err)
	}
	return e, true, nil
}

// GetExecutionByApproval retrieves the journal record for an approval.
func (s *Store) GetExecutionByApproval(ctx context.Context, approvalID id.ApprovalID) (*orchestrator.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+executionColumns+` FROM gatekeep_executions WHERE approval_id = $1`,
		approvalID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekeep.ErrExecutionNotFound
		}
		return nil, wrapUnavailable("get execution by approval", err)
	}
	return e, nil
}

// CompleteExecution marks the record completed and caches the result
// for replayed resume requests.
func (s *Store) CompleteExecution(ctx context.Context, executionID id.ExecutionID, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekeep_executions
		SET status = 'completed', result = $2, completed_at = NOW()
		WHERE id = $1`,
		executionID.String(), []byte(result),
	)
	if err != nil {
		return wrapUnavailable("complete execution", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrExecutionNotFound
	}
	return nil
}

// FailExecution marks the record failed with the error message.
func (s *Store) FailExecution(ctx context.Context, executionID id.ExecutionID, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekeep_executions
		SET status = 'failed', error = $2, completed_at = NOW()
		WHERE id = $1`,
		executionID.String(), errMsg,
	)
	if err != nil {
		return wrapUnavailable("fail execution", err)
	}
	if tag.RowsAffected() == 0 {
		return gatekeep.ErrExecutionNotFound
	}
	return nil
}

// ListExecutionsByRun returns a run's journal records, oldest first.
func (s *Store) ListExecutionsByRun(ctx context.Context, runID id.RunID) ([]*orchestrator.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+executionColumns+` FROM gatekeep_executions
		 WHERE run_id = $1 ORDER BY started_at ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, wrapUnavailable("list executions by run", err)
	}
	defer rows.Close()

	var executions []*orchestrator.Execution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gatekeep/postgres: scan execution row: %w", scanErr)
		}
		executions = append(executions, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekeep/postgres: iterate execution rows: %w", err)
	}
	return executions, nil
}

// scanExecution scans a single execution row.
func scanExecution(row pgx.Row) (*orchestrator.Execution, error) {
	var (
		e         orchestrator.Execution
		idStr     string
		runStr    string
		apvStr    string
		statusStr string
	)
	err := row.Scan(
		&idStr, &runStr, &apvStr, &e.ActionName, &e.ActionArgs,
		&statusStr, &e.Result, &e.Error, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = orchestrator.ExecutionStatus(statusStr)

	parsedID, parseErr := id.ParseExecutionID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse execution id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedRun, parseErr := id.ParseRunID(runStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse run id %q: %w", runStr, parseErr)
	}
	e.RunID = parsedRun

	parsedApv, parseErr := id.ParseApprovalID(apvStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse approval id %q: %w", apvStr, parseErr)
	}
	e.ApprovalID = parsedApv

	return &e, nil
}
