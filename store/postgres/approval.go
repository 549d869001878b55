package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/id"
)

const approvalColumns = `
	id, run_id, action_name, action_args, tier, status, idempotency_key,
	requested_by, decided_by, reason, created_at, expires_at, decided_at`

// CreateApproval inserts a pending approval and its creation audit
// event in one transaction. A unique violation on the idempotency key
// aborts the transaction and returns the already-existing approval.
func (s *Store) CreateApproval(ctx context.Context, a *approval.Approval, evt *audit.Event) (*approval.Approval, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, wrapUnavailable("create approval: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO gatekeep_approvals (
			id, run_id, action_name, action_args, tier, status,
			idempotency_key, requested_by, decided_by, reason,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', '', $9, $10)`,
		a.ID.String(), a.RunID.String(), a.ActionName, []byte(a.ActionArgs),
		string(a.Tier), string(a.Status), a.IdempotencyKey, a.RequestedBy,
		a.CreatedAt, a.ExpiresAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			existing, getErr := s.getApprovalByIdempotencyKey(ctx, a.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, wrapUnavailable("create approval", err)
	}

	if err = s.appendEventTx(ctx, tx, evt); err != nil {
		return nil, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, wrapUnavailable("create approval: commit", err)
	}
	return a, true, nil
}

// GetApproval retrieves an approval by ID.
func (s *Store) GetApproval(ctx context.Context, approvalID id.ApprovalID) (*approval.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+approvalColumns+` FROM gatekeep_approvals WHERE id = $1`,
		approvalID.String(),
	)
	a, err := scanApproval(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekeep.ErrApprovalNotFound
		}
		return nil, wrapUnavailable("get approval", err)
	}
	return a, nil
}

// ListApprovals returns approvals matching the given options, newest first.
func (s *Store) ListApprovals(ctx context.Context, opts approval.ListOpts) ([]*approval.Approval, error) {
	query := `SELECT` + approvalColumns + ` FROM gatekeep_approvals WHERE 1=1`
	args := []any{}
	argIdx := 1

	if !opts.RunID.IsNil() {
		query += fmt.Sprintf(" AND run_id = $%d", argIdx)
		args = append(args, opts.RunID.String())
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, wrapUnavailable("list approvals", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// DecideApproval transitions pending -> decided with a single
// conditional update. The status = 'pending' guard is what makes the
// race safe: of N concurrent deciders exactly one sees RowsAffected 1,
// the rest fall through to the classifying SELECT.
func (s *Store) DecideApproval(ctx context.Context, approvalID id.ApprovalID, actorID string, decision approval.Decision, reason string, evt *audit.Event) (*approval.Approval, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapUnavailable("decide approval: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		UPDATE gatekeep_approvals
		SET status = $2, decided_by = $3, reason = $4, decided_at = $5
		WHERE id = $1 AND status = 'pending' AND expires_at > $5
		RETURNING`+approvalColumns,
		approvalID.String(), string(decision.Status()), actorID, reason,
		time.Now().UTC(),
	)
	a, err := scanApproval(row)
	if err != nil {
		if !isNoRows(err) {
			return nil, wrapUnavailable("decide approval", err)
		}
		// Zero rows updated: not found, already decided, or expired.
		return nil, s.classifyDecideMiss(ctx, approvalID)
	}

	if err = s.appendEventTx(ctx, tx, evt); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, wrapUnavailable("decide approval: commit", err)
	}
	return a, nil
}

// classifyDecideMiss distinguishes why the conditional update matched
// no rows.
func (s *Store) classifyDecideMiss(ctx context.Context, approvalID id.ApprovalID) error {
	var status string
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT status, expires_at FROM gatekeep_approvals WHERE id = $1`,
		approvalID.String(),
	).Scan(&status, &expiresAt)
	if err != nil {
		if isNoRows(err) {
			return gatekeep.ErrApprovalNotFound
		}
		return wrapUnavailable("classify decide", err)
	}
	if approval.Status(status) == approval.StatusPending && !expiresAt.After(time.Now().UTC()) {
		return gatekeep.ErrApprovalExpired
	}
	return gatekeep.ErrAlreadyDecided
}

// ExpireApprovals sweeps pending approvals past their expiry, writing
// one audit event per expired approval in the same transaction.
func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) ([]id.ApprovalID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapUnavailable("expire approvals: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		UPDATE gatekeep_approvals
		SET status = 'expired', decided_by = $2, decided_at = $1
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING id, run_id`,
		now, audit.SystemActor,
	)
	if err != nil {
		return nil, wrapUnavailable("expire approvals", err)
	}

	type expired struct {
		approvalID id.ApprovalID
		runID      id.RunID
	}
	var swept []expired
	for rows.Next() {
		var idStr, runStr string
		if err = rows.Scan(&idStr, &runStr); err != nil {
			rows.Close()
			return nil, wrapUnavailable("expire approvals: scan", err)
		}
		apvID, parseErr := id.ParseApprovalID(idStr)
		if parseErr != nil {
			rows.Close()
			return nil, fmt.Errorf("gatekeep/postgres: expire approvals: %w", parseErr)
		}
		runID, _ := id.ParseRunID(runStr)
		swept = append(swept, expired{approvalID: apvID, runID: runID})
	}
	if err = rows.Err(); err != nil {
		return nil, wrapUnavailable("expire approvals: iterate", err)
	}
	rows.Close()

	ids := make([]id.ApprovalID, 0, len(swept))
	for _, e := range swept {
		evt := audit.New(audit.EventApprovalExpired, audit.SystemActor, nil).
			WithRun(e.runID).
			WithApproval(e.approvalID)
		if err = s.appendEventTx(ctx, tx, evt); err != nil {
			return nil, err
		}
		ids = append(ids, e.approvalID)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, wrapUnavailable("expire approvals: commit", err)
	}
	return ids, nil
}

func (s *Store) getApprovalByIdempotencyKey(ctx context.Context, key string) (*approval.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+approvalColumns+` FROM gatekeep_approvals WHERE idempotency_key = $1`,
		key,
	)
	a, err := scanApproval(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekeep.ErrApprovalNotFound
		}
		return nil, wrapUnavailable("get approval by idempotency key", err)
	}
	return a, nil
}

// scanApproval scans a single approval row.
func scanApproval(row pgx.Row) (*approval.Approval, error) {
	var (
		a         approval.Approval
		idStr     string
		runStr    string
		tierStr   string
		statusStr string
	)
	err := row.Scan(
		&idStr, &runStr, &a.ActionName, &a.ActionArgs, &tierStr, &statusStr,
		&a.IdempotencyKey, &a.RequestedBy, &a.DecidedBy, &a.Reason,
		&a.CreatedAt, &a.ExpiresAt, &a.DecidedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Tier = approval.Tier(tierStr)
	a.Status = approval.Status(statusStr)

	parsedID, parseErr := id.ParseApprovalID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse approval id %q: %w", idStr, parseErr)
	}
	a.ID = parsedID

	parsedRun, parseErr := id.ParseRunID(runStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekeep/postgres: parse run id %q: %w", runStr, parseErr)
	}
	a.RunID = parsedRun

	return &a, nil
}

// collectApprovals collects all approvals from query rows.
func collectApprovals(rows pgx.Rows) ([]*approval.Approval, error) {
	var approvals []*approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("gatekeep/postgres: scan approval row: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekeep/postgres: iterate approval rows: %w", err)
	}
	return approvals, nil
}
