package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zakops/gatekeep"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapUnavailable tags connection-level failures as retryable storage
// errors. Query-level errors (constraint violations, bad SQL) pass
// through unchanged so callers can classify them.
func wrapUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.SafeToRetry(err) {
		return fmt.Errorf("gatekeep/postgres: %s: %v: %w", op, err, gatekeep.ErrStorageUnavailable)
	}
	return fmt.Errorf("gatekeep/postgres: %s: %w", op, err)
}
