// Package store defines the aggregate persistence interface. Each
// subsystem (approval, checkpoint, audit, task, dlq, execution journal)
// defines its own store interface; the composite Store composes them
// all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/checkpoint"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/orchestrator"
	"github.com/zakops/gatekeep/task"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them so cross-subsystem writes (decision + audit,
// dead-letter + queue removal) share one transaction.
type Store interface {
	approval.Store
	checkpoint.Store
	audit.Store
	task.Store
	dlq.Store
	orchestrator.ExecutionStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
