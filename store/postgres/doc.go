// Package postgres implements the aggregate store on PostgreSQL using
// pgx/v5. Claims use FOR UPDATE SKIP LOCKED, decisions are single
// conditional updates co-located with their audit append in one
// transaction, and the audit table carries a trigger that rejects
// UPDATE and DELETE so the ledger stays append-only even against
// privileged direct SQL.
package postgres
