// Package dlq implements the dead-letter sink: terminal storage for
// tasks that exhausted their retry budget. Entries preserve the task
// id, type, payload, last error, and attempt counts so operators can
// inspect failures and replay them after remediation. Nothing is ever
// silently dropped.
package dlq
