package gatekeep

import "errors"

var (
	// Store errors.
	ErrNoStore            = errors.New("gatekeep: no store configured")
	ErrStoreClosed        = errors.New("gatekeep: store closed")
	ErrStorageUnavailable = errors.New("gatekeep: storage unavailable")
	ErrMigrationFailed    = errors.New("gatekeep: migration failed")

	// Not found errors.
	ErrApprovalNotFound   = errors.New("gatekeep: approval not found")
	ErrCheckpointNotFound = errors.New("gatekeep: checkpoint not found")
	ErrRunNotFound        = errors.New("gatekeep: run not found")
	ErrTaskNotFound       = errors.New("gatekeep: task not found")
	ErrDLQNotFound        = errors.New("gatekeep: dlq entry not found")
	ErrExecutionNotFound  = errors.New("gatekeep: execution record not found")

	// Conflict errors.
	ErrAlreadyDecided    = errors.New("gatekeep: approval already decided")
	ErrApprovalExpired   = errors.New("gatekeep: approval expired")
	ErrTaskAlreadyExists = errors.New("gatekeep: task already exists")

	// Validation and auth errors.
	ErrValidation   = errors.New("gatekeep: validation failed")
	ErrUnauthorized = errors.New("gatekeep: unauthorized")
	ErrForbidden    = errors.New("gatekeep: forbidden")

	// Encryption errors.
	ErrEncryptionKeyMissing = errors.New("gatekeep: checkpoint encryption key missing")
	ErrEncryptionKeyInvalid = errors.New("gatekeep: checkpoint encryption key invalid")

	// State errors.
	ErrInvalidState        = errors.New("gatekeep: invalid state transition")
	ErrMaxAttemptsExceeded = errors.New("gatekeep: max attempts exceeded")
)

// Retryable reports whether an operation that failed with err may be
// safely retried by the caller. Storage unavailability never silently
// decides an approval; it is surfaced as retryable instead.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
