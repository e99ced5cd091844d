package errors

import (
	"errors"
	"fmt"
)

var (
	ErrStorageUnavailable      = errors.New("local storage unavailable")
	ErrNetworkUnreachable      = errors.New("network unreachable")
	ErrValidationRejected      = errors.New("validation rejected")
	ErrSyncReplayFailed        = errors.New("sync replay failed")
	ErrPermissionDenied        = errors.New("notification permission denied")
	ErrNotFound                = errors.New("record not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrReminderNotFound        = errors.New("reminder not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidStatusTransition = errors.New("invalid reminder status transition")
	ErrQueueOnline             = errors.New("device is online, operation not queued")
	ErrDrainInProgress         = errors.New("another process is draining the queue")
	ErrCacheMiss               = errors.New("no cached response")
	ErrNilTransaction          = errors.New("transaction is nil")
	ErrNilReminder             = errors.New("reminder is nil")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidInput            = fmt.Errorf("invalid input")
	ErrInvalidCredentials      = fmt.Errorf("invalid credentials")
	ErrUsernameExists          = fmt.Errorf("username already exists")
	ErrUnauthenticated         = fmt.Errorf("not authenticated")
	ErrInternal                = fmt.Errorf("internal error")
)

// ValidationError is a 400 answer from the API. It carries the server's error
// payload and matches ErrValidationRejected.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation rejected (%d): %s", e.Status, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationRejected
}

// Invalid wraps ErrInvalidInput with a field-level reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
