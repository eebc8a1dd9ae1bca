package shelf

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Lifecycle errors
	ErrConnection     = errors.New("database connection failed")
	ErrSchema         = errors.New("schema declaration conflict")
	ErrNotInitialized = errors.New("engine not initialized")

	// Store errors
	ErrStoreNotFound = errors.New("store not found")
	ErrIndexNotFound = errors.New("index not found")
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("concurrent modification detected")
	ErrConstraint    = errors.New("unique index constraint violated")
	ErrInvalidKey    = errors.New("invalid record key")

	// Transaction errors
	ErrTransaction        = errors.New("transaction failed")
	ErrTransactionAborted = errors.New("transaction aborted")

	// Storage policy errors
	ErrCompression   = errors.New("compression failed")
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// Backup and migration errors
	ErrInvalidBackup = errors.New("invalid backup")
	ErrMigration     = errors.New("migration failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Collaborator errors
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// abortedError marks err as the cause of an aborted transaction while keeping
// both ErrTransactionAborted and the cause matchable with errors.Is.
func abortedError(store string, err error) error {
	if errors.Is(err, ErrTransactionAborted) {
		return err
	}
	return WithContext(fmt.Errorf("%w: %w", ErrTransactionAborted, err), map[string]interface{}{
		"store": store,
	})
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a conflict/concurrent modification error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable checks if an error is safe to retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransaction) ||
		errors.Is(err, ErrConflict) ||
		(errors.Is(err, ErrTransactionAborted) && !IsPermanent(err))
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStoreNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConstraint) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsFatal reports whether err rejects the whole calling operation: a failed
// connection, a schema conflict or a malformed backup.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrInvalidBackup)
}
