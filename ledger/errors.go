/*
errors.go - Error taxonomy of the ledger

PURPOSE:
  Callers branch on these with errors.Is / errors.As. Backend failures
  (storage.ErrConnection, storage.ErrConstraint, ...) pass through wrapped,
  so both families can be tested on the same error value.

ERROR CATEGORIES:
  1. Input errors - ErrValidation, ErrDuplicateEmail, ErrUnknownClient
  2. Lookup errors - ErrNotFound
  3. Backend errors - see storage/errors.go, plus ErrAggregateNotApplied

SEE ALSO:
  - storage/errors.go: backend taxonomy
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/warp/client-ledger/storage"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateEmail is returned when the email belongs to another client.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrUnknownClient is returned when a sale references a missing client.
	ErrUnknownClient = errors.New("unknown client")

	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAggregateNotApplied is returned when the native strategy is in use
	// but the sale insert did not move the client's aggregate (the trigger
	// is missing). The sale is rolled back.
	ErrAggregateNotApplied = errors.New("aggregate trigger did not run")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DuplicateEmailError keeps the constraint violation it was derived from.
type DuplicateEmailError struct {
	Email string
	Err   error
}

func (e *DuplicateEmailError) Error() string {
	return fmt.Sprintf("email already registered: %s", e.Email)
}

func (e *DuplicateEmailError) Unwrap() []error {
	return []error{ErrDuplicateEmail, e.Err}
}

// NotFoundError says which record was missing.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrUnknownClient) ||
		errors.Is(err, storage.ErrConstraint)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if an idempotent read might succeed on retry.
func IsRetryable(err error) bool {
	return storage.IsRetryable(err)
}
