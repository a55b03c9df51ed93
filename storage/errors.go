/*
errors.go - Error taxonomy for storage adapters

PURPOSE:
  Adapters translate driver-specific failures into these errors, so the
  ledger can react to "duplicate email" or "backend unreachable" without
  knowing which driver produced them.

ERROR CATEGORIES:
  ErrConnection:       backend unreachable; reads may retry, writes never do
  ErrConstraint:       uniqueness / foreign-key / not-null / check violation
  ErrSyntax:           programming error (unknown statement, bad SQL)
  ErrTransactionState: nested Begin, Commit after Rollback, etc.
  ErrNoRows:           single-row read found nothing
*/
package storage

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConnection is returned when no usable connection to the backend exists.
	ErrConnection = errors.New("storage: connection unavailable")

	// ErrConstraint is returned when a uniqueness or referential rule is violated.
	ErrConstraint = errors.New("storage: constraint violation")

	// ErrSyntax signals a programming error. It should never surface at runtime
	// because every statement is fixed at build time.
	ErrSyntax = errors.New("storage: invalid statement")

	// ErrTransactionState is returned for nested Begin calls and for use of a
	// finished transaction.
	ErrTransactionState = errors.New("storage: invalid transaction state")

	// ErrNoRows is returned by QueryRow when nothing matched.
	ErrNoRows = errors.New("storage: no rows")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConstraintKind classifies a constraint violation.
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintPrimaryKey ConstraintKind = "primary_key"
)

// ConstraintError carries the violated constraint.
type ConstraintError struct {
	Kind ConstraintKind
	// Constraint is the constraint name or "table.column" when the driver
	// reports one, empty otherwise.
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s constraint violated: %s", e.Kind, e.Constraint)
	}
	return fmt.Sprintf("%s constraint violated", e.Kind)
}

func (e *ConstraintError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConstraint}
	}
	return []error{ErrConstraint, e.Err}
}

// IsUniqueViolation reports whether err is a unique or primary-key violation.
func IsUniqueViolation(err error) bool {
	var ce *ConstraintError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == ConstraintUnique || ce.Kind == ConstraintPrimaryKey
}

// IsForeignKeyViolation reports whether err is a referential violation.
func IsForeignKeyViolation(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Kind == ConstraintForeignKey
}

// IsRetryable returns true if the error might succeed on retry.
// Only meaningful for idempotent reads.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection)
}
