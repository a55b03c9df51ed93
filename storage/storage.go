/*
Package storage defines the contract between the ledger and a relational backend.

PURPOSE:
  The ledger runs unchanged on SQLite and PostgreSQL. Everything that differs
  between the two (placeholder syntax, row locking, identity columns, triggers)
  lives below this package, in the adapters. Code above it only names a
  statement and binds its arguments.

KEY INTERFACES:
  Conn:    Exec / Query / Begin
  Backend: Conn plus Capabilities and Close (auto-commit mode)
  Tx:      Conn plus LastInsertID, Commit and Rollback (one logical operation)

GENERATED KEYS:
  Every insert reports its key in Result.LastInsertID. A Backend is a pool,
  so successive statements may run on different connections; only a Tx,
  which holds one connection, also offers LastInsertID.

NAMED STATEMENTS:
  Statements are referenced by name (see statements.go). Each adapter holds the
  SQL text for every name in its own dialect. Parameters are ALWAYS bound, never
  interpolated. An adapter may map a name to empty SQL when the step does not
  exist in its dialect; executing it is then a no-op.

TRANSACTIONS:
  Backend.Begin returns a Tx bound to one connection. Tx.Begin always fails
  with ErrTransactionState: there are no nested transactions. Use WithTx so the
  Tx is released on every exit path.

IMPLEMENTATIONS:
  - storage/sqlite:   mattn/go-sqlite3, application-side aggregates by default
  - storage/postgres: jackc/pgx/v5 stdlib driver, server-side trigger

SEE ALSO:
  - errors.go: Error taxonomy shared by all adapters
  - storage/sqldb: database/sql engine both adapters are built on
*/
package storage

import (
	"context"
	"fmt"
)

// =============================================================================
// CONTRACT
// =============================================================================

// Result describes the outcome of a mutation.
type Result struct {
	RowsAffected int64
	// LastInsertID is the surrogate key generated by an insert, or 0.
	LastInsertID int64
}

// Rows is a finite, non-restartable sequence of result rows.
// *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Conn is the statement surface shared by a backend and its transactions.
type Conn interface {
	// Exec runs a named mutation with bound arguments.
	Exec(ctx context.Context, stmt Statement, args ...any) (Result, error)

	// Query runs a named read with bound arguments.
	// The caller must Close the returned rows.
	Query(ctx context.Context, stmt Statement, args ...any) (Rows, error)

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction scoped to one logical operation.
type Tx interface {
	Conn

	// LastInsertID returns the key generated by the most recent insert in
	// this transaction. Fails with ErrTransactionState if there was none.
	LastInsertID() (int64, error)

	Commit() error
	Rollback() error
}

// Capabilities are resolved once per backend and never change.
type Capabilities struct {
	// Dialect is informational ("sqlite", "postgres").
	Dialect string
	// NativeTriggers is true when the backend will run the aggregate update
	// itself, as a trigger fired after each sale insert.
	NativeTriggers bool
}

// Backend is a connection pool in auto-commit mode.
type Backend interface {
	Conn
	Capabilities() Capabilities
	Close() error
}

// =============================================================================
// HELPERS
// =============================================================================

// WithTx executes fn within a transaction.
// If fn returns an error (or panics) the transaction is rolled back,
// otherwise it is committed.
func WithTx(ctx context.Context, b Backend, fn func(tx Tx) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// QueryRow runs stmt and scans exactly one row into dest.
// Returns ErrNoRows when the statement produced nothing.
func QueryRow(ctx context.Context, c Conn, stmt Statement, args []any, dest ...any) error {
	rows, err := c.Query(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return ErrNoRows
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	return rows.Err()
}
