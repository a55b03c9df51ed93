/*
Package sqldb implements storage.Backend on top of database/sql.

PURPOSE:
  Both adapters talk to their databases through database/sql. What differs is
  the statement catalog, how generated keys come back, and how driver errors
  are classified. Those live in a Dialect; this package does the rest
  (connection handling, transaction state, per-transaction last-insert-id).

GENERATED KEYS:
  KindInsert:          driver supports sql.Result.LastInsertId (SQLite)
  KindInsertReturning: statement ends in RETURNING id (PostgreSQL)
  A returning insert that produced no row (ON CONFLICT DO NOTHING) reports
  RowsAffected = 0.

SEE ALSO:
  - storage/sqlite, storage/postgres: the two dialects
*/
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/warp/client-ledger/storage"
)

// Kind tells the engine how to run a statement.
type Kind int

const (
	KindExec Kind = iota
	KindInsert
	KindInsertReturning
)

// Stmt is one entry of a dialect's statement catalog.
type Stmt struct {
	SQL  string
	Kind Kind
}

// Dialect is everything backend-specific.
type Dialect struct {
	Name           string
	Statements     map[storage.Statement]Stmt
	NativeTriggers bool
	// Translate maps a driver error onto the storage taxonomy. It receives
	// only non-nil errors.
	Translate func(error) error
	TxOptions *sql.TxOptions
}

// Validate checks that the catalog covers storage.AllStatements.
func (d Dialect) Validate() error {
	for _, name := range storage.AllStatements {
		if _, ok := d.Statements[name]; !ok {
			return fmt.Errorf("%w: dialect %s has no statement %q", storage.ErrSyntax, d.Name, name)
		}
	}
	return nil
}

// =============================================================================
// BACKEND
// =============================================================================

// DB implements storage.Backend.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

var _ storage.Backend = (*DB)(nil)

// New wraps an open *sql.DB.
func New(db *sql.DB, d Dialect) (*DB, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &DB{db: db, dialect: d}, nil
}

// SQL exposes the underlying pool, for pool tuning and health checks.
func (b *DB) SQL() *sql.DB { return b.db }

func (b *DB) Capabilities() storage.Capabilities {
	return storage.Capabilities{Dialect: b.dialect.Name, NativeTriggers: b.dialect.NativeTriggers}
}

func (b *DB) Close() error { return b.db.Close() }

func (b *DB) Exec(ctx context.Context, name storage.Statement, args ...any) (storage.Result, error) {
	return b.dialect.exec(ctx, b.db, nil, name, args)
}

func (b *DB) Query(ctx context.Context, name storage.Statement, args ...any) (storage.Rows, error) {
	return b.dialect.query(ctx, b.db, name, args)
}

func (b *DB) Begin(ctx context.Context) (storage.Tx, error) {
	sqlTx, err := b.db.BeginTx(ctx, b.dialect.TxOptions)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", b.dialect.translate(err))
	}
	return &Tx{tx: sqlTx, dialect: b.dialect}, nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Tx implements storage.Tx over one *sql.Tx.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	last    lastID

	mu   sync.Mutex
	done bool
}

func (t *Tx) Exec(ctx context.Context, name storage.Statement, args ...any) (storage.Result, error) {
	if t.finished() {
		return storage.Result{}, storage.ErrTransactionState
	}
	return t.dialect.exec(ctx, t.tx, &t.last, name, args)
}

func (t *Tx) Query(ctx context.Context, name storage.Statement, args ...any) (storage.Rows, error) {
	if t.finished() {
		return nil, storage.ErrTransactionState
	}
	return t.dialect.query(ctx, t.tx, name, args)
}

func (t *Tx) LastInsertID() (int64, error) { return t.last.get() }

// Begin always fails: transactions do not nest.
func (t *Tx) Begin(context.Context) (storage.Tx, error) {
	return nil, fmt.Errorf("%w: transaction already in progress", storage.ErrTransactionState)
}

func (t *Tx) Commit() error {
	if err := t.finish(); err != nil {
		return err
	}
	if err := t.tx.Commit(); err != nil {
		return t.dialect.translate(err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.finish(); err != nil {
		return err
	}
	if err := t.tx.Rollback(); err != nil {
		return t.dialect.translate(err)
	}
	return nil
}

func (t *Tx) finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", storage.ErrTransactionState)
	}
	t.done = true
	return nil
}

func (t *Tx) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// =============================================================================
// SHARED EXECUTION
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d Dialect) lookup(name storage.Statement) (Stmt, error) {
	s, ok := d.Statements[name]
	if !ok {
		return Stmt{}, fmt.Errorf("%w: unknown statement %q", storage.ErrSyntax, name)
	}
	return s, nil
}

func (d Dialect) exec(ctx context.Context, db execer, last *lastID, name storage.Statement, args []any) (storage.Result, error) {
	s, err := d.lookup(name)
	if err != nil {
		return storage.Result{}, err
	}
	if s.SQL == "" {
		return storage.Result{}, nil
	}

	if s.Kind == KindInsertReturning {
		var id int64
		err := db.QueryRowContext(ctx, s.SQL, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Result{}, nil
		}
		if err != nil {
			return storage.Result{}, fmt.Errorf("%s: %w", name, d.translate(err))
		}
		last.set(id)
		return storage.Result{RowsAffected: 1, LastInsertID: id}, nil
	}

	res, err := db.ExecContext(ctx, s.SQL, args...)
	if err != nil {
		return storage.Result{}, fmt.Errorf("%s: %w", name, d.translate(err))
	}

	out := storage.Result{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if s.Kind == KindInsert && out.RowsAffected > 0 {
		if id, err := res.LastInsertId(); err == nil {
			out.LastInsertID = id
			last.set(id)
		}
	}
	return out, nil
}

func (d Dialect) query(ctx context.Context, db execer, name storage.Statement, args []any) (storage.Rows, error) {
	s, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	if s.SQL == "" {
		return nil, fmt.Errorf("%w: statement %q is not a query in %s", storage.ErrSyntax, name, d.Name)
	}
	rows, err := db.QueryContext(ctx, s.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, d.translate(err))
	}
	return &translatedRows{Rows: rows, dialect: d}, nil
}

func (d Dialect) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %v", storage.ErrTransactionState, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	if d.Translate != nil {
		return d.Translate(err)
	}
	return err
}

// translatedRows maps iteration errors through the dialect too.
type translatedRows struct {
	*sql.Rows
	dialect Dialect
}

func (r *translatedRows) Err() error { return r.dialect.translate(r.Rows.Err()) }

func (r *translatedRows) Scan(dest ...any) error { return r.dialect.translate(r.Rows.Scan(dest...)) }

// lastID remembers the most recent generated key inside one transaction.
// A nil *lastID discards keys.
type lastID struct {
	mu    sync.Mutex
	id    int64
	valid bool
}

func (l *lastID) set(id int64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.id, l.valid = id, true
	l.mu.Unlock()
}

func (l *lastID) get() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid {
		return 0, fmt.Errorf("%w: no insert in this transaction", storage.ErrTransactionState)
	}
	return l.id, nil
}
