/*
Package sqlite provides the SQLite implementation of storage.Backend.

PURPOSE:
  Single-file deployment of the ledger. SQLite can run triggers, but by
  default the aggregate update is left to the application (see
  Options.AggregateTriggers); the ledger then performs it inside the same
  transaction as the sale insert.

KEY TABLES:
  clients:               client records and their derived aggregates
  sales:                 immutable sale records (no UPDATE, no DELETE)
  ledger_settings:       the active tier policy, read by the trigger
  aggregate_suspensions: present only inside bulk-copy transactions

MONEY:
  *_cents columns are INTEGER minor units and discount_bp is INTEGER basis
  points, so trigger arithmetic and Go arithmetic agree to the cent.

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate), so two sale
  registrations against the same client serialize their read-modify-write.
  Readers are not blocked in WAL mode.

USAGE:
  backend, err := sqlite.Open(sqlite.Options{Path: "./data/ledger.db"})
  if err != nil {
      log.Fatal(err)
  }
  defer backend.Close()

BACKUP:
  Backup writes a consistent copy of a live database with VACUUM INTO.
  Writers may keep running; the copy reflects one snapshot.

SEE ALSO:
  - storage/statements.go: statement names and column layouts
  - storage/sqldb: execution engine
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/sqldb"
)

// Options configures the SQLite backend.
type Options struct {
	// Path of the database file. ":memory:" for a private in-memory database.
	Path string
	// AggregateTriggers installs a SQLite trigger that maintains client
	// aggregates server-side. Off by default.
	AggregateTriggers bool
	// BusyTimeout bounds how long a writer waits for the lock.
	BusyTimeout time.Duration
}

// Open opens (creating if needed) the database and returns a backend.
// The schema is not touched; run schema.Manager.Ensure for that.
func Open(opts Options) (*sqldb.DB, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	memory := opts.Path == ":memory:"
	if !memory {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dsn(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to ":memory:" would be a different database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}

	backend, err := sqldb.New(db, Dialect(opts.AggregateTriggers))
	if err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func dsn(opts Options) string {
	params := []string{
		"_foreign_keys=on",
		"_txlock=immediate",
		fmt.Sprintf("_busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
	}
	if opts.Path != ":memory:" {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(opts.Path, "?") {
		sep = "&"
	}
	return opts.Path + sep + strings.Join(params, "&")
}

// Backup writes a compacted copy of the database to path. The target must
// not exist yet.
func Backup(ctx context.Context, db *sqldb.DB, path string) error {
	if path == "" {
		return errors.New("sqlite: empty backup path")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("sqlite: backup target %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	if _, err := db.SQL().ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backup to %s: %w", path, translate(err))
	}
	return nil
}

// Dialect returns the SQLite statement catalog.
func Dialect(triggers bool) sqldb.Dialect {
	return sqldb.Dialect{
		Name:           "sqlite",
		Statements:     statements,
		NativeTriggers: triggers,
		Translate:      translate,
	}
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

func translate(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}

	switch se.Code {
	case sqlite3.ErrConstraint:
		return &storage.ConstraintError{
			Kind:       constraintKind(se.ExtendedCode),
			Constraint: constraintName(se.Error()),
			Err:        err,
		}
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	case sqlite3.ErrError:
		return fmt.Errorf("%w: %v", storage.ErrSyntax, err)
	}
	return err
}

func constraintKind(code sqlite3.ErrNoExtended) storage.ConstraintKind {
	switch code {
	case sqlite3.ErrConstraintForeignKey:
		return storage.ConstraintForeignKey
	case sqlite3.ErrConstraintNotNull:
		return storage.ConstraintNotNull
	case sqlite3.ErrConstraintCheck:
		return storage.ConstraintCheck
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintRowID:
		return storage.ConstraintPrimaryKey
	case sqlite3.ErrConstraintUnique:
		return storage.ConstraintUnique
	default:
		return storage.ConstraintCheck
	}
}

// constraintName extracts "clients.email" from
// "UNIQUE constraint failed: clients.email".
func constraintName(msg string) string {
	if i := strings.LastIndex(msg, "failed: "); i >= 0 {
		return strings.TrimSpace(msg[i+len("failed: "):])
	}
	return ""
}
