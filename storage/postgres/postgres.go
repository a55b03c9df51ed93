/*
Package postgres provides the PostgreSQL implementation of storage.Backend.

PURPOSE:
  Multi-user deployment of the ledger. The aggregate update runs on the
  server as a PL/pgSQL trigger fired after each sale insert, so the ledger
  only inserts the sale row and the database does the rest atomically.

DRIVER:
  jackc/pgx/v5 through its database/sql adapter (driver name "pgx"), with a
  bounded connection pool. Driver errors are classified from SQLSTATE codes.

KEYS:
  Identity columns are GENERATED BY DEFAULT, so the migration bridge can
  insert explicit keys; ClientResyncKeys/SaleResyncKeys move the sequences
  past the copied keys afterwards.

SEE ALSO:
  - storage/statements.go: statement names and column layouts
  - storage/sqlite: the other backend
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/sqldb"
)

// Options are the connection parameters, passed through from configuration.
type Options struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL and returns a backend.
func Open(ctx context.Context, opts Options) (*sqldb.DB, error) {
	db, err := sql.Open("pgx", DSN(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}

	backend, err := sqldb.New(db, Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

// DSN renders the options as a postgres:// URL.
func DSN(opts Options) string {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + opts.Database,
	}
	if opts.User != "" {
		u.User = url.UserPassword(opts.User, opts.Password)
	}
	if opts.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{opts.SSLMode}}.Encode()
	}
	return u.String()
}

// Dialect returns the PostgreSQL statement catalog.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Name:           "postgres",
		Statements:     statements,
		NativeTriggers: true,
		Translate:      translate,
	}
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return translatePgError(pgErr)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", storage.ErrConnection, err)
	}
	return err
}

func translatePgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case "23505":
		return &storage.ConstraintError{Kind: storage.ConstraintUnique, Constraint: constraintName(pgErr), Err: pgErr}
	case "23503":
		return &storage.ConstraintError{Kind: storage.ConstraintForeignKey, Constraint: constraintName(pgErr), Err: pgErr}
	case "23502":
		return &storage.ConstraintError{Kind: storage.ConstraintNotNull, Constraint: constraintName(pgErr), Err: pgErr}
	case "23514":
		return &storage.ConstraintError{Kind: storage.ConstraintCheck, Constraint: constraintName(pgErr), Err: pgErr}
	case "57P01", "57P02", "57P03", "53300":
		return fmt.Errorf("%w: %v", storage.ErrConnection, pgErr)
	}

	switch {
	case strings.HasPrefix(pgErr.Code, "08"):
		return fmt.Errorf("%w: %v", storage.ErrConnection, pgErr)
	case strings.HasPrefix(pgErr.Code, "42"):
		return fmt.Errorf("%w: %v", storage.ErrSyntax, pgErr)
	case strings.HasPrefix(pgErr.Code, "25"):
		return fmt.Errorf("%w: %v", storage.ErrTransactionState, pgErr)
	}
	return pgErr
}

func constraintName(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	if pgErr.TableName != "" && pgErr.ColumnName != "" {
		return pgErr.TableName + "." + pgErr.ColumnName
	}
	return ""
}
