package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/sqldb"
	"github.com/warp/client-ledger/storage/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestBackend(t *testing.T) *sqldb.DB {
	t.Helper()
	backend, err := sqlite.Open(sqlite.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	ctx := context.Background()
	_, err = backend.Exec(ctx, storage.SchemaTables)
	require.NoError(t, err)
	_, err = backend.Exec(ctx, storage.SchemaSettings, int64(100000000), 500, "application")
	require.NoError(t, err)
	return backend
}

func clientArgs(email string) []any {
	return []any{
		"Ana Pérez", 34, "Calle 1", email, "555-1234", "Acme",
		"Regular", "Active", "2025-03-01", "2025-03-01T10:00:00Z", "", 0,
	}
}

func saleArgs(clientID int64, cents int64) []any {
	return []any{clientID, "2025-03-02", "11:30:00", "widgets", cents, 0, "Cash", "", ""}
}

// =============================================================================
// CONTRACT TESTS
// =============================================================================

func TestOpen_EmptyPath(t *testing.T) {
	_, err := sqlite.Open(sqlite.Options{})
	assert.Error(t, err)
}

func TestOpen_CreatesDataDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	backend, err := sqlite.Open(sqlite.Options{Path: path})
	require.NoError(t, err)
	defer backend.Close()

	caps := backend.Capabilities()
	assert.Equal(t, "sqlite", caps.Dialect)
	assert.False(t, caps.NativeTriggers, "application path is the default")
}

func TestOpen_AggregateTriggersOption(t *testing.T) {
	backend, err := sqlite.Open(sqlite.Options{Path: ":memory:", AggregateTriggers: true})
	require.NoError(t, err)
	defer backend.Close()

	assert.True(t, backend.Capabilities().NativeTriggers)
}

func TestDialect_CoversAllStatements(t *testing.T) {
	assert.NoError(t, sqlite.Dialect(false).Validate())
}

func TestExec_InsertReportsGeneratedKey(t *testing.T) {
	// GIVEN: An empty clients table
	backend := newTestBackend(t)
	ctx := context.Background()

	// WHEN: Two clients are inserted
	res1, err := backend.Exec(ctx, storage.ClientInsert, clientArgs("a@example.com")...)
	require.NoError(t, err)
	res2, err := backend.Exec(ctx, storage.ClientInsert, clientArgs("b@example.com")...)
	require.NoError(t, err)

	// THEN: Each insert reports its own key
	assert.Equal(t, int64(1), res1.RowsAffected)
	assert.Equal(t, int64(1), res1.LastInsertID)
	assert.Equal(t, int64(2), res2.LastInsertID)
}

func TestExec_DuplicateEmailIsUniqueViolation(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.Exec(ctx, storage.ClientInsert, clientArgs("dup@example.com")...)
	require.NoError(t, err)

	_, err = backend.Exec(ctx, storage.ClientInsert, clientArgs("dup@example.com")...)
	require.Error(t, err)

	assert.ErrorIs(t, err, storage.ErrConstraint)
	assert.True(t, storage.IsUniqueViolation(err))

	var ce *storage.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "clients.email", ce.Constraint)
}

func TestExec_SaleForMissingClientIsForeignKeyViolation(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.Exec(context.Background(), storage.SaleInsert, saleArgs(42, 1000)...)

	assert.ErrorIs(t, err, storage.ErrConstraint)
	assert.True(t, storage.IsForeignKeyViolation(err))
}

func TestExec_NegativeTotalIsCheckViolation(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	_, err := backend.Exec(ctx, storage.ClientInsert, clientArgs("c@example.com")...)
	require.NoError(t, err)

	_, err = backend.Exec(ctx, storage.SaleInsert, saleArgs(1, -1)...)

	var ce *storage.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, storage.ConstraintCheck, ce.Kind)
}

func TestExec_InsertWithExistingKeyIsSkipped(t *testing.T) {
	// GIVEN: A client with id 7
	backend := newTestBackend(t)
	ctx := context.Background()
	args := []any{7, "Luis", 40, "Av 2", "luis@example.com", "5551234567", "", "VIP", "Active",
		"2024-01-01", "2024-01-01T00:00:00Z", "", int64(150000000), 3, "2024-06-01", 500}
	res, err := backend.Exec(ctx, storage.ClientInsertWithID, args...)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected)

	// WHEN: The same key is inserted again
	res, err = backend.Exec(ctx, storage.ClientInsertWithID, args...)

	// THEN: Nothing happens and no error is raised
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RowsAffected)

	// AND: New inserts continue after the explicit key
	res, err = backend.Exec(ctx, storage.ClientInsert, clientArgs("next@example.com")...)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.LastInsertID)
}

func TestExec_UnknownStatement(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.Exec(context.Background(), storage.Statement("nope"))
	assert.ErrorIs(t, err, storage.ErrSyntax)
}

func TestExec_EmptyStatementIsNoop(t *testing.T) {
	backend := newTestBackend(t)

	res, err := backend.Exec(context.Background(), storage.ClientResyncKeys)
	require.NoError(t, err)
	assert.Equal(t, storage.Result{}, res)
}

func TestQuery_SearchBindsWildcardsAsData(t *testing.T) {
	// GIVEN: Two clients, one of which has a quote in its name
	backend := newTestBackend(t)
	ctx := context.Background()
	args := clientArgs("quote@example.com")
	args[0] = "O'Brien; DROP TABLE clients"
	_, err := backend.Exec(ctx, storage.ClientInsert, args...)
	require.NoError(t, err)
	_, err = backend.Exec(ctx, storage.ClientInsert, clientArgs("plain@example.com")...)
	require.NoError(t, err)

	// WHEN: Searching for the hostile text
	rows, err := backend.Query(ctx, storage.ClientSearch, "%O'Brien;%", nil, nil, 0)
	require.NoError(t, err)
	defer rows.Close()

	// THEN: Exactly the matching row comes back and the table survives
	n := 0
	for rows.Next() {
		n++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 1, n)

	var count int64
	require.NoError(t, storage.QueryRow(ctx, backend, storage.ClientCount, nil, &count))
	assert.Equal(t, int64(2), count)
}

func TestQueryRow_NoRows(t *testing.T) {
	backend := newTestBackend(t)

	var id int64
	err := storage.QueryRow(context.Background(), backend, storage.ClientGet, []any{99}, &id)
	assert.ErrorIs(t, err, storage.ErrNoRows)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestTx_NestedBeginFails(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Begin(ctx)
	assert.ErrorIs(t, err, storage.ErrTransactionState)
}

func TestTx_UseAfterCommitFails(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), storage.ErrTransactionState)
	assert.ErrorIs(t, tx.Rollback(), storage.ErrTransactionState)
	_, err = tx.Exec(ctx, storage.ClientInsert, clientArgs("late@example.com")...)
	assert.ErrorIs(t, err, storage.ErrTransactionState)
}

func TestTx_LastInsertIDIsPerTransaction(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	err := storage.WithTx(ctx, backend, func(tx storage.Tx) error {
		_, err := tx.LastInsertID()
		assert.ErrorIs(t, err, storage.ErrTransactionState)

		_, err = tx.Exec(ctx, storage.ClientInsert, clientArgs("tx@example.com")...)
		require.NoError(t, err)

		id, err := tx.LastInsertID()
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_LastInsertIDIgnoresInsertsOutsideIt(t *testing.T) {
	// GIVEN: A file database, so the pool can hand out a second connection
	backend, err := sqlite.Open(sqlite.Options{Path: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	ctx := context.Background()
	_, err = backend.Exec(ctx, storage.SchemaTables)
	require.NoError(t, err)

	_, err = backend.Exec(ctx, storage.ClientInsert, clientArgs("first@example.com")...)
	require.NoError(t, err)

	// WHEN: A transaction inserts, then the pool inserts again outside it
	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec(ctx, storage.ClientInsert, clientArgs("tx@example.com")...)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res, err := backend.Exec(ctx, storage.ClientInsert, clientArgs("after@example.com")...)
	require.NoError(t, err)

	// THEN: The transaction still reports its own key
	id, err := tx.LastInsertID()
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, int64(3), res.LastInsertID)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a client then fails
	backend := newTestBackend(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: WithTx runs it
	err := storage.WithTx(ctx, backend, func(tx storage.Tx) error {
		if _, err := tx.Exec(ctx, storage.ClientInsert, clientArgs("gone@example.com")...); err != nil {
			return err
		}
		return boom
	})

	// THEN: The error comes back and the insert is gone
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, storage.QueryRow(ctx, backend, storage.ClientCount, nil, &count))
	assert.Zero(t, count)
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = storage.WithTx(ctx, backend, func(tx storage.Tx) error {
			_, _ = tx.Exec(ctx, storage.ClientInsert, clientArgs("panic@example.com")...)
			panic("boom")
		})
	})

	var count int64
	require.NoError(t, storage.QueryRow(ctx, backend, storage.ClientCount, nil, &count))
	assert.Zero(t, count)
}

func TestBackup_CopiesLiveDatabase(t *testing.T) {
	// GIVEN: A file database holding one client
	dir := t.TempDir()
	backend, err := sqlite.Open(sqlite.Options{Path: filepath.Join(dir, "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	ctx := context.Background()
	_, err = backend.Exec(ctx, storage.SchemaTables)
	require.NoError(t, err)
	_, err = backend.Exec(ctx, storage.ClientInsert, clientArgs("ana@example.com")...)
	require.NoError(t, err)

	// WHEN: It is backed up while still open
	target := filepath.Join(dir, "backups", "copy.db")
	require.NoError(t, sqlite.Backup(ctx, backend, target))

	// THEN: The copy opens on its own and holds the client
	copied, err := sqlite.Open(sqlite.Options{Path: target})
	require.NoError(t, err)
	defer copied.Close()
	var n int64
	require.NoError(t, storage.QueryRow(ctx, copied, storage.ClientCount, nil, &n))
	assert.Equal(t, int64(1), n)

	// AND: An existing target is never overwritten
	err = sqlite.Backup(ctx, backend, target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
