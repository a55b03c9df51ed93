package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/schema"
	"github.com/warp/client-ledger/storage/sqlite"
)

// isolate points every setting at a temp SQLite file so the ambient
// environment cannot leak into a command run.
func isolate(t *testing.T) (dir, dbPath string) {
	t.Helper()
	dir = t.TempDir()
	dbPath = filepath.Join(dir, "ledger.db")
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("SQLITE_PATH", dbPath)
	t.Setenv("SQLITE_TRIGGERS", "false")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "error")
	return dir, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// seed writes one VIP client and one regular client with a sale each.
func seed(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	backend, err := sqlite.Open(sqlite.Options{Path: path})
	require.NoError(t, err)
	defer backend.Close()

	strategy, err := schema.NewManager(backend, ledger.DefaultTierPolicy.Settings(), zerolog.Nop()).Ensure(ctx)
	require.NoError(t, err)
	svc := ledger.NewService(backend, strategy)

	for i, c := range []struct {
		name, email, total string
	}{
		{"Ana Torres", "ana@example.com", "1200000"},
		{"Bruno Diaz", "bruno@example.com", "150.25"},
	} {
		id, err := svc.RegisterClient(ctx, ledger.ClientInput{
			FullName: c.name,
			Age:      30 + i,
			Address:  "Calle 1",
			Email:    c.email,
			Phone:    "555-0100",
		})
		require.NoError(t, err)
		total, err := ledger.ParseMoney(c.total)
		require.NoError(t, err)
		_, err = svc.RegisterSale(ctx, ledger.SaleInput{ClientID: id, Products: "Sofa", Total: total})
		require.NoError(t, err)
	}
}

func TestSchemaCommand(t *testing.T) {
	dir, _ := isolate(t)

	out, err := run(t, "schema", "--config-dir", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "application")
	assert.Contains(t, out, "100000000")
}

func TestSchemaCommand_NativeStrategy(t *testing.T) {
	dir, _ := isolate(t)
	t.Setenv("SQLITE_TRIGGERS", "true")

	out, err := run(t, "schema", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "native")
}

func TestReadOnlyCommandsKeepTheTrigger(t *testing.T) {
	// GIVEN: A database set up with the native trigger
	dir, dbPath := isolate(t)
	t.Setenv("SQLITE_TRIGGERS", "true")
	_, err := run(t, "schema", "--config-dir", dir)
	require.NoError(t, err)

	// WHEN: Reporting and auditing run from a process configured without it
	t.Setenv("SQLITE_TRIGGERS", "false")
	_, err = run(t, "report", "--config-dir", dir)
	require.NoError(t, err)
	_, err = run(t, "audit", "--config-dir", dir)
	require.NoError(t, err)

	// THEN: The recorded strategy is still native
	backend, err := sqlite.Open(sqlite.Options{Path: dbPath})
	require.NoError(t, err)
	defer backend.Close()
	strategy, err := schema.ReadStrategy(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, schema.StrategyNative, strategy)
}

func TestReportRequiresSchema(t *testing.T) {
	dir, _ := isolate(t)

	_, err := run(t, "report", "--config-dir", dir)
	require.ErrorIs(t, err, schema.ErrNotInitialized)
}

func TestReportAndAudit(t *testing.T) {
	// GIVEN: A database with two clients and two sales
	dir, dbPath := isolate(t)
	seed(t, dbPath)

	// WHEN: The report is printed
	out, err := run(t, "report", "--config-dir", dir)
	require.NoError(t, err)

	// THEN: Figures and the ranking appear
	assert.Contains(t, out, "1200150.25")
	assert.Contains(t, out, "Ana Torres")
	assert.Contains(t, out, "VIP")

	// AND: The audit is clean
	out, err = run(t, "audit", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "all client aggregates match")
}

func TestMigrateCommand(t *testing.T) {
	dir, _ := isolate(t)
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	seed(t, src)

	args := []string{"migrate", "--config-dir", dir,
		"--from", "sqlite", "--to", "sqlite",
		"--from-sqlite", src, "--to-sqlite", dst, "--batch", "1"}

	out, err := run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "clients")
	assert.Contains(t, out, "sales")

	// Rerunning copies nothing new and still verifies.
	_, err = run(t, args...)
	require.NoError(t, err)

	t.Setenv("SQLITE_PATH", dst)
	out, err = run(t, "audit", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "all client aggregates match")
}

func TestMigrateCommand_RejectsSameDatabase(t *testing.T) {
	dir, _ := isolate(t)

	_, err := run(t, "migrate", "--config-dir", dir, "--from", "sqlite", "--to", "sqlite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same database")
}

func TestRootCommand_BadConfig(t *testing.T) {
	dir, _ := isolate(t)
	t.Setenv("DB_TYPE", "oracle")

	_, err := run(t, "schema", "--config-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_TYPE")
}

func TestBackupCommand(t *testing.T) {
	// GIVEN: A seeded SQLite database
	dir, dbPath := isolate(t)
	seed(t, dbPath)

	// WHEN: It is backed up without a target
	out, err := run(t, "backup", "--config-dir", dir)
	require.NoError(t, err)

	// THEN: The copy sits next to the database and holds both clients
	path := strings.TrimSpace(out)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "backup_ledger_"))

	t.Setenv("SQLITE_PATH", path)
	out, err = run(t, "audit", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "all client aggregates match")
}

func TestBackupCommand_ExplicitTarget(t *testing.T) {
	dir, dbPath := isolate(t)
	seed(t, dbPath)
	target := filepath.Join(dir, "nightly", "ledger.db")

	out, err := run(t, "backup", "--config-dir", dir, "--to", target)
	require.NoError(t, err)
	assert.Equal(t, target, strings.TrimSpace(out))
	assert.FileExists(t, target)
}

func TestBackupCommand_RejectsPostgres(t *testing.T) {
	dir, _ := isolate(t)
	t.Setenv("DB_TYPE", "postgres")

	_, err := run(t, "backup", "--config-dir", dir)
	require.ErrorIs(t, err, errBackupUnsupported)
}

func TestBackupPath(t *testing.T) {
	now := time.Date(2025, 3, 2, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, filepath.Join("data", "backup_ledger_20250302_140509.db"),
		backupPath(filepath.Join("data", "ledger.db"), now))
}
