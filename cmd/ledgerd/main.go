/*
main.go - ledgerd entry point

PURPOSE:
  Command-line front end for the client ledger. Every command loads the
  same configuration (config.Load) and builds the same logger, then opens
  the backend it needs.

COMMANDS:
  serve     HTTP API plus the scheduled aggregate audit
  schema    Create/upgrade the schema and print the aggregate strategy
  migrate   Copy all data between backends (--from, --to, --batch)
  audit     Recompute aggregates from sales; exit 1 on drift
  report    Print the dashboard summary
  backup    Copy the SQLite database to a timestamped file (--to)

SIGNALS:
  SIGINT/SIGTERM cancel the command context. serve shuts down gracefully;
  migrate stops after the batch in flight (already committed batches stay).

EXAMPLES:
  ledgerd serve
  ledgerd migrate --from sqlite --to postgres --batch 500
  DB_TYPE=postgres ledgerd audit

SEE ALSO:
  - config/config.go: Recognized settings
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/client-ledger/config"
	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/logging"
	"github.com/warp/client-ledger/schema"
	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/postgres"
	"github.com/warp/client-ledger/storage/sqlite"
)

// app is the state shared by all commands once configuration is loaded.
type app struct {
	configDir string
	cfg       *config.Config
	log       zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Client and sales ledger with consistent purchase aggregates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configDir)
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "directory holding ledger.yaml and .env (default: working directory)")

	root.AddCommand(
		newServeCmd(a),
		newSchemaCmd(a),
		newMigrateCmd(a),
		newAuditCmd(a),
		newReportCmd(a),
		newBackupCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// BACKEND WIRING
// =============================================================================

// open connects to the backend of the given kind. sqlitePath, when set,
// overrides the configured SQLite file.
func (a *app) open(ctx context.Context, kind, sqlitePath string) (storage.Backend, error) {
	switch kind {
	case config.SQLite:
		path := a.cfg.SQLite.Path
		if sqlitePath != "" {
			path = sqlitePath
		}
		db, err := sqlite.Open(sqlite.Options{Path: path, AggregateTriggers: a.cfg.SQLite.Triggers})
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.Postgres:
		db, err := postgres.Open(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want %s or %s)", kind, config.SQLite, config.Postgres)
}

// ensure brings the schema up to date and resolves the aggregate strategy.
func (a *app) ensure(ctx context.Context, b storage.Backend) (schema.Strategy, error) {
	return schema.NewManager(b, a.cfg.TierPolicy().Settings(), a.log).Ensure(ctx)
}

func (a *app) service(b storage.Backend, strategy schema.Strategy) *ledger.Service {
	return ledger.NewService(b, strategy,
		ledger.WithTierPolicy(a.cfg.TierPolicy()),
		ledger.WithReadRetry(a.cfg.RetryPolicy()),
		ledger.WithLogger(a.log),
	)
}

// stored returns the strategy recorded in the database, leaving the schema
// and trigger alone.
func (a *app) stored(ctx context.Context, b storage.Backend) (schema.Strategy, error) {
	strategy, err := schema.ReadStrategy(ctx, b)
	if errors.Is(err, schema.ErrNotInitialized) {
		return strategy, fmt.Errorf("%w (run `ledgerd schema` first)", err)
	}
	return strategy, err
}

// prepare uses the recorded strategy when there is one and creates the
// schema otherwise.
func (a *app) prepare(ctx context.Context, b storage.Backend) (schema.Strategy, error) {
	strategy, err := schema.ReadStrategy(ctx, b)
	if errors.Is(err, schema.ErrNotInitialized) {
		return a.ensure(ctx, b)
	}
	return strategy, err
}

// openService opens the configured backend and returns a service on it.
// With writer set the schema is ensured; otherwise the recorded strategy is
// used as is. The caller closes the backend.
func (a *app) openService(ctx context.Context, writer bool) (*ledger.Service, storage.Backend, error) {
	b, err := a.open(ctx, a.cfg.DBType, "")
	if err != nil {
		return nil, nil, err
	}
	resolve := a.stored
	if writer {
		resolve = a.ensure
	}
	strategy, err := resolve(ctx, b)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return a.service(b, strategy), b, nil
}
