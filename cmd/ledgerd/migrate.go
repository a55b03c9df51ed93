package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/warp/client-ledger/config"
	"github.com/warp/client-ledger/migrate"
)

type migrateFlags struct {
	from, to         string
	fromPath, toPath string
	batch            int
}

func newMigrateCmd(a *app) *cobra.Command {
	var f migrateFlags
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every client and sale from one backend to another",
		Long: `Copies clients, then sales, preserving keys and stored aggregates.
Rows already present on the target are skipped, so an interrupted run can
simply be repeated. The target schema is created if needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.migrate(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.from, "from", config.SQLite, "source backend (sqlite|postgres)")
	cmd.Flags().StringVar(&f.to, "to", config.Postgres, "target backend (sqlite|postgres)")
	cmd.Flags().StringVar(&f.fromPath, "from-sqlite", "", "source SQLite file (default: SQLITE_PATH)")
	cmd.Flags().StringVar(&f.toPath, "to-sqlite", "", "target SQLite file (default: SQLITE_PATH)")
	cmd.Flags().IntVar(&f.batch, "batch", migrate.DefaultBatchSize, "rows per target transaction")
	return cmd
}

func (a *app) migrate(cmd *cobra.Command, f migrateFlags) error {
	if f.from == f.to && (f.from != config.SQLite || f.fromPath == f.toPath) {
		return errors.New("source and target are the same database")
	}
	ctx := cmd.Context()

	source, err := a.open(ctx, f.from, f.fromPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	target, err := a.open(ctx, f.to, f.toPath)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer target.Close()

	if _, err := a.prepare(ctx, target); err != nil {
		return fmt.Errorf("prepare target schema: %w", err)
	}

	bridge := &migrate.Bridge{
		Source:    source,
		Target:    target,
		BatchSize: f.batch,
		Logger:    a.log.With().Str("component", "migrate").Logger(),
	}
	rep, runErr := bridge.Run(ctx)
	if rep != nil {
		printMigration(cmd, rep)
	}
	if runErr != nil {
		return runErr
	}
	if !rep.Verified {
		return errors.New("row counts differ between source and target")
	}
	return nil
}

func printMigration(cmd *cobra.Command, rep *migrate.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s)\n", rep.RunID, rep.Duration.Round(time.Millisecond))

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Table", "Read", "Inserted", "Skipped", "Batches", "Source", "Target"})
	for _, tr := range []migrate.TableReport{rep.Clients, rep.Sales} {
		table.Append([]string{
			tr.Table,
			strconv.FormatInt(tr.Read, 10),
			strconv.FormatInt(tr.Inserted, 10),
			strconv.FormatInt(tr.Skipped, 10),
			strconv.Itoa(tr.Batches),
			strconv.FormatInt(tr.SourceCount, 10),
			strconv.FormatInt(tr.TargetCount, 10),
		})
	}
	table.Render()
}
