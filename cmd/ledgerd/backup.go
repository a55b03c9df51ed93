package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/client-ledger/config"
	"github.com/warp/client-ledger/storage/sqlite"
)

var errBackupUnsupported = errors.New("backup is only available for the sqlite backend (use pg_dump for postgres)")

func newBackupCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the SQLite database",
		Long: `Copies the configured SQLite database to a new file. Without --to the
copy is written next to SQLITE_PATH as backup_ledger_<timestamp>.db.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.DBType != config.SQLite {
				return errBackupUnsupported
			}
			path := to
			if path == "" {
				path = backupPath(a.cfg.SQLite.Path, time.Now())
			}

			db, err := sqlite.Open(sqlite.Options{Path: a.cfg.SQLite.Path})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlite.Backup(cmd.Context(), db, path); err != nil {
				return err
			}
			a.log.Info().Str("path", path).Msg("backup written")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "backup file (default: next to SQLITE_PATH)")
	return cmd
}

func backupPath(dbPath string, now time.Time) string {
	name := "backup_ledger_" + now.Format("20060102_150405") + ".db"
	return filepath.Join(filepath.Dir(dbPath), name)
}
