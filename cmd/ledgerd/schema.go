package main

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/warp/client-ledger/schema"
	"github.com/warp/client-ledger/storage"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create or upgrade the schema and show the aggregate strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.open(ctx, a.cfg.DBType, "")
			if err != nil {
				return err
			}
			defer b.Close()

			strategy, err := a.ensure(ctx, b)
			if err != nil {
				return err
			}
			settings, err := schema.ReadSettings(ctx, b)
			if err != nil {
				return err
			}
			var clients, sales int64
			if err := storage.QueryRow(ctx, b, storage.ClientCount, nil, &clients); err != nil {
				return err
			}
			if err := storage.QueryRow(ctx, b, storage.SaleCount, nil, &sales); err != nil {
				return err
			}

			policy := a.cfg.TierPolicy()
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Setting", "Value"})
			table.AppendBulk([][]string{
				{"backend", b.Capabilities().Dialect},
				{"strategy", strategy.String()},
				{"vip threshold", policy.VIPThreshold.String()},
				{"vip discount", policy.VIPDiscount.String()},
				{"stored threshold (cents)", strconv.FormatInt(settings.VIPThresholdCents, 10)},
				{"stored discount (bp)", strconv.FormatInt(settings.VIPDiscountBP, 10)},
				{"clients", strconv.FormatInt(clients, 10)},
				{"sales", strconv.FormatInt(sales, 10)},
			})
			table.Render()
			return nil
		},
	}
}
