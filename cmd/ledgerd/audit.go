package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/warp/client-ledger/ledger"
)

var errDrift = errors.New("aggregate drift detected")

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Recompute client aggregates from sales and report mismatches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, backend, err := a.openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer backend.Close()

			drifts, err := svc.Audit(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(drifts) == 0 {
				fmt.Fprintln(out, "all client aggregates match their sales")
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Client", "Stored total", "Sales total", "Stored count", "Sales count"})
			for _, d := range drifts {
				table.Append([]string{
					strconv.FormatInt(int64(d.ClientID), 10),
					d.StoredTotal.String(),
					d.SalesTotal.String(),
					strconv.FormatInt(d.StoredCount, 10),
					strconv.FormatInt(d.SalesCount, 10),
				})
			}
			table.Render()
			return fmt.Errorf("%w: %d clients", errDrift, len(drifts))
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the dashboard summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, backend, err := a.openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer backend.Close()

			s, err := svc.Summary(cmd.Context(), top)
			if err != nil {
				return err
			}
			printSummary(cmd, s)
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "number of top clients to list")
	return cmd
}

func printSummary(cmd *cobra.Command, s *ledger.Summary) {
	out := cmd.OutOrStdout()
	itoa := func(n int64) string { return strconv.FormatInt(n, 10) }

	figures := tablewriter.NewWriter(out)
	figures.SetHeader([]string{"Figure", "Value"})
	figures.AppendBulk([][]string{
		{"clients", itoa(s.TotalClients)},
		{"active clients", itoa(s.ActiveClients)},
		{"VIP clients", itoa(s.VIPClients)},
		{"sales", itoa(s.TotalSales)},
		{"revenue", s.TotalRevenue.String()},
		{"average sale", s.AverageSale.String()},
		{"sales this month", itoa(s.MonthSales)},
		{"revenue this month", s.MonthRevenue.String()},
		{"average sale this month", s.MonthAverageSale.String()},
	})
	figures.Render()

	if len(s.TopClients) == 0 {
		return
	}
	ranks := tablewriter.NewWriter(out)
	ranks.SetHeader([]string{"#", "Client", "Tier", "Total", "Purchases"})
	for i, c := range s.TopClients {
		ranks.Append([]string{
			strconv.Itoa(i + 1),
			c.FullName,
			string(c.Tier),
			c.TotalPurchases.String(),
			itoa(c.PurchaseCount),
		})
	}
	ranks.Render()
}
