package ledger

import (
	"context"
	"time"

	"github.com/warp/client-ledger/storage"
)

// =============================================================================
// REPORTS - read-only projections
// =============================================================================

// ClientRank is one row of the top-clients report.
type ClientRank struct {
	ID             ClientID `json:"id"`
	FullName       string   `json:"full_name"`
	Tier           Tier     `json:"tier"`
	TotalPurchases Money    `json:"total_purchases"`
	PurchaseCount  int64    `json:"purchase_count"`
}

// TierCount is the number of active clients in a tier.
type TierCount struct {
	Tier  Tier  `json:"tier"`
	Count int64 `json:"count"`
}

// Summary is the dashboard projection.
type Summary struct {
	TotalClients  int64 `json:"total_clients"`
	ActiveClients int64 `json:"active_clients"`
	VIPClients    int64 `json:"vip_clients"`

	TotalSales   int64 `json:"total_sales"`
	TotalRevenue Money `json:"total_revenue"`
	AverageSale  Money `json:"average_sale"`

	MonthSales       int64 `json:"month_sales"`
	MonthRevenue     Money `json:"month_revenue"`
	MonthAverageSale Money `json:"month_average_sale"`

	TopClients  []ClientRank `json:"top_clients"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Drift is a client whose stored aggregate disagrees with its sales.
type Drift struct {
	ClientID    ClientID `json:"client_id"`
	StoredTotal Money    `json:"stored_total"`
	StoredCount int64    `json:"stored_count"`
	SalesTotal  Money    `json:"sales_total"`
	SalesCount  int64    `json:"sales_count"`
}

// Summary computes the dashboard figures. topN <= 0 uses 5.
func (s *Service) Summary(ctx context.Context, topN int) (*Summary, error) {
	if topN <= 0 {
		topN = 5
	}
	now := s.now()
	out := &Summary{GeneratedAt: now.UTC()}

	type counts struct{ total, active, vip int64 }
	c, err := read(ctx, s, "client_counts", func() (counts, error) {
		var c counts
		err := storage.QueryRow(ctx, s.backend, storage.ReportClientCounts, nil, &c.total, &c.active, &c.vip)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	out.TotalClients, out.ActiveClients, out.VIPClients = c.total, c.active, c.vip

	n, sum, err := s.salesBetween(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	out.TotalSales, out.TotalRevenue, out.AverageSale = n, MoneyFromCents(sum), average(sum, n)

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)
	n, sum, err = s.salesBetween(ctx, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	out.MonthSales, out.MonthRevenue, out.MonthAverageSale = n, MoneyFromCents(sum), average(sum, n)

	if out.TopClients, err = s.TopClients(ctx, topN); err != nil {
		return nil, err
	}
	return out, nil
}

// TopClients returns the n active clients with the highest cumulative value.
func (s *Service) TopClients(ctx context.Context, n int) ([]ClientRank, error) {
	if n <= 0 {
		return nil, &ValidationError{Field: "n", Message: "must be positive"}
	}
	return read(ctx, s, "top_clients", func() ([]ClientRank, error) {
		rows, err := s.backend.Query(ctx, storage.ReportTopClients, n)
		if err != nil {
			return nil, err
		}
		return collect(rows, func(r storage.Rows) (ClientRank, error) {
			var (
				cr    ClientRank
				cents int64
			)
			err := r.Scan(&cr.ID, &cr.FullName, &cr.Tier, &cents, &cr.PurchaseCount)
			cr.TotalPurchases = MoneyFromCents(cents)
			return cr, err
		})
	})
}

// ClientsByTier counts active clients per tier.
func (s *Service) ClientsByTier(ctx context.Context) ([]TierCount, error) {
	return read(ctx, s, "clients_by_tier", func() ([]TierCount, error) {
		rows, err := s.backend.Query(ctx, storage.ReportClientsByTier)
		if err != nil {
			return nil, err
		}
		return collect(rows, func(r storage.Rows) (TierCount, error) {
			var tc TierCount
			err := r.Scan(&tc.Tier, &tc.Count)
			return tc, err
		})
	})
}

// Audit recomputes every client's aggregate from its sales and returns the
// clients that disagree. An empty result means the ledger is consistent.
func (s *Service) Audit(ctx context.Context) ([]Drift, error) {
	drifts, err := read(ctx, s, "audit", func() ([]Drift, error) {
		rows, err := s.backend.Query(ctx, storage.AuditAggregates)
		if err != nil {
			return nil, err
		}
		return collect(rows, func(r storage.Rows) (Drift, error) {
			var (
				d                     Drift
				storedCents, sumCents int64
			)
			err := r.Scan(&d.ClientID, &storedCents, &d.StoredCount, &sumCents, &d.SalesCount)
			d.StoredTotal, d.SalesTotal = MoneyFromCents(storedCents), MoneyFromCents(sumCents)
			return d, err
		})
	})
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		s.logger.Error().
			Int64("client_id", int64(d.ClientID)).
			Stringer("stored_total", d.StoredTotal).
			Stringer("sales_total", d.SalesTotal).
			Int64("stored_count", d.StoredCount).
			Int64("sales_count", d.SalesCount).
			Msg("aggregate drift")
	}
	return drifts, nil
}
