package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/client-ledger/schema"
	"github.com/warp/client-ledger/storage"
)

// =============================================================================
// SALE OPERATIONS
// =============================================================================

// RegisterSale records a sale and its aggregate effect atomically.
// It is never retried; on error nothing was committed.
func (s *Service) RegisterSale(ctx context.Context, in SaleInput) (SaleID, error) {
	in.Products = strings.TrimSpace(in.Products)
	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentCash
	}
	if in.SoldAt.IsZero() {
		in.SoldAt = s.now()
	}
	if err := s.validateSale(in); err != nil {
		return 0, err
	}

	var (
		id            SaleID
		before, after Aggregate
	)
	err := storage.WithTx(ctx, s.backend, func(tx storage.Tx) error {
		client, err := one(ctx, tx, storage.ClientLockForSale, scanClient, int64(in.ClientID))
		if errors.Is(err, storage.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrUnknownClient, in.ClientID)
		}
		if err != nil {
			return err
		}
		if client.Status != StatusActive {
			return &ValidationError{Field: "client_id", Message: fmt.Sprintf("client is %s", client.Status)}
		}

		if !client.TotalPurchases.Add(in.Total).Storable() {
			return &ValidationError{Field: "total", Message: "would overflow the client's cumulative value"}
		}

		discount := client.Discount
		if in.Discount != nil {
			discount = *in.Discount
		}

		res, err := tx.Exec(ctx, storage.SaleInsert,
			int64(in.ClientID), in.SoldAt.Format(DateLayout), in.SoldAt.Format(TimeLayout),
			in.Products, in.Total.Cents(), bpFromRate(discount), string(in.PaymentMethod),
			in.Salesperson, in.Notes)
		if err != nil {
			if storage.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: %d", ErrUnknownClient, in.ClientID)
			}
			return err
		}
		id = SaleID(res.LastInsertID)

		before = client.Aggregate()
		if s.strategy == schema.StrategyNative {
			// The trigger already ran; read back to confirm it and for logging.
			refreshed, err := one(ctx, tx, storage.ClientGet, scanClient, int64(in.ClientID))
			if err != nil {
				return err
			}
			if refreshed.PurchaseCount != before.PurchaseCount+1 {
				s.logger.Error().
					Int64("client_id", int64(in.ClientID)).
					Int64("purchase_count", refreshed.PurchaseCount).
					Msg("sale insert left the aggregate unchanged; rolling back")
				return fmt.Errorf("%w: client %d", ErrAggregateNotApplied, in.ClientID)
			}
			after = refreshed.Aggregate()
			return nil
		}

		after = s.policy.Apply(before, in.Total, in.SoldAt)
		_, err = tx.Exec(ctx, storage.ClientApplyAggregate,
			after.TotalPurchases.Cents(), after.PurchaseCount, nullableDate(after.LastPurchase),
			string(after.Tier), bpFromRate(after.Discount), s.timestamp(), int64(in.ClientID))
		return err
	})
	if err != nil {
		return 0, err
	}

	ev := s.logger.Info().
		Int64("sale_id", int64(id)).
		Int64("client_id", int64(in.ClientID)).
		Stringer("total", in.Total).
		Stringer("cumulative", after.TotalPurchases)
	if before.Tier != after.Tier {
		ev = ev.Str("promoted_to", string(after.Tier))
	}
	ev.Msg("sale registered")
	return id, nil
}

// GetSale returns one sale.
func (s *Service) GetSale(ctx context.Context, id SaleID) (*Sale, error) {
	sl, err := read(ctx, s, "get_sale", func() (Sale, error) {
		return one(ctx, s.backend, storage.SaleGet, scanSale, int64(id))
	})
	if errors.Is(err, storage.ErrNoRows) {
		return nil, &NotFoundError{Entity: "sale", ID: int64(id)}
	}
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

// ListSales returns sales matching the filter, newest first.
func (s *Service) ListSales(ctx context.Context, f SaleFilter) ([]Sale, error) {
	if f.PaymentMethod != "" && !f.PaymentMethod.Valid() {
		return nil, &ValidationError{Field: "payment_method", Message: "unknown payment method"}
	}
	var clientID any
	if f.ClientID != 0 {
		clientID = int64(f.ClientID)
	}
	return read(ctx, s, "list_sales", func() ([]Sale, error) {
		rows, err := s.backend.Query(ctx, storage.SaleList,
			clientID, nullableDate(f.From), nullableDate(f.To), nullable(string(f.PaymentMethod)), f.Limit)
		if err != nil {
			return nil, err
		}
		return collect(rows, scanSale)
	})
}

// SalesToday lists today's sales by the service clock, newest first.
func (s *Service) SalesToday(ctx context.Context) ([]Sale, error) {
	today := truncateDay(s.now())
	return s.ListSales(ctx, SaleFilter{From: today, To: today})
}

// salesBetween sums sales in [from, to]; zero bounds are open.
func (s *Service) salesBetween(ctx context.Context, from, to time.Time) (count, sumCents int64, err error) {
	type totals struct{ count, sum int64 }
	t, err := read(ctx, s, "sales_totals", func() (totals, error) {
		var t totals
		err := storage.QueryRow(ctx, s.backend, storage.ReportSalesTotals,
			[]any{nullableDate(from), nullableDate(to)}, &t.count, &t.sum)
		return t, err
	})
	return t.count, t.sum, err
}
