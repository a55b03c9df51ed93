/*
service.go - Ledger operations

PURPOSE:
  Service is the only way the outer layers (HTTP, CLI) touch clients and
  sales. It issues named statements through a storage.Backend and never
  branches on which backend that is.

AGGREGATE UPDATE:
  RegisterSale runs in one transaction:
    1. lock and read the client row (FOR UPDATE / BEGIN IMMEDIATE)
    2. reject unknown or inactive clients
    3. insert the sale
    4. StrategyApplication only: TierPolicy.Apply + write the aggregate
    5. commit
  Any failure rolls back both statements. With StrategyNative the backend
  trigger performs step 4 inside the same transaction.

TRANSACTIONS:
  Inside a transaction callback only the tx handle is used. Going back to
  the backend from there would wait on the transaction's own lock.

RETRIES:
  Reads retry on storage.ErrConnection (see retry.go). Writes do not.

SEE ALSO:
  - clients.go, sales.go, reports.go: operations by area
  - tier.go: TierPolicy.Apply
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/client-ledger/schema"
	"github.com/warp/client-ledger/storage"
)

// Service implements the ledger operations on one backend.
type Service struct {
	backend  storage.Backend
	strategy schema.Strategy
	policy   TierPolicy
	retry    RetryPolicy
	now      func() time.Time
	logger   zerolog.Logger
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithTierPolicy sets the promotion constants used on the application path.
// They must match the settings written by schema.Manager.
func WithTierPolicy(p TierPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithReadRetry(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// NewService creates a ledger service. strategy is the value returned by
// schema.Manager.Ensure for the same backend.
func NewService(backend storage.Backend, strategy schema.Strategy, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		strategy: strategy,
		policy:   DefaultTierPolicy,
		retry:    DefaultRetryPolicy,
		now:      time.Now,
		logger:   zerolog.Nop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "ledger").Logger()
	return s
}

// Strategy reports who maintains aggregates for this service.
func (s *Service) Strategy() schema.Strategy { return s.strategy }

// Policy returns the active tier policy.
func (s *Service) Policy() TierPolicy { return s.policy }

func (s *Service) timestamp() string {
	return s.now().UTC().Format(TimestampLayout)
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func scanClient(rows storage.Rows) (Client, error) {
	var (
		c                   Client
		age                 int64
		registered, updated string
		last                *string
		totalCents, bp      int64
	)
	err := rows.Scan(&c.ID, &c.FullName, &age, &c.Address, &c.Email, &c.Phone, &c.Company,
		&c.Tier, &c.Status, &registered, &updated, &c.Notes, &totalCents, &c.PurchaseCount,
		&last, &bp)
	if err != nil {
		return Client{}, err
	}

	c.Age = int(age)
	c.TotalPurchases = MoneyFromCents(totalCents)
	c.Discount = rateFromBP(bp)
	if c.RegisteredOn, err = time.Parse(DateLayout, registered); err != nil {
		return Client{}, fmt.Errorf("client %d: registered_on: %w", c.ID, err)
	}
	if c.UpdatedAt, err = time.Parse(TimestampLayout, updated); err != nil {
		return Client{}, fmt.Errorf("client %d: updated_at: %w", c.ID, err)
	}
	if last != nil {
		t, err := time.Parse(DateLayout, *last)
		if err != nil {
			return Client{}, fmt.Errorf("client %d: last_purchase: %w", c.ID, err)
		}
		c.LastPurchase = &t
	}
	return c, nil
}

func scanSale(rows storage.Rows) (Sale, error) {
	var (
		sl             Sale
		date, clock    string
		totalCents, bp int64
	)
	err := rows.Scan(&sl.ID, &sl.ClientID, &date, &clock, &sl.Products, &totalCents, &bp,
		&sl.PaymentMethod, &sl.Salesperson, &sl.Notes)
	if err != nil {
		return Sale{}, err
	}
	sl.Total = MoneyFromCents(totalCents)
	sl.Discount = rateFromBP(bp)
	if sl.SoldAt, err = time.Parse(DateLayout+" "+TimeLayout, date+" "+clock); err != nil {
		return Sale{}, fmt.Errorf("sale %d: %w", sl.ID, err)
	}
	return sl, nil
}

// collect drains rows through scan.
func collect[T any](rows storage.Rows, scan func(storage.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// one returns the single row produced by stmt or storage.ErrNoRows.
func one[T any](ctx context.Context, c storage.Conn, stmt storage.Statement, scan func(storage.Rows) (T, error), args ...any) (T, error) {
	var zero T
	rows, err := c.Query(ctx, stmt, args...)
	if err != nil {
		return zero, err
	}
	items, err := collect(rows, scan)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, storage.ErrNoRows
	}
	return items[0], nil
}

// nullable binds an empty string as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(DateLayout)
}
