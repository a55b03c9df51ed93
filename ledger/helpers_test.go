package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/schema"
	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// strategies runs a subtest once per aggregate strategy. The native case
// uses the SQLite trigger, which runs the same arithmetic as the
// PostgreSQL one.
var strategies = []struct {
	name     string
	triggers bool
}{
	{"application", false},
	{"native", true},
}

func openBackend(t *testing.T, path string, triggers bool) storage.Backend {
	t.Helper()
	backend, err := sqlite.Open(sqlite.Options{Path: path, AggregateTriggers: triggers})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func ensure(t *testing.T, b storage.Backend) schema.Strategy {
	t.Helper()
	strategy, err := schema.NewManager(b, ledger.DefaultTierPolicy.Settings(), zerolog.Nop()).
		Ensure(context.Background())
	require.NoError(t, err)
	return strategy
}

func newTestService(t *testing.T, triggers bool, opts ...ledger.Option) (*ledger.Service, storage.Backend) {
	t.Helper()
	backend := openBackend(t, ":memory:", triggers)
	strategy := ensure(t, backend)
	opts = append([]ledger.Option{ledger.WithClock(fixedClock)}, opts...)
	return ledger.NewService(backend, strategy, opts...), backend
}

func clientInput(name, email string) ledger.ClientInput {
	return ledger.ClientInput{
		FullName: name,
		Age:      35,
		Address:  "Av. Siempre Viva 742",
		Email:    email,
		Phone:    "(555) 123-4567",
	}
}

func mustRegister(t *testing.T, s *ledger.Service, name, email string) ledger.ClientID {
	t.Helper()
	id, err := s.RegisterClient(context.Background(), clientInput(name, email))
	require.NoError(t, err)
	return id
}

func saleInput(id ledger.ClientID, amount string) ledger.SaleInput {
	return ledger.SaleInput{
		ClientID: id,
		Products: "consulting",
		Total:    ledger.MustMoney(amount),
	}
}

func mustSell(t *testing.T, s *ledger.Service, id ledger.ClientID, amount string) ledger.SaleID {
	t.Helper()
	saleID, err := s.RegisterSale(context.Background(), saleInput(id, amount))
	require.NoError(t, err)
	return saleID
}

func mustGet(t *testing.T, s *ledger.Service, id ledger.ClientID) *ledger.Client {
	t.Helper()
	c, err := s.GetClient(context.Background(), id)
	require.NoError(t, err)
	return c
}

func count(t *testing.T, b storage.Backend, stmt storage.Statement) int64 {
	t.Helper()
	var n int64
	require.NoError(t, storage.QueryRow(context.Background(), b, stmt, nil, &n))
	return n
}

func assertMoney(t *testing.T, want string, got ledger.Money) {
	t.Helper()
	assert.True(t, ledger.MustMoney(want).Equal(got), "want %s, got %s", want, got)
}

func assertRate(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errInjected = errors.New("injected failure")

// faultyBackend fails transactional Execs of one statement, and the first
// queryFailures queries with a connection error.
type faultyBackend struct {
	storage.Backend
	failOn storage.Statement

	mu            sync.Mutex
	queryFailures int
	queries       int
	begins        int
	beginFailures int
}

func (b *faultyBackend) Query(ctx context.Context, stmt storage.Statement, args ...any) (storage.Rows, error) {
	b.mu.Lock()
	b.queries++
	fail := b.queryFailures > 0
	if fail {
		b.queryFailures--
	}
	b.mu.Unlock()
	if fail {
		return nil, storage.ErrConnection
	}
	return b.Backend.Query(ctx, stmt, args...)
}

func (b *faultyBackend) Begin(ctx context.Context) (storage.Tx, error) {
	b.mu.Lock()
	b.begins++
	fail := b.beginFailures > 0
	if fail {
		b.beginFailures--
	}
	b.mu.Unlock()
	if fail {
		return nil, storage.ErrConnection
	}

	tx, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, failOn: b.failOn}, nil
}

type faultyTx struct {
	storage.Tx
	failOn storage.Statement
}

func (t *faultyTx) Exec(ctx context.Context, stmt storage.Statement, args ...any) (storage.Result, error) {
	if stmt == t.failOn {
		return storage.Result{}, errInjected
	}
	return t.Tx.Exec(ctx, stmt, args...)
}
