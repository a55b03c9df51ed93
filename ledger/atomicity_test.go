package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/storage"
)

func TestRegisterSale_FailedAggregateWriteLeavesNoSale(t *testing.T) {
	// GIVEN: A client with one sale, and a backend that fails the aggregate update
	svc, backend := newTestService(t, false)
	id := mustRegister(t, svc, "Ana", "ana@example.com")
	mustSell(t, svc, id, "900000")

	faulty := &faultyBackend{Backend: backend, failOn: storage.ClientApplyAggregate}
	broken := ledger.NewService(faulty, svc.Strategy(), ledger.WithClock(fixedClock))

	// WHEN: A sale that would promote the client is registered
	_, err := broken.RegisterSale(context.Background(), saleInput(id, "200000"))

	// THEN: The error surfaces, the sale row is rolled back, aggregates are untouched
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, int64(1), count(t, backend, storage.SaleCount))

	c := mustGet(t, svc, id)
	assertMoney(t, "900000", c.TotalPurchases)
	assert.Equal(t, int64(1), c.PurchaseCount)
	assert.Equal(t, ledger.TierRegular, c.Tier)
}

func TestRegisterSale_FailedSaleInsertLeavesNoTrace(t *testing.T) {
	for _, st := range strategies {
		t.Run(st.name, func(t *testing.T) {
			svc, backend := newTestService(t, st.triggers)
			id := mustRegister(t, svc, "Ana", "ana@example.com")

			faulty := &faultyBackend{Backend: backend, failOn: storage.SaleInsert}
			broken := ledger.NewService(faulty, svc.Strategy(), ledger.WithClock(fixedClock))

			_, err := broken.RegisterSale(context.Background(), saleInput(id, "1000000"))

			require.ErrorIs(t, err, errInjected)
			assert.Zero(t, count(t, backend, storage.SaleCount))
			c := mustGet(t, svc, id)
			assert.Zero(t, c.PurchaseCount)
			assert.Equal(t, ledger.TierRegular, c.Tier)
		})
	}
}

func TestRegisterSale_NativeWithoutTriggerRollsBack(t *testing.T) {
	// GIVEN: A service on the native strategy over a database file
	path := filepath.Join(t.TempDir(), "ledger.db")
	backend := openBackend(t, path, true)
	svc := ledger.NewService(backend, ensure(t, backend), ledger.WithClock(fixedClock))
	ctx := context.Background()
	id := mustRegister(t, svc, "Ana", "ana@example.com")
	mustSell(t, svc, id, "100")

	// AND: Another process reconfigures the file for the application path,
	// dropping the trigger underneath the running service
	other := openBackend(t, path, false)
	ensure(t, other)

	// WHEN: The native service registers a sale
	_, err := svc.RegisterSale(ctx, saleInput(id, "1000000"))

	// THEN: The sale is refused instead of committed without its aggregate
	require.ErrorIs(t, err, ledger.ErrAggregateNotApplied)
	assert.Equal(t, int64(1), count(t, backend, storage.SaleCount))

	c := mustGet(t, svc, id)
	assertMoney(t, "100", c.TotalPurchases)
	assert.Equal(t, int64(1), c.PurchaseCount)
	assert.Equal(t, ledger.TierRegular, c.Tier)

	drifts, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
