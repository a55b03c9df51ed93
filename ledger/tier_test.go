package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/client-ledger/ledger"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestApply_BelowThresholdKeepsTier(t *testing.T) {
	// GIVEN: A Regular client with no purchases
	// WHEN: A sale of 200,000 is applied
	// THEN: Value and count move, tier and discount stay

	p := ledger.DefaultTierPolicy
	got := p.Apply(ledger.Aggregate{Tier: ledger.TierRegular}, ledger.MustMoney("200000"), day(2025, 3, 1))

	assertMoney(t, "200000", got.TotalPurchases)
	assert.Equal(t, int64(1), got.PurchaseCount)
	assert.Equal(t, ledger.TierRegular, got.Tier)
	assert.True(t, got.Discount.IsZero())
	assert.Equal(t, day(2025, 3, 1), got.LastPurchase)
}

func TestApply_ReachingThresholdPromotes(t *testing.T) {
	// GIVEN: A client just below the threshold
	// WHEN: A sale takes them exactly to the threshold
	// THEN: VIP with the policy discount

	p := ledger.DefaultTierPolicy
	before := ledger.Aggregate{
		TotalPurchases: ledger.MustMoney("999999.99"),
		PurchaseCount:  4,
		Tier:           ledger.TierRegular,
	}
	got := p.Apply(before, ledger.MustMoney("0.01"), day(2025, 3, 1))

	assertMoney(t, "1000000", got.TotalPurchases)
	assert.Equal(t, ledger.TierVIP, got.Tier)
	assertRate(t, "0.05", got.Discount)
}

func TestApply_VIPIsNeverDemoted(t *testing.T) {
	// GIVEN: A VIP whose cumulative value is below a raised threshold
	// WHEN: A small sale is applied
	// THEN: Still VIP, discount reset to the policy discount

	p := ledger.TierPolicy{VIPThreshold: ledger.MustMoney("5000000"), VIPDiscount: decimal.RequireFromString("0.07")}
	before := ledger.Aggregate{
		TotalPurchases: ledger.MustMoney("1200000"),
		PurchaseCount:  10,
		Tier:           ledger.TierVIP,
		Discount:       decimal.RequireFromString("0.10"),
	}
	got := p.Apply(before, ledger.MustMoney("10"), day(2025, 3, 1))

	assert.Equal(t, ledger.TierVIP, got.Tier)
	assertRate(t, "0.07", got.Discount)
}

func TestApply_OtherTiersKeepTheirDiscount(t *testing.T) {
	p := ledger.DefaultTierPolicy
	before := ledger.Aggregate{Tier: ledger.TierProspect, Discount: decimal.RequireFromString("0.02")}

	got := p.Apply(before, ledger.MustMoney("10"), day(2025, 3, 1))

	assert.Equal(t, ledger.TierProspect, got.Tier)
	assertRate(t, "0.02", got.Discount)
}

func TestApply_LastPurchaseNeverMovesBack(t *testing.T) {
	// GIVEN: A client whose last purchase is March 10
	// WHEN: A back-dated sale from March 1 is applied
	// THEN: Last purchase stays March 10

	p := ledger.DefaultTierPolicy
	before := ledger.Aggregate{Tier: ledger.TierRegular, LastPurchase: day(2025, 3, 10)}

	got := p.Apply(before, ledger.MustMoney("5"), time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	assert.Equal(t, day(2025, 3, 10), got.LastPurchase)

	got = p.Apply(got, ledger.MustMoney("5"), time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, day(2025, 3, 12), got.LastPurchase)
}

func TestApply_SumEqualsSalesAndCountEqualsSales(t *testing.T) {
	p := ledger.DefaultTierPolicy
	amounts := []string{"0", "0.01", "199999.99", "333333.33", "0.10", "466666.57"}

	agg := ledger.Aggregate{Tier: ledger.TierRegular}
	var cents int64
	for i, a := range amounts {
		m := ledger.MustMoney(a)
		cents += m.Cents()
		agg = p.Apply(agg, m, day(2025, 1, i+1))
	}

	assert.Equal(t, cents, agg.TotalPurchases.Cents())
	assert.Equal(t, int64(len(amounts)), agg.PurchaseCount)
	assert.Equal(t, ledger.TierVIP, agg.Tier)
}

func TestTierPolicy_SettingsRoundTrip(t *testing.T) {
	p := ledger.DefaultTierPolicy

	s := p.Settings()
	assert.Equal(t, int64(100000000), s.VIPThresholdCents)
	assert.Equal(t, int64(500), s.VIPDiscountBP)

	back := ledger.TierPolicyFromSettings(s)
	assert.True(t, back.VIPThreshold.Equal(p.VIPThreshold))
	assert.True(t, back.VIPDiscount.Equal(p.VIPDiscount))
}

func TestParseMoney(t *testing.T) {
	m, err := ledger.ParseMoney(" 12.5 ")
	assert.NoError(t, err)
	assert.Equal(t, int64(1250), m.Cents())
	assert.Equal(t, "12.50", m.String())

	_, err = ledger.ParseMoney("1.005")
	assert.Error(t, err)

	_, err = ledger.ParseMoney("abc")
	assert.Error(t, err)
}
