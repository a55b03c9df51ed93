package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/client-ledger/schema"
)

// =============================================================================
// TIER ENGINE
// =============================================================================

// TierPolicy holds the promotion constants.
type TierPolicy struct {
	VIPThreshold Money
	VIPDiscount  decimal.Decimal
}

// DefaultTierPolicy promotes at 1,000,000.00 cumulative with a 5% discount.
var DefaultTierPolicy = TierPolicy{
	VIPThreshold: MoneyFromInt(1_000_000),
	VIPDiscount:  decimal.New(5, -2),
}

// Aggregate is the derived state of a client.
type Aggregate struct {
	TotalPurchases Money
	PurchaseCount  int64
	LastPurchase   time.Time // zero: no purchase yet
	Tier           Tier
	Discount       decimal.Decimal
}

// Apply returns the aggregate after one more sale of value sale on day on.
//
// Promotion is one-directional: a client at or above the threshold becomes
// VIP, everyone else keeps their tier. A VIP's discount is always reset to
// the policy discount. Must run exactly once per committed sale; the
// backend triggers implement the same arithmetic.
func (p TierPolicy) Apply(a Aggregate, sale Money, on time.Time) Aggregate {
	out := a
	out.TotalPurchases = a.TotalPurchases.Add(sale)
	out.PurchaseCount = a.PurchaseCount + 1

	day := truncateDay(on)
	if a.LastPurchase.IsZero() || day.After(a.LastPurchase) {
		out.LastPurchase = day
	}

	reached := out.TotalPurchases.GTE(p.VIPThreshold)
	if reached {
		out.Tier = TierVIP
	}
	if a.Tier == TierVIP || reached {
		out.Discount = p.VIPDiscount
	}
	return out
}

// Settings converts the policy to the units stored in ledger_settings.
func (p TierPolicy) Settings() schema.Settings {
	return schema.Settings{
		VIPThresholdCents: p.VIPThreshold.Cents(),
		VIPDiscountBP:     bpFromRate(p.VIPDiscount),
	}
}

// TierPolicyFromSettings is the inverse of Settings.
func TierPolicyFromSettings(s schema.Settings) TierPolicy {
	return TierPolicy{
		VIPThreshold: MoneyFromCents(s.VIPThresholdCents),
		VIPDiscount:  rateFromBP(s.VIPDiscountBP),
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
