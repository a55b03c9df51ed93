/*
Package ledger is the client/sales ledger.

PURPOSE:
  Clients, their sales, and the rule that recording a sale updates the
  client's aggregates (cumulative value, count, last purchase, tier,
  discount) atomically with the sale itself.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: two-decimal amount, persisted as integer cents
  - Tier / Status / PaymentMethod: closed vocabularies
  - Client, Sale: the two records
  - ClientInput, SaleInput, ProfileUpdate: what callers send

DESIGN PRINCIPLES:
  1. Sales are append-only. No update, no delete.
  2. Aggregates only move with sales. Profile edits cannot touch them.
  3. Money never passes through float64.

SEE ALSO:
  - tier.go: promotion rules
  - service.go: operations
  - storage: backend contract
*/
package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Wire layouts shared with the storage adapters.
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	TimestampLayout = "2006-01-02T15:04:05Z"
)

// =============================================================================
// MONEY - Fixed two-decimal amount
// =============================================================================

// Money is a non-float amount with two decimal places.
type Money struct {
	decimal.Decimal
}

func MoneyFromCents(cents int64) Money { return Money{decimal.New(cents, -2)} }

func MoneyFromInt(units int64) Money { return Money{decimal.NewFromInt(units)} }

// ParseMoney parses "1234.5" style amounts. More than two decimals is an error.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	m := Money{d}
	if !m.exact() {
		return Money{}, fmt.Errorf("invalid amount %q: more than two decimals", s)
	}
	return m, nil
}

// MustMoney is ParseMoney for constants and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MaxSaleTotal bounds a single sale. Cumulative values are bounded by
// what fits in int64 cents.
var MaxSaleTotal = MustMoney("1000000000000")

var maxCents = decimal.NewFromInt(math.MaxInt64)

// Storable reports whether m converts to int64 cents without wrapping.
func (m Money) Storable() bool {
	return m.Decimal.Shift(2).Round(0).LessThanOrEqual(maxCents)
}

func (m Money) Cents() int64 { return m.Decimal.Shift(2).Round(0).IntPart() }
func (m Money) Add(o Money) Money { return Money{m.Decimal.Add(o.Decimal)} }
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }
func (m Money) GTE(o Money) bool { return m.Decimal.GreaterThanOrEqual(o.Decimal) }
func (m Money) IsNegative() bool { return m.Decimal.IsNegative() }
func (m Money) String() string { return m.Decimal.StringFixed(2) }
func (m Money) exact() bool { return m.Decimal.Equal(m.Decimal.Round(2)) }
func (m Money) MarshalJSON() ([]byte, error) { return []byte(`"` + m.String() + `"`), nil }

// average returns sum/n rounded to the cent, or zero when n is zero.
func average(sumCents, n int64) Money {
	if n == 0 {
		return Money{}
	}
	return Money{decimal.New(sumCents, -2).Div(decimal.NewFromInt(n)).Round(2)}
}

// Discount rates are persisted as basis points (500 = 0.05).
func rateFromBP(bp int64) decimal.Decimal { return decimal.New(bp, -4) }

func bpFromRate(r decimal.Decimal) int64 { return r.Shift(4).Round(0).IntPart() }

// =============================================================================
// VOCABULARIES
// =============================================================================

type Tier string

const (
	TierProspect Tier = "Prospect"
	TierRegular  Tier = "Regular"
	TierVIP      Tier = "VIP"
	TierInactive Tier = "Inactive"
)

func (t Tier) Valid() bool {
	switch t {
	case TierProspect, TierRegular, TierVIP, TierInactive:
		return true
	}
	return false
}

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusProspect Status = "Prospect"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusProspect:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "Cash"
	PaymentDebit    PaymentMethod = "Debit Card"
	PaymentCredit   PaymentMethod = "Credit Card"
	PaymentTransfer PaymentMethod = "Transfer"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentDebit, PaymentCredit, PaymentTransfer:
		return true
	}
	return false
}

// =============================================================================
// RECORDS
// =============================================================================

type ClientID int64

type SaleID int64

// Client is a client record with its derived aggregates.
type Client struct {
	ID           ClientID  `json:"id"`
	FullName     string    `json:"full_name"`
	Age          int       `json:"age"`
	Address      string    `json:"address"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Company      string    `json:"company,omitempty"`
	Tier         Tier      `json:"tier"`
	Status       Status    `json:"status"`
	RegisteredOn time.Time `json:"registered_on"`
	UpdatedAt    time.Time `json:"updated_at"`
	Notes        string    `json:"notes,omitempty"`

	TotalPurchases Money           `json:"total_purchases"`
	PurchaseCount  int64           `json:"purchase_count"`
	LastPurchase   *time.Time      `json:"last_purchase"`
	Discount       decimal.Decimal `json:"discount"`
}

// Aggregate extracts the derived part of the record.
func (c Client) Aggregate() Aggregate {
	a := Aggregate{
		TotalPurchases: c.TotalPurchases,
		PurchaseCount:  c.PurchaseCount,
		Tier:           c.Tier,
		Discount:       c.Discount,
	}
	if c.LastPurchase != nil {
		a.LastPurchase = *c.LastPurchase
	}
	return a
}

// ClientDetail is a client with its sale history, newest first.
type ClientDetail struct {
	Client
	Sales []Sale `json:"sales"`
}

// Sale is an immutable sale record.
type Sale struct {
	ID            SaleID          `json:"id"`
	ClientID      ClientID        `json:"client_id"`
	SoldAt        time.Time       `json:"sold_at"`
	Products      string          `json:"products"`
	Total         Money           `json:"total"`
	Discount      decimal.Decimal `json:"discount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Salesperson   string          `json:"salesperson,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// =============================================================================
// INPUTS
// =============================================================================

// ClientInput registers a client. Tier and Status default to Regular and Active.
type ClientInput struct {
	FullName string          `json:"full_name" validate:"required,max=200"`
	Age      int             `json:"age" validate:"gte=0,lte=150"`
	Address  string          `json:"address" validate:"required,max=500"`
	Email    string          `json:"email" validate:"required,max=254,ledger_email"`
	Phone    string          `json:"phone" validate:"required,ledger_phone"`
	Company  string          `json:"company" validate:"max=200"`
	Tier     Tier            `json:"tier" validate:"omitempty,ledger_tier"`
	Status   Status          `json:"status" validate:"omitempty,ledger_status"`
	Discount decimal.Decimal `json:"discount"`
	Notes    string          `json:"notes"`
}

// ProfileUpdate changes contact fields, tier, discount or notes. Nil fields
// are left alone. Aggregates are not editable.
type ProfileUpdate struct {
	FullName *string          `json:"full_name,omitempty"`
	Age      *int             `json:"age,omitempty"`
	Address  *string          `json:"address,omitempty"`
	Email    *string          `json:"email,omitempty"`
	Phone    *string          `json:"phone,omitempty"`
	Company  *string          `json:"company,omitempty"`
	Tier     *Tier            `json:"tier,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
	Notes    *string          `json:"notes,omitempty"`
}

// SaleInput records a sale. A zero SoldAt means now; a nil Discount means
// the client's current discount; an empty PaymentMethod means Cash.
type SaleInput struct {
	ClientID      ClientID         `json:"client_id" validate:"required,gt=0"`
	SoldAt        time.Time        `json:"sold_at"`
	Products      string           `json:"products" validate:"required,max=2000"`
	Total         Money            `json:"total"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method" validate:"omitempty,ledger_payment"`
	Salesperson   string           `json:"salesperson" validate:"max=200"`
	Notes         string           `json:"notes"`
}

// ClientFilter narrows client lookups. Query matches name, email or company
// by substring. Limit 0 means no limit.
type ClientFilter struct {
	Query  string
	Status Status
	Tier   Tier
	Limit  int
}

// SaleFilter narrows sale listings. Zero values mean "any".
type SaleFilter struct {
	ClientID      ClientID
	From          time.Time
	To            time.Time
	PaymentMethod PaymentMethod
	Limit         int
}
