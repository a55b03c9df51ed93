/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON request bodies accepted by the API and the few response
  wrappers that are not ledger types. Ledger types (Client, Sale, Summary)
  already carry their JSON tags and are returned as they are.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Response wrappers

MONEY AND DATES:
  Amounts are accepted as JSON strings or numbers ("1500.50", 1500.5) and
  always returned as strings with two decimals. sold_at accepts RFC 3339,
  "2006-01-02 15:04:05" or a bare date.

VALIDATION:
  Field rules live in the ledger package. Handlers only reject bodies that
  cannot be parsed at all.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: ClientInput, SaleInput, ProfileUpdate
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/client-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateClientRequest is the body of POST /api/clients.
type CreateClientRequest struct {
	FullName string           `json:"full_name"`
	Age      int              `json:"age"`
	Address  string           `json:"address"`
	Email    string           `json:"email"`
	Phone    string           `json:"phone"`
	Company  string           `json:"company"`
	Tier     string           `json:"tier"`
	Status   string           `json:"status"`
	Discount *decimal.Decimal `json:"discount"`
	Notes    string           `json:"notes"`
}

// StatusRequest is the body of PUT /api/clients/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// CreateSaleRequest is the body of POST /api/sales.
type CreateSaleRequest struct {
	ClientID      int64            `json:"client_id"`
	SoldAt        string           `json:"sold_at"`
	Products      string           `json:"products"`
	Total         decimal.Decimal  `json:"total"`
	Discount      *decimal.Decimal `json:"discount"`
	PaymentMethod string           `json:"payment_method"`
	Salesperson   string           `json:"salesperson"`
	Notes         string           `json:"notes"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AuditResponse is the result of an on-demand audit.
type AuditResponse struct {
	Consistent bool           `json:"consistent"`
	Drifts     []ledger.Drift `json:"drifts"`
	CheckedAt  string         `json:"checked_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (req CreateClientRequest) toInput() ledger.ClientInput {
	in := ledger.ClientInput{
		FullName: req.FullName,
		Age:      req.Age,
		Address:  req.Address,
		Email:    req.Email,
		Phone:    req.Phone,
		Company:  req.Company,
		Tier:     ledger.Tier(req.Tier),
		Status:   ledger.Status(req.Status),
		Notes:    req.Notes,
	}
	if req.Discount != nil {
		in.Discount = *req.Discount
	}
	return in
}

func (req CreateSaleRequest) toInput() (ledger.SaleInput, error) {
	soldAt, err := parseSoldAt(req.SoldAt)
	if err != nil {
		return ledger.SaleInput{}, err
	}
	return ledger.SaleInput{
		ClientID:      ledger.ClientID(req.ClientID),
		SoldAt:        soldAt,
		Products:      req.Products,
		Total:         ledger.Money{Decimal: req.Total},
		Discount:      req.Discount,
		PaymentMethod: ledger.PaymentMethod(req.PaymentMethod),
		Salesperson:   req.Salesperson,
		Notes:         req.Notes,
	}, nil
}

var soldAtLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", ledger.DateLayout}

// parseSoldAt accepts the supported layouts; "" means now. An explicit
// offset is kept, so the sale date is the caller's calendar day. Times
// without one are read in the server's zone, like the default.
func parseSoldAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range soldAtLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ledger.ValidationError{
		Field:   "sold_at",
		Message: fmt.Sprintf("unrecognized time %q (use RFC 3339 or YYYY-MM-DD)", s),
	}
}
