/*
handlers.go - HTTP API handlers for the client ledger

PURPOSE:
  Exposes the ledger service via REST API. Handles HTTP request/response
  and JSON serialization, and delegates everything else to ledger.Service.

ENDPOINTS:
  Clients:
    GET    /api/clients                List/search clients (?q, status, tier, limit, sort=name)
    POST   /api/clients                Register client
    GET    /api/clients/{id}           Client with sale history
    PUT    /api/clients/{id}           Edit profile (partial)
    PUT    /api/clients/{id}/status    Activate / deactivate

  Sales:
    GET    /api/sales                  List sales (?client_id, from, to, payment_method, limit)
    POST   /api/sales                  Register sale (updates aggregates atomically)
    GET    /api/sales/today            Today's sales
    GET    /api/sales/{id}             One sale

  Reports:
    GET    /api/reports/summary        Dashboard figures (?top)
    GET    /api/reports/tiers          Active clients per tier
    GET    /api/reports/top            Top clients (?n)
    GET    /api/reports/audit          Recompute aggregates and list drift

REQUEST FLOW:
  1. Parse HTTP request
  2. Call ledger.Service (which validates)
  3. Serialize response
  4. Map errors to status codes (writeServiceError)

ERROR HANDLING:
  - 400: Validation errors, unknown client on a sale, unparseable input
  - 404: Client or sale not found
  - 409: Duplicate email, other constraint violations
  - 503: Database unreachable
  - 500: Anything else

SECURITY NOTE:
  No authentication or authorization. Put the API behind a gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/storage"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Service
}

// NewHandler creates a new handler on top of the ledger service.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{Ledger: svc}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns clients matching the query string filters.
// GET /api/clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(r, "limit")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	f := ledger.ClientFilter{
		Query:  q.Get("q"),
		Status: ledger.Status(q.Get("status")),
		Tier:   ledger.Tier(q.Get("tier")),
		Limit:  limit,
	}

	var clients []ledger.Client
	if q.Get("sort") == "name" {
		clients, err = h.Ledger.ListClients(r.Context(), f)
	} else {
		clients, err = h.Ledger.FindClients(r.Context(), f)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if clients == nil {
		clients = []ledger.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

// CreateClient registers a client.
// POST /api/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Ledger.RegisterClient(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	client, err := h.Ledger.GetClient(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// GetClient returns a client with its sale history.
// GET /api/clients/{id}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	detail, err := h.Ledger.GetClientDetail(r.Context(), ledger.ClientID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if detail.Sales == nil {
		detail.Sales = []ledger.Sale{}
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateClient edits contact fields, tier, discount or notes.
// PUT /api/clients/{id}
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req ledger.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	client, err := h.Ledger.UpdateProfile(r.Context(), ledger.ClientID(id), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// ChangeClientStatus activates or deactivates a client.
// PUT /api/clients/{id}/status
func (h *Handler) ChangeClientStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Ledger.ChangeStatus(r.Context(), ledger.ClientID(id), ledger.Status(req.Status)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns sales matching the query string filters, newest first.
// GET /api/sales
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.SaleFilter
	clientID, err := intParam(r, "client_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	f.ClientID = ledger.ClientID(clientID)
	if f.Limit, err = intParam(r, "limit"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if f.From, err = dateParam(r, "from"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if f.To, err = dateParam(r, "to"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	f.PaymentMethod = ledger.PaymentMethod(q.Get("payment_method"))

	sales, err := h.Ledger.ListSales(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSales(w, sales)
}

// CreateSale registers a sale. The client's aggregates are updated in the
// same transaction.
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	id, err := h.Ledger.RegisterSale(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	sale, err := h.Ledger.GetSale(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

// SalesToday lists today's sales.
// GET /api/sales/today
func (h *Handler) SalesToday(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Ledger.SalesToday(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSales(w, sales)
}

// GetSale returns one sale.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sale, err := h.Ledger.GetSale(r.Context(), ledger.SaleID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// Summary returns the dashboard figures.
// GET /api/reports/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	summary, err := h.Ledger.Summary(r.Context(), top)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if summary.TopClients == nil {
		summary.TopClients = []ledger.ClientRank{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// ClientsByTier counts active clients per tier.
// GET /api/reports/tiers
func (h *Handler) ClientsByTier(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Ledger.ClientsByTier(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if counts == nil {
		counts = []ledger.TierCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

// TopClients ranks active clients by cumulative value.
// GET /api/reports/top
func (h *Handler) TopClients(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if n == 0 {
		n = 5
	}
	ranks, err := h.Ledger.TopClients(r.Context(), n)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if ranks == nil {
		ranks = []ledger.ClientRank{}
	}
	writeJSON(w, http.StatusOK, ranks)
}

// Audit recomputes aggregates from sales and reports any drift.
// GET /api/reports/audit
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Ledger.Audit(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	writeJSON(w, http.StatusOK, AuditResponse{
		Consistent: len(drifts) == 0,
		Drifts:     drifts,
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeSales(w http.ResponseWriter, sales []ledger.Sale) {
	if sales == nil {
		sales = []ledger.Sale{}
	}
	writeJSON(w, http.StatusOK, sales)
}

// writeServiceError maps the ledger/storage error taxonomy to a status.
// Server-side failures are logged; client errors are not.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		status, resp.Code, resp.Field = http.StatusBadRequest, "validation", ve.Field
	case errors.Is(err, ledger.ErrUnknownClient):
		status, resp.Code, resp.Field = http.StatusBadRequest, "unknown_client", "client_id"
	case errors.Is(err, ledger.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrDuplicateEmail):
		status, resp.Code, resp.Field = http.StatusConflict, "duplicate_email", "email"
	case errors.Is(err, storage.ErrConstraint):
		status, resp.Code = http.StatusConflict, "constraint"
	case errors.Is(err, storage.ErrConnection):
		status, resp.Code = http.StatusServiceUnavailable, "unavailable"
		resp.Error = "database unavailable"
	default:
		resp.Code = "internal"
		resp.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ledger.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}

// intParam reads an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ledger.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(ledger.DateLayout, raw)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: name, Message: "must be a date (YYYY-MM-DD)"}
	}
	return t, nil
}
