/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the batch transaction engine and the ledger rollover workflow
  via REST. Handlers parse the request, call the service and map the
  result to a status code; no ledger rule lives here.

ENDPOINTS:
  Batch:
    POST   /finance-storage/transactions/batch-all-or-nothing   204
    GET    /finance-storage/transactions/{id}                   200 / 404

  Rollover:
    POST   /finance-storage/ledger-rollovers                    201 + Location
    DELETE /finance-storage/ledger-rollovers/{id}               204 / 404 / 422
    GET    /finance-storage/ledger-rollovers/{id}/progress      200 / 404
    GET    /finance-storage/ledger-rollovers/{id}/errors        200 / 404
    GET    /finance-storage/ledger-rollovers/{id}/budgets       200 / 404

  Setup:
    POST   /finance-storage/ledgers | funds | budgets           201

ERROR HANDLING:
  Every error is answered as {"errors":[{code, message, parameters}]}
  with the status chosen by finance.HTTPStatus:
  - 400: validation errors, malformed JSON
  - 404: unknown rollover / transaction
  - 409: duplicate commit rollover, duplicate ids
  - 422: business rules (restrictions, inactive budget, rollover running)
  - 500: everything else, logged with the request id

AUDIT:
  The caller id for created/updated metadata comes from X-Okapi-User-Id.

SEE ALSO:
  - dto.go: response envelopes
  - server.go: router and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/batch"
	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/rollover"
)

const userIDHeader = "X-Okapi-User-Id"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	DB        finance.DB
	Batches   *batch.Service
	Rollovers *rollover.Service
	Logger    *zap.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

func NewHandler(db finance.DB, batches *batch.Service, rollovers *rollover.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		DB:        db,
		Batches:   batches,
		Rollovers: rollovers,
		Logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) requestContext(r *http.Request) finance.RequestContext {
	return finance.RequestContext{UserID: r.Header.Get(userIDHeader), Now: h.Now()}
}

// =============================================================================
// BATCH ENDPOINTS
// =============================================================================

// ProcessBatch applies a batch of transactions all-or-nothing.
// POST /finance-storage/transactions/batch-all-or-nothing
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var b finance.Batch
	if err := decodeJSON(r, &b); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Batches.ProcessBatch(r.Context(), &b, h.requestContext(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTransaction returns one stored transaction.
// GET /finance-storage/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	txs, err := h.DB.TransactionsByIDs(r.Context(), []string{id})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(txs) == 0 {
		h.writeError(w, r, finance.NewError(finance.ErrNotFound, "transactionNotFound",
			"transaction does not exist", finance.Param("id", id)))
		return
	}
	writeJSON(w, http.StatusOK, txs[0])
}

// =============================================================================
// ROLLOVER ENDPOINTS
// =============================================================================

// CreateRollover prepares and runs a ledger rollover.
// POST /finance-storage/ledger-rollovers
func (h *Handler) CreateRollover(w http.ResponseWriter, r *http.Request) {
	var req finance.LedgerFiscalYearRollover
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.Rollovers.RolloverLedger(r.Context(), req, h.requestContext(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// DeleteRollover removes a rollover unless its orders phase is running.
// DELETE /finance-storage/ledger-rollovers/{id}
func (h *Handler) DeleteRollover(w http.ResponseWriter, r *http.Request) {
	if err := h.Rollovers.DeleteRollover(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRolloverProgress returns the phase statuses of a rollover.
// GET /finance-storage/ledger-rollovers/{id}/progress
func (h *Handler) GetRolloverProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.Rollovers.GetProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetRolloverErrors lists the error rows of a rollover.
// GET /finance-storage/ledger-rollovers/{id}/errors
func (h *Handler) GetRolloverErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := h.Rollovers.GetErrors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if errs == nil {
		errs = []finance.LedgerFiscalYearRolloverError{}
	}
	writeJSON(w, http.StatusOK, RolloverErrorCollection{Errors: errs, Total: len(errs)})
}

// GetRolloverBudgets lists the per-budget results of a rollover.
// GET /finance-storage/ledger-rollovers/{id}/budgets
func (h *Handler) GetRolloverBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.Rollovers.GetBudgets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []finance.RolloverBudget{}
	}
	writeJSON(w, http.StatusOK, RolloverBudgetCollection{Budgets: budgets, Total: len(budgets)})
}

// =============================================================================
// SETUP ENDPOINTS
// =============================================================================

// CreateLedger stores a ledger.
// POST /finance-storage/ledgers
func (h *Handler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	var l finance.Ledger
	if err := decodeJSON(r, &l); err != nil {
		h.writeError(w, r, err)
		return
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := h.DB.CreateLedgers(r.Context(), []finance.Ledger{l}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// CreateFund stores a fund.
// POST /finance-storage/funds
func (h *Handler) CreateFund(w http.ResponseWriter, r *http.Request) {
	var f finance.Fund
	if err := decodeJSON(r, &f); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.LedgerID == "" {
		h.writeError(w, r, finance.NewError(finance.ErrValidation, "missingLedgerId", "ledgerId is required"))
		return
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if err := h.DB.CreateFunds(r.Context(), []finance.Fund{f}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// CreateBudget stores a budget with its summary fields derived.
// POST /finance-storage/budgets
func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var b finance.Budget
	if err := decodeJSON(r, &b); err != nil {
		h.writeError(w, r, err)
		return
	}
	if b.FundID == "" || b.FiscalYearID == "" {
		h.writeError(w, r, finance.NewError(finance.ErrValidation, "missingBudgetKey",
			"fundId and fiscalYearId are required"))
		return
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.BudgetStatus == "" {
		b.BudgetStatus = finance.BudgetActive
	}
	b.Recalculate(finance.DefaultCurrency)
	b.Metadata = h.requestContext(r).Stamp(nil)
	if err := h.DB.CreateBudgets(r.Context(), []finance.Budget{b}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := finance.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, newErrorResponse(err))
}
