/*
handlers_test.go - HTTP tests for the finance storage API

Tests for:
- Batch endpoint status codes (204, 400, 422) and the error envelope
- Rollover creation (201 + Location), progress, errors, budgets
- Rollover deletion (204, 404, 422)
- Setup endpoints and health

The full stack is wired: chi router, batch and rollover services, the
SQLite store and an orders client pointed at an httptest server.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/batch"
	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/orders"
	"github.com/warp/finance-ledger/rollover"
	"github.com/warp/finance-ledger/store/sqlstore"
)

type testServer struct {
	router      http.Handler
	store       *sqlstore.Store
	ordersCalls *atomic.Int32
}

func newTestServer(t *testing.T, ordersStatus int) *testServer {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	calls := &atomic.Int32{}
	ordersSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(ordersStatus)
	}))
	t.Cleanup(ordersSrv.Close)

	logger := zap.NewNop()
	client := orders.NewClient(orders.Config{BaseURL: ordersSrv.URL}, logger)
	h := NewHandler(store,
		batch.NewService(store, logger),
		rollover.NewService(store, sqlstore.NewFinancialRollover(store, logger), client, logger),
		logger)

	return &testServer{router: NewRouter(h), store: store, ordersCalls: calls}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userIDHeader, "user-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDTO {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Total)
	return resp.Errors[0]
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/finance-storage/ledgers",
		finance.Ledger{ID: "l1", Code: "MAIN"}).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/finance-storage/funds",
		finance.Fund{ID: "f1", Code: "HIST", LedgerID: "l1"}).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/finance-storage/budgets",
		map[string]any{"id": "b1", "fundId": "f1", "fiscalYearId": "fy1", "allocated": 100}).Code)
}

// =============================================================================
// BATCH
// =============================================================================

func TestProcessBatch_NoContent(t *testing.T) {
	// GIVEN: a ledger, fund and budget created through the API
	s := newTestServer(t, http.StatusNoContent)
	s.seed(t)

	// WHEN: a payment batch is posted
	rec := s.do(t, http.MethodPost, "/finance-storage/transactions/batch-all-or-nothing", map[string]any{
		"transactionsToCreate": []map[string]any{{
			"id": "pay-1", "transactionType": "Payment", "amount": 25.5, "currency": "USD",
			"fiscalYearId": "fy1", "fromFundId": "f1", "sourceInvoiceId": "inv-1",
		}},
	})

	// THEN: 204 and the transaction can be read back
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/finance-storage/transactions/pay-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr finance.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, "25.5", tr.Amount.String())
	require.NotNil(t, tr.Metadata)
	assert.Equal(t, "user-1", tr.Metadata.CreatedByUserID)

	budgets, err := s.store.BudgetsByFundIDs(context.Background(), "fy1", []string{"f1"})
	require.NoError(t, err)
	assert.Equal(t, "74.5", budgets[0].Available.String())
}

func TestProcessBatch_BadRequest(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)

	rec := s.do(t, http.MethodPost, "/finance-storage/transactions/batch-all-or-nothing", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalidJson", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/finance-storage/transactions/batch-all-or-nothing", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "emptyBatch", decodeError(t, rec).Code)
}

func TestProcessBatch_Unprocessable(t *testing.T) {
	// GIVEN: a budget that is closed
	s := newTestServer(t, http.StatusNoContent)
	s.seed(t)
	_, err := s.store.CloseBudgets(context.Background(), "l1", "fy1")
	require.NoError(t, err)

	// WHEN: a payment targets it
	rec := s.do(t, http.MethodPost, "/finance-storage/transactions/batch-all-or-nothing", map[string]any{
		"transactionsToCreate": []map[string]any{{
			"id": "pay-1", "transactionType": "Payment", "amount": 10,
			"fiscalYearId": "fy1", "fromFundId": "f1", "sourceInvoiceId": "inv-1",
		}},
	})

	// THEN: 422 with the budget in the parameters
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "budgetIsNotActiveOrPlanned", e.Code)
	assert.Contains(t, e.Parameters, finance.Parameter{Key: "budgetId", Value: "b1"})
}

func TestProcessBatch_PatchesAreInternalError(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)

	rec := s.do(t, http.MethodPost, "/finance-storage/transactions/batch-all-or-nothing", map[string]any{
		"transactionPatches": []map[string]any{{"id": "x"}},
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "patchNotSupported", decodeError(t, rec).Code)
}

func TestGetTransaction_NotFound(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)

	rec := s.do(t, http.MethodGet, "/finance-storage/transactions/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "transactionNotFound", decodeError(t, rec).Code)
}

// =============================================================================
// ROLLOVER
// =============================================================================

func rolloverBody(id string) map[string]any {
	return map[string]any{
		"id": id, "ledgerId": "l1", "fromFiscalYearId": "fy1", "toFiscalYearId": "fy2",
		"rolloverType": "Commit", "needCloseBudgets": true,
	}
}

func TestCreateRollover_Created(t *testing.T) {
	// GIVEN: a ledger with one budget
	s := newTestServer(t, http.StatusNoContent)
	s.seed(t)

	// WHEN: a commit rollover is posted
	rec := s.do(t, http.MethodPost, "/finance-storage/ledger-rollovers", rolloverBody("r1"))

	// THEN: 201 with a Location, orders called once, every phase succeeded
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/finance-storage/ledger-rollovers/r1", rec.Header().Get("Location"))
	assert.Equal(t, int32(1), s.ordersCalls.Load())

	rec = s.do(t, http.MethodGet, "/finance-storage/ledger-rollovers/r1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p finance.LedgerFiscalYearRolloverProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, finance.RolloverSuccess, p.BudgetsClosingRolloverStatus)
	assert.Equal(t, finance.RolloverSuccess, p.FinancialRolloverStatus)
	assert.Equal(t, finance.RolloverSuccess, p.OrdersRolloverStatus)
	assert.Equal(t, finance.RolloverSuccess, p.OverallRolloverStatus)

	rec = s.do(t, http.MethodGet, "/finance-storage/ledger-rollovers/r1/budgets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var budgets RolloverBudgetCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &budgets))
	require.Equal(t, 1, budgets.Total)
	assert.Equal(t, "fy2", budgets.Budgets[0].FiscalYearID)

	rec = s.do(t, http.MethodGet, "/finance-storage/ledger-rollovers/r1/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalRecords":0`)

	// AND: a second commit conflicts
	rec = s.do(t, http.MethodPost, "/finance-storage/ledger-rollovers", rolloverBody("r2"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "uniqueLedgerFiscalYearRollover", decodeError(t, rec).Code)
}

func TestCreateRollover_OrdersFailure(t *testing.T) {
	// GIVEN: an ordering service answering 500
	s := newTestServer(t, http.StatusInternalServerError)
	s.seed(t)

	// WHEN: a rollover is posted
	rec := s.do(t, http.MethodPost, "/finance-storage/ledger-rollovers", rolloverBody("r1"))

	// THEN: 500 with a masked message, the progress records the failure
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "genericError", e.Code)
	assert.Equal(t, "internal server error", e.Message)

	rec = s.do(t, http.MethodGet, "/finance-storage/ledger-rollovers/r1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ordersRolloverStatus":"Error"`)
	assert.Contains(t, rec.Body.String(), `"overallRolloverStatus":"Error"`)
}

func TestCreateRollover_Validation(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)
	body := rolloverBody("r1")
	body["toFiscalYearId"] = "fy1"

	rec := s.do(t, http.MethodPost, "/finance-storage/ledger-rollovers", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sameFiscalYear", decodeError(t, rec).Code)
}

func TestDeleteRollover(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)
	s.seed(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/finance-storage/ledger-rollovers", rolloverBody("r1")).Code)

	t.Run("orders in progress", func(t *testing.T) {
		p, err := s.store.GetProgressByRolloverID(context.Background(), "r1")
		require.NoError(t, err)
		p.OrdersRolloverStatus = finance.RolloverInProgress
		require.NoError(t, s.store.UpdateProgress(context.Background(), *p))

		rec := s.do(t, http.MethodDelete, "/finance-storage/ledger-rollovers/r1", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "rolloverInProgress", decodeError(t, rec).Code)

		p.OrdersRolloverStatus = finance.RolloverSuccess
		require.NoError(t, s.store.UpdateProgress(context.Background(), *p))
	})

	t.Run("deleted", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, "/finance-storage/ledger-rollovers/r1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodGet, "/finance-storage/ledger-rollovers/r1/progress", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, "/finance-storage/ledger-rollovers/r1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "rolloverProgressNotFound", decodeError(t, rec).Code)
	})
}

// =============================================================================
// SETUP AND HEALTH
// =============================================================================

func TestCreateBudget_DerivesSummary(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)

	rec := s.do(t, http.MethodPost, "/finance-storage/budgets",
		map[string]any{"fundId": "f1", "fiscalYearId": "fy1", "allocated": 100, "encumbered": 30})

	require.Equal(t, http.StatusCreated, rec.Code)
	var b finance.Budget
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, finance.BudgetActive, b.BudgetStatus)
	assert.Equal(t, "70", b.Available.String())

	rec = s.do(t, http.MethodPost, "/finance-storage/budgets",
		map[string]any{"fundId": "f1", "fiscalYearId": "fy1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/finance-storage/budgets", map[string]any{"fundId": "f1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFund_RequiresLedger(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)

	rec := s.do(t, http.MethodPost, "/finance-storage/funds", map[string]any{"code": "X"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missingLedgerId", decodeError(t, rec).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, http.StatusNoContent)

	rec := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"status":"ok"`))
}
