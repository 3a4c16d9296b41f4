/*
service_test.go - Tests for the ledger rollover workflow

Tests for:
- Preparation: validation, duplicate commit rollovers, budget closing
- Saga: phase statuses after success and after each kind of failure
- Deletion: refused while orders run, cascades otherwise

The financial script and the ordering service are replaced by fakes; the
store is an in-memory SQLite database.
*/
package rollover_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/rollover"
	"github.com/warp/finance-ledger/store/sqlstore"
)

const (
	ledgerID = "ledger-1"
	fy2025   = "fy-2025"
	fy2026   = "fy-2026"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeFinancial struct {
	db     finance.DB
	err    error
	failed int // error rows to record per run
	calls  int
}

func (f *fakeFinancial) RunFinancialRollover(ctx context.Context, r finance.LedgerFiscalYearRollover) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for i := 0; i < f.failed; i++ {
		if err := f.db.CreateRolloverErrors(ctx, []finance.LedgerFiscalYearRolloverError{{
			ID:               uuid.NewString(),
			LedgerRolloverID: r.ID,
			ErrorType:        "Fund",
			FailedAction:     "Roll over budget",
			ErrorMessage:     "boom",
		}}); err != nil {
			return err
		}
	}
	return nil
}

type fakeOrders struct {
	err   error
	calls int
	// during is called while the orders phase runs.
	during func(r finance.LedgerFiscalYearRollover)
}

func (o *fakeOrders) RolloverOrders(ctx context.Context, r finance.LedgerFiscalYearRollover) error {
	o.calls++
	if o.during != nil {
		o.during(r)
	}
	return o.err
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	ctx       context.Context
	store     *sqlstore.Store
	financial *fakeFinancial
	orders    *fakeOrders
	svc       *rollover.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		ctx:       context.Background(),
		store:     store,
		financial: &fakeFinancial{db: store},
		orders:    &fakeOrders{},
	}
	f.svc = rollover.NewService(store, f.financial, f.orders, zap.NewNop())
	return f
}

func request(t finance.RolloverType) finance.LedgerFiscalYearRollover {
	return finance.LedgerFiscalYearRollover{
		LedgerID:         ledgerID,
		FromFiscalYearID: fy2025,
		ToFiscalYearID:   fy2026,
		RolloverType:     t,
	}
}

func (f *fixture) progress(t *testing.T, id string) *finance.LedgerFiscalYearRolloverProgress {
	t.Helper()
	p, err := f.svc.GetProgress(f.ctx, id)
	require.NoError(t, err)
	return p
}

func statuses(p *finance.LedgerFiscalYearRolloverProgress) []finance.RolloverStatus {
	return []finance.RolloverStatus{
		p.BudgetsClosingRolloverStatus,
		p.FinancialRolloverStatus,
		p.OrdersRolloverStatus,
		p.OverallRolloverStatus,
	}
}

// =============================================================================
// ROLLOVER
// =============================================================================

func TestRolloverLedger_Success(t *testing.T) {
	// GIVEN: a preview rollover request
	f := newFixture(t)
	var duringOrders *finance.LedgerFiscalYearRolloverProgress
	f.orders.during = func(r finance.LedgerFiscalYearRollover) {
		duringOrders, _ = f.store.GetProgressByRolloverID(f.ctx, r.ID)
	}

	// WHEN: the rollover runs
	r, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverPreview), finance.RequestContext{UserID: "u1"})

	// THEN: every phase succeeded and the id was generated
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	assert.Equal(t, finance.DefaultCurrency, r.Currency)
	assert.Equal(t, 1, f.financial.calls)
	assert.Equal(t, 1, f.orders.calls)

	p := f.progress(t, r.ID)
	assert.Equal(t, []finance.RolloverStatus{
		finance.RolloverSuccess, finance.RolloverSuccess, finance.RolloverSuccess, finance.RolloverSuccess,
	}, statuses(p))
	assert.Equal(t, "u1", p.Metadata.CreatedByUserID)

	// AND: the orders phase was persisted as in progress before the call
	require.NotNil(t, duringOrders)
	assert.Equal(t, finance.RolloverSuccess, duringOrders.FinancialRolloverStatus)
	assert.Equal(t, finance.RolloverInProgress, duringOrders.OrdersRolloverStatus)
	assert.Equal(t, finance.RolloverInProgress, duringOrders.OverallRolloverStatus)

	stored, err := f.store.GetRollover(f.ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ledgerID, stored.LedgerID)
}

func TestRolloverLedger_FinancialFailure_StopsBeforeOrders(t *testing.T) {
	// GIVEN: a financial script that fails outright
	f := newFixture(t)
	f.financial.err = errors.New("script crashed")

	// WHEN: the rollover runs
	r, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverCommit), finance.RequestContext{})

	// THEN: the failure is returned with the rollover, orders never called
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script crashed")
	require.NotNil(t, r)
	assert.Equal(t, 0, f.orders.calls)

	p := f.progress(t, r.ID)
	assert.Equal(t, finance.RolloverError, p.FinancialRolloverStatus)
	assert.Equal(t, finance.RolloverNotStarted, p.OrdersRolloverStatus)
	assert.Equal(t, finance.RolloverError, p.OverallRolloverStatus)
}

func TestRolloverLedger_OrdersFailure(t *testing.T) {
	// GIVEN: an ordering service that answers with an error
	f := newFixture(t)
	f.orders.err = errors.New("orders unavailable")

	// WHEN: the rollover runs
	r, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverCommit), finance.RequestContext{})

	// THEN: financial stays successful, orders and overall are Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders unavailable")

	p := f.progress(t, r.ID)
	assert.Equal(t, finance.RolloverSuccess, p.FinancialRolloverStatus)
	assert.Equal(t, finance.RolloverError, p.OrdersRolloverStatus)
	assert.Equal(t, finance.RolloverError, p.OverallRolloverStatus)
}

func TestRolloverLedger_PerBudgetErrors_MarkFinancialAndOverall(t *testing.T) {
	// GIVEN: a financial script that records two failed budgets
	f := newFixture(t)
	f.financial.failed = 2

	// WHEN: the rollover runs
	r, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverPreview), finance.RequestContext{})

	// THEN: the call succeeds but the statuses reflect the error rows
	require.NoError(t, err)
	assert.Equal(t, 1, f.orders.calls)

	p := f.progress(t, r.ID)
	assert.Equal(t, finance.RolloverError, p.FinancialRolloverStatus)
	assert.Equal(t, finance.RolloverSuccess, p.OrdersRolloverStatus)
	assert.Equal(t, finance.RolloverError, p.OverallRolloverStatus)

	errs, err := f.svc.GetErrors(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, errs, 2)
}

func TestRolloverLedger_DuplicateCommit(t *testing.T) {
	// GIVEN: a committed rollover for the ledger and fiscal year
	f := newFixture(t)
	_, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverCommit), finance.RequestContext{})
	require.NoError(t, err)

	// WHEN: a second commit is attempted
	_, err = f.svc.RolloverLedger(f.ctx, request(finance.RolloverCommit), finance.RequestContext{})

	// THEN: 409 and no second saga
	require.Error(t, err)
	assert.True(t, errors.Is(err, finance.ErrConflict))
	assert.Equal(t, "uniqueLedgerFiscalYearRollover", finance.AsError(err).Code)
	assert.Equal(t, 1, f.financial.calls)

	// AND: previews are still allowed
	_, err = f.svc.RolloverLedger(f.ctx, request(finance.RolloverPreview), finance.RequestContext{})
	assert.NoError(t, err)
}

func TestRolloverLedger_NeedCloseBudgets(t *testing.T) {
	// GIVEN: two active budgets of the ledger and one of another ledger
	f := newFixture(t)
	require.NoError(t, f.store.CreateFunds(f.ctx, []finance.Fund{
		{ID: "fund-1", Code: "A", LedgerID: ledgerID},
		{ID: "fund-2", Code: "B", LedgerID: ledgerID},
		{ID: "fund-x", Code: "X", LedgerID: "other"},
	}))
	for _, fundID := range []string{"fund-1", "fund-2", "fund-x"} {
		require.NoError(t, f.store.CreateBudgets(f.ctx, []finance.Budget{{
			ID: "b-" + fundID, FundID: fundID, FiscalYearID: fy2025,
			BudgetStatus: finance.BudgetActive, Allocated: decimal.NewFromInt(10),
		}}))
	}

	// WHEN: a rollover asks to close budgets
	req := request(finance.RolloverCommit)
	req.NeedCloseBudgets = true
	r, err := f.svc.RolloverLedger(f.ctx, req, finance.RequestContext{})
	require.NoError(t, err)

	// THEN: only the ledger's budgets are closed
	closed, err := f.store.BudgetsByFundIDs(f.ctx, fy2025, []string{"fund-1", "fund-2", "fund-x"})
	require.NoError(t, err)
	require.Len(t, closed, 3)
	for _, b := range closed {
		if b.FundID == "fund-x" {
			assert.Equal(t, finance.BudgetActive, b.BudgetStatus)
			continue
		}
		assert.Equal(t, finance.BudgetClosed, b.BudgetStatus, b.FundID)
	}
	assert.Equal(t, finance.RolloverSuccess, f.progress(t, r.ID).BudgetsClosingRolloverStatus)
}

func TestRolloverLedger_Validation(t *testing.T) {
	f := newFixture(t)

	same := request(finance.RolloverCommit)
	same.ToFiscalYearID = fy2025
	noLedger := request(finance.RolloverCommit)
	noLedger.LedgerID = ""
	badType := request("Dry run")

	for code, req := range map[string]finance.LedgerFiscalYearRollover{
		"sameFiscalYear":      same,
		"missingLedgerId":     noLedger,
		"invalidRolloverType": badType,
	} {
		_, err := f.svc.RolloverLedger(f.ctx, req, finance.RequestContext{})
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, finance.ErrValidation), code)
		assert.Equal(t, code, finance.AsError(err).Code)
	}
	assert.Equal(t, 0, f.financial.calls)
}

// =============================================================================
// DELETE
// =============================================================================

func TestDeleteRollover_Success(t *testing.T) {
	// GIVEN: a finished rollover with an error row and a rollover budget
	f := newFixture(t)
	f.financial.failed = 1
	r, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverPreview), finance.RequestContext{})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateRolloverBudgets(f.ctx, []finance.RolloverBudget{{
		ID: "rb-1", LedgerRolloverID: r.ID, BudgetID: "b1", FundID: "fund-1", FiscalYearID: fy2026,
	}}))

	// WHEN: it is deleted
	require.NoError(t, f.svc.DeleteRollover(f.ctx, r.ID))

	// THEN: every row it recorded is gone
	stored, err := f.store.GetRollover(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = f.svc.GetProgress(f.ctx, r.ID)
	assert.True(t, finance.IsNotFound(err))

	errs, err := f.store.RolloverErrors(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, errs)
	budgets, err := f.store.RolloverBudgets(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, budgets)
}

func TestDeleteRollover_OrdersInProgress(t *testing.T) {
	// GIVEN: a rollover whose orders phase is still running
	f := newFixture(t)
	r, err := f.svc.RolloverLedger(f.ctx, request(finance.RolloverCommit), finance.RequestContext{})
	require.NoError(t, err)
	p := f.progress(t, r.ID)
	p.OrdersRolloverStatus = finance.RolloverInProgress
	require.NoError(t, f.store.UpdateProgress(f.ctx, *p))

	// WHEN: deletion is attempted
	err = f.svc.DeleteRollover(f.ctx, r.ID)

	// THEN: 422 and the rollover is untouched
	require.Error(t, err)
	assert.True(t, errors.Is(err, finance.ErrBusinessRule))
	assert.Equal(t, "rolloverInProgress", finance.AsError(err).Code)

	stored, err := f.store.GetRollover(f.ctx, r.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Equal(t, finance.RolloverInProgress, f.progress(t, r.ID).OrdersRolloverStatus)
}

func TestDeleteRollover_Unknown(t *testing.T) {
	f := newFixture(t)

	err := f.svc.DeleteRollover(f.ctx, "missing")

	require.Error(t, err)
	assert.True(t, finance.IsNotFound(err))
	assert.Equal(t, "rolloverProgressNotFound", finance.AsError(err).Code)
}
