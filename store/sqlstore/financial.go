package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// FINANCIAL ROLLOVER SCRIPT
// =============================================================================

// FinancialRollover carries a ledger's budgets and open encumbrances into
// the next fiscal year.
//
// Per source budget, in its own database transaction:
//  1. project the target budget: allocation carried over, unreleased
//     encumbrances with a remaining amount re-encumbered
//  2. record a RolloverBudget row with the projection
//  3. Commit only: create or top up the target budget and create the new
//     encumbrances
//
// Re-running after a deleted rollover is safe: the carried allocation is
// recorded on the target budget and replaced, and carried encumbrances
// have ids derived from their source, so existing ones are skipped.
//
// A budget that fails is recorded as a rollover error row and the script
// moves on; only failures outside the per-budget loop are returned.
type FinancialRollover struct {
	store  *Store
	logger *zap.Logger
}

var _ finance.FinancialRollover = (*FinancialRollover)(nil)

func NewFinancialRollover(store *Store, logger *zap.Logger) *FinancialRollover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinancialRollover{store: store, logger: logger}
}

func (f *FinancialRollover) RunFinancialRollover(ctx context.Context, r finance.LedgerFiscalYearRollover) error {
	funds, err := f.store.FundsByLedgerID(ctx, r.LedgerID)
	if err != nil {
		return fmt.Errorf("loading ledger funds: %w", err)
	}
	if len(funds) == 0 {
		return nil
	}
	fundIDs := make([]string, len(funds))
	for i, fund := range funds {
		fundIDs[i] = fund.ID
	}

	sources, err := f.store.BudgetsByFundIDs(ctx, r.FromFiscalYearID, fundIDs)
	if err != nil {
		return fmt.Errorf("loading source budgets: %w", err)
	}

	failed := 0
	for _, source := range sources {
		err := f.store.WithTx(ctx, func(conn finance.Conn) error {
			return f.rolloverBudget(ctx, conn, r, source)
		})
		if err == nil {
			continue
		}
		failed++
		f.logger.Warn("budget rollover failed",
			zap.String("ledgerRolloverId", r.ID),
			zap.String("budgetId", source.ID),
			zap.Error(err))
		if err := f.store.CreateRolloverErrors(ctx, []finance.LedgerFiscalYearRolloverError{
			budgetError(r, source, err),
		}); err != nil {
			return fmt.Errorf("recording rollover error: %w", err)
		}
	}

	f.logger.Info("financial rollover script finished",
		zap.String("ledgerRolloverId", r.ID),
		zap.Int("budgets", len(sources)),
		zap.Int("failed", failed))
	return nil
}

func (f *FinancialRollover) rolloverBudget(ctx context.Context, conn finance.Conn, r finance.LedgerFiscalYearRollover, source finance.Budget) error {
	c := r.Currency
	if c == "" {
		c = finance.DefaultCurrency
	}

	encumbrances, err := conn.EncumbrancesByFundFiscalYear(ctx, source.Key())
	if err != nil {
		return fmt.Errorf("loading encumbrances: %w", err)
	}
	var carried []finance.Transaction
	for _, enc := range encumbrances {
		if enc.Encumbrance == nil {
			return fmt.Errorf("encumbrance %s has no encumbrance details", enc.ID)
		}
		if enc.Encumbrance.Status != finance.EncumbranceUnreleased || !enc.Amount.IsPositive() {
			continue
		}
		carried = append(carried, reEncumber(r, enc))
	}
	carried, err = withoutCarried(ctx, conn, carried)
	if err != nil {
		return err
	}

	targetKey := finance.FundFiscalYear{FundID: source.FundID, FiscalYearID: r.ToFiscalYearID}
	existing, err := conn.BudgetsForUpdate(ctx, []finance.FundFiscalYear{targetKey})
	if err != nil {
		return err
	}

	var target finance.Budget
	isNew := len(existing) == 0
	if isNew {
		target = finance.Budget{
			ID:                   uuid.NewString(),
			Name:                 source.Name,
			FundID:               source.FundID,
			FiscalYearID:         r.ToFiscalYearID,
			BudgetStatus:         finance.BudgetActive,
			AllowableEncumbrance: source.AllowableEncumbrance,
			AllowableExpenditure: source.AllowableExpenditure,
			Metadata:             r.Metadata,
		}
	} else {
		target = existing[0].Clone()
	}

	// A re-run replaces the allocation carried by an earlier run.
	target.Allocated = c.Add(c.Sub(target.Allocated, target.RolledOverAllocation), source.Allocated)
	target.RolledOverAllocation = source.Allocated
	for _, enc := range carried {
		target.Encumbered = c.Add(target.Encumbered, enc.Amount)
	}
	target.Recalculate(c)

	row := finance.RolloverBudget{
		ID:               uuid.NewString(),
		LedgerRolloverID: r.ID,
		BudgetID:         target.ID,
		FundID:           target.FundID,
		FiscalYearID:     target.FiscalYearID,
		Allocated:        target.Allocated,
		Encumbered:       target.Encumbered,
		Available:        target.Available,
	}
	if err := conn.CreateRolloverBudgets(ctx, []finance.RolloverBudget{row}); err != nil {
		return err
	}

	if r.RolloverType != finance.RolloverCommit {
		return nil
	}
	if isNew {
		if err := conn.CreateBudgets(ctx, []finance.Budget{target}); err != nil {
			return err
		}
	} else if err := conn.UpdateBudgets(ctx, []finance.Budget{target}); err != nil {
		return err
	}
	if len(carried) > 0 {
		if err := conn.CreateTransactions(ctx, carried); err != nil {
			return err
		}
	}
	return nil
}

// reEncumbranceNamespace seeds the ids of carried encumbrances.
var reEncumbranceNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("finance-ledger/rollover-encumbrance"))

// reEncumbranceID is stable per source encumbrance and target fiscal year.
func reEncumbranceID(sourceID, toFiscalYearID string) string {
	return uuid.NewSHA1(reEncumbranceNamespace, []byte(sourceID+"/"+toFiscalYearID)).String()
}

// withoutCarried drops encumbrances an earlier run already created.
func withoutCarried(ctx context.Context, conn finance.Conn, carried []finance.Transaction) ([]finance.Transaction, error) {
	if len(carried) == 0 {
		return nil, nil
	}
	ids := make([]string, len(carried))
	for i, enc := range carried {
		ids[i] = enc.ID
	}
	found, err := conn.TransactionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading carried encumbrances: %w", err)
	}
	exists := make(map[string]bool, len(found))
	for _, tr := range found {
		exists[tr.ID] = true
	}
	var out []finance.Transaction
	for _, enc := range carried {
		if !exists[enc.ID] {
			out = append(out, enc)
		}
	}
	return out, nil
}

// reEncumber builds the next-year encumbrance for an open one. The new
// encumbrance starts fresh: its initial amount is what was still held back.
func reEncumber(r finance.LedgerFiscalYearRollover, enc finance.Transaction) finance.Transaction {
	return finance.Transaction{
		ID:              reEncumbranceID(enc.ID, r.ToFiscalYearID),
		TransactionType: finance.TxEncumbrance,
		Amount:          enc.Amount,
		Currency:        enc.Currency,
		FiscalYearID:    r.ToFiscalYearID,
		FromFundID:      enc.FromFundID,
		Description:     enc.Description,
		Encumbrance: &finance.Encumbrance{
			InitialAmountEncumbered: enc.Amount,
			AmountAwaitingPayment:   decimal.Zero,
			AmountExpended:          decimal.Zero,
			AmountCredited:          decimal.Zero,
			Status:                  finance.EncumbranceUnreleased,
			SourcePurchaseOrderID:   enc.Encumbrance.SourcePurchaseOrderID,
			SourcePoLineID:          enc.Encumbrance.SourcePoLineID,
		},
		Metadata: r.Metadata,
	}
}

func budgetError(r finance.LedgerFiscalYearRollover, source finance.Budget, err error) finance.LedgerFiscalYearRolloverError {
	return finance.LedgerFiscalYearRolloverError{
		ID:               uuid.NewString(),
		LedgerRolloverID: r.ID,
		ErrorType:        "Fund",
		FailedAction:     "Roll over budget",
		ErrorMessage:     err.Error(),
		Details: map[string]string{
			"fundId":   source.FundID,
			"budgetId": source.ID,
		},
	}
}
