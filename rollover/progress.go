package rollover

import (
	"context"
	"fmt"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// PROGRESS AND ERROR ROWS
// =============================================================================

// ProgressService reads and writes rollover progress rows on whatever
// connection it is handed: the autocommit DB during the saga, a database
// transaction during preparation and deletion.
type ProgressService struct{}

func (ProgressService) Create(ctx context.Context, conn finance.Conn, p finance.LedgerFiscalYearRolloverProgress) error {
	if err := conn.CreateProgress(ctx, p); err != nil {
		return fmt.Errorf("creating rollover progress: %w", err)
	}
	return nil
}

func (ProgressService) Update(ctx context.Context, conn finance.Conn, p finance.LedgerFiscalYearRolloverProgress) error {
	if err := conn.UpdateProgress(ctx, p); err != nil {
		return fmt.Errorf("updating rollover progress %s: %w", p.ID, err)
	}
	return nil
}

// Get returns the progress of a rollover or a not-found error.
func (ProgressService) Get(ctx context.Context, conn finance.Conn, rolloverID string) (*finance.LedgerFiscalYearRolloverProgress, error) {
	p, err := conn.GetProgressByRolloverID(ctx, rolloverID)
	if err != nil {
		return nil, fmt.Errorf("loading rollover progress: %w", err)
	}
	if p == nil {
		return nil, finance.NewError(finance.ErrNotFound, "rolloverProgressNotFound",
			"no progress recorded for the rollover", finance.Param("ledgerRolloverId", rolloverID))
	}
	return p, nil
}

// ErrorService reads the error rows the financial script and the orders
// phase leave behind.
type ErrorService struct{}

// Status is Error when any error row exists for the rollover, Success
// otherwise.
func (ErrorService) Status(ctx context.Context, conn finance.Conn, rolloverID string) (finance.RolloverStatus, error) {
	n, err := conn.CountRolloverErrors(ctx, rolloverID)
	if err != nil {
		return finance.RolloverError, fmt.Errorf("counting rollover errors: %w", err)
	}
	if n > 0 {
		return finance.RolloverError, nil
	}
	return finance.RolloverSuccess, nil
}

func (ErrorService) List(ctx context.Context, conn finance.Conn, rolloverID string) ([]finance.LedgerFiscalYearRolloverError, error) {
	errs, err := conn.RolloverErrors(ctx, rolloverID)
	if err != nil {
		return nil, fmt.Errorf("listing rollover errors: %w", err)
	}
	return errs, nil
}

// BudgetService handles the budgets a rollover touches directly.
type BudgetService struct{}

// CloseBudgets closes every budget of the ledger in the source fiscal year.
func (BudgetService) CloseBudgets(ctx context.Context, conn finance.Conn, r finance.LedgerFiscalYearRollover) (int, error) {
	n, err := conn.CloseBudgets(ctx, r.LedgerID, r.FromFiscalYearID)
	if err != nil {
		return 0, fmt.Errorf("closing budgets of ledger %s: %w", r.LedgerID, err)
	}
	return n, nil
}

func (BudgetService) List(ctx context.Context, conn finance.Conn, rolloverID string) ([]finance.RolloverBudget, error) {
	budgets, err := conn.RolloverBudgets(ctx, rolloverID)
	if err != nil {
		return nil, fmt.Errorf("listing rollover budgets: %w", err)
	}
	return budgets, nil
}
