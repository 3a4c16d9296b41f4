package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// BUDGETS
// =============================================================================

// BudgetsForUpdate reads budgets in (fund_id, fiscal_year_id) order with the
// driver's locking clause, so concurrent batches acquire locks in the same
// order.
func (c *conn) BudgetsForUpdate(ctx context.Context, keys []finance.FundFiscalYear) ([]finance.Budget, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	conds := make([]string, len(keys))
	args := make([]any, 0, 2*len(keys))
	for i, k := range keys {
		conds[i] = "(fund_id = ? AND fiscal_year_id = ?)"
		args = append(args, k.FundID, k.FiscalYearID)
	}
	query := `SELECT document FROM budgets WHERE ` + strings.Join(conds, " OR ") +
		` ORDER BY fund_id, fiscal_year_id` + c.forUpdate
	budgets, err := queryDocs[finance.Budget](ctx, c.q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock budgets: %w", err)
	}
	return budgets, nil
}

func (c *conn) BudgetsByFundIDs(ctx context.Context, fiscalYearID string, fundIDs []string) ([]finance.Budget, error) {
	if len(fundIDs) == 0 {
		return nil, nil
	}
	query := `SELECT document FROM budgets
		WHERE fiscal_year_id = ? AND fund_id IN (` + placeholders(len(fundIDs)) + `)
		ORDER BY fund_id`
	args := append([]any{fiscalYearID}, stringArgs(fundIDs)...)
	return queryDocs[finance.Budget](ctx, c.q, query, args...)
}

func (c *conn) CreateBudgets(ctx context.Context, budgets []finance.Budget) error {
	query := `INSERT INTO budgets (id, fund_id, fiscal_year_id, budget_status, document) VALUES (?, ?, ?, ?, ?)`
	for _, b := range budgets {
		doc, err := encode(b)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, query, b.ID, b.FundID, b.FiscalYearID, string(b.BudgetStatus), doc); err != nil {
			if isUniqueConstraintError(err) {
				return finance.NewError(finance.ErrConflict, "budgetAlreadyExists",
					"a budget already exists for the fund and fiscal year",
					finance.Param("fundId", b.FundID), finance.Param("fiscalYearId", b.FiscalYearID))
			}
			return fmt.Errorf("failed to insert budget %s: %w", b.ID, err)
		}
	}
	return nil
}

func (c *conn) UpdateBudgets(ctx context.Context, budgets []finance.Budget) error {
	query := `UPDATE budgets SET budget_status = ?, document = ? WHERE id = ?`
	for _, b := range budgets {
		doc, err := encode(b)
		if err != nil {
			return err
		}
		res, err := c.q.ExecContext(ctx, query, string(b.BudgetStatus), doc, b.ID)
		if err != nil {
			return fmt.Errorf("failed to update budget %s: %w", b.ID, err)
		}
		if err := expectRow(res, "budget", b.ID); err != nil {
			return err
		}
	}
	return nil
}

// CloseBudgets rewrites the status of every budget of the ledger's funds in
// the fiscal year. Both the column and the document change.
func (c *conn) CloseBudgets(ctx context.Context, ledgerID, fiscalYearID string) (int, error) {
	query := `SELECT b.document FROM budgets b
		JOIN funds f ON f.id = b.fund_id
		WHERE f.ledger_id = ? AND b.fiscal_year_id = ? AND b.budget_status <> ?
		ORDER BY b.fund_id` + c.forUpdate
	budgets, err := queryDocs[finance.Budget](ctx, c.q, query, ledgerID, fiscalYearID, string(finance.BudgetClosed))
	if err != nil {
		return 0, fmt.Errorf("failed to load budgets to close: %w", err)
	}
	for i := range budgets {
		budgets[i].BudgetStatus = finance.BudgetClosed
	}
	if err := c.UpdateBudgets(ctx, budgets); err != nil {
		return 0, err
	}
	return len(budgets), nil
}

// =============================================================================
// FUNDS AND LEDGERS
// =============================================================================

func (c *conn) FundsByIDs(ctx context.Context, ids []string) ([]finance.Fund, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT document FROM funds WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return queryDocs[finance.Fund](ctx, c.q, query, stringArgs(ids)...)
}

func (c *conn) FundsByLedgerID(ctx context.Context, ledgerID string) ([]finance.Fund, error) {
	return queryDocs[finance.Fund](ctx, c.q, `SELECT document FROM funds WHERE ledger_id = ? ORDER BY id`, ledgerID)
}

func (c *conn) CreateFunds(ctx context.Context, funds []finance.Fund) error {
	for _, f := range funds {
		doc, err := encode(f)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, `INSERT INTO funds (id, ledger_id, document) VALUES (?, ?, ?)`,
			f.ID, f.LedgerID, doc); err != nil {
			if isUniqueConstraintError(err) {
				return finance.NewError(finance.ErrConflict, "fundAlreadyExists",
					"a fund with this id already exists", finance.Param("id", f.ID))
			}
			return fmt.Errorf("failed to insert fund %s: %w", f.ID, err)
		}
	}
	return nil
}

func (c *conn) LedgersByIDs(ctx context.Context, ids []string) ([]finance.Ledger, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT document FROM ledgers WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return queryDocs[finance.Ledger](ctx, c.q, query, stringArgs(ids)...)
}

func (c *conn) CreateLedgers(ctx context.Context, ledgers []finance.Ledger) error {
	for _, l := range ledgers {
		doc, err := encode(l)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, `INSERT INTO ledgers (id, document) VALUES (?, ?)`, l.ID, doc); err != nil {
			if isUniqueConstraintError(err) {
				return finance.NewError(finance.ErrConflict, "ledgerAlreadyExists",
					"a ledger with this id already exists", finance.Param("id", l.ID))
			}
			return fmt.Errorf("failed to insert ledger %s: %w", l.ID, err)
		}
	}
	return nil
}
