package sqlstore

import (
	"context"
	"fmt"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// ROLLOVERS
// =============================================================================

func (c *conn) CreateRollover(ctx context.Context, r finance.LedgerFiscalYearRollover) error {
	doc, err := encode(r)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO ledger_fiscal_year_rollovers
		(id, ledger_id, from_fiscal_year_id, rollover_type, document) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.LedgerID, r.FromFiscalYearID, string(r.RolloverType), doc)
	if err != nil {
		if isUniqueConstraintError(err) {
			return finance.NewError(finance.ErrConflict, "rolloverAlreadyExists",
				"a rollover with this id already exists", finance.Param("id", r.ID))
		}
		return fmt.Errorf("failed to insert rollover %s: %w", r.ID, err)
	}
	return nil
}

func (c *conn) GetRollover(ctx context.Context, id string) (*finance.LedgerFiscalYearRollover, error) {
	return queryDoc[finance.LedgerFiscalYearRollover](ctx, c.q,
		`SELECT document FROM ledger_fiscal_year_rollovers WHERE id = ?`, id)
}

func (c *conn) CommitRolloverExists(ctx context.Context, ledgerID, fromFiscalYearID string) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_fiscal_year_rollovers
		WHERE ledger_id = ? AND from_fiscal_year_id = ? AND rollover_type = ?`,
		ledgerID, fromFiscalYearID, string(finance.RolloverCommit)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count rollovers: %w", err)
	}
	return n > 0, nil
}

func (c *conn) DeleteRollover(ctx context.Context, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM ledger_fiscal_year_rollovers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rollover %s: %w", id, err)
	}
	return expectRow(res, "rollover", id)
}

// =============================================================================
// PROGRESS
// =============================================================================

func (c *conn) CreateProgress(ctx context.Context, p finance.LedgerFiscalYearRolloverProgress) error {
	doc, err := encode(p)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO ledger_fiscal_year_rollover_progress
		(id, ledger_rollover_id, document) VALUES (?, ?, ?)`, p.ID, p.LedgerRolloverID, doc)
	if err != nil {
		if isUniqueConstraintError(err) {
			return finance.NewError(finance.ErrConflict, "rolloverProgressAlreadyExists",
				"the rollover already has a progress record",
				finance.Param("ledgerRolloverId", p.LedgerRolloverID))
		}
		return fmt.Errorf("failed to insert rollover progress %s: %w", p.ID, err)
	}
	return nil
}

func (c *conn) UpdateProgress(ctx context.Context, p finance.LedgerFiscalYearRolloverProgress) error {
	doc, err := encode(p)
	if err != nil {
		return err
	}
	res, err := c.q.ExecContext(ctx, `UPDATE ledger_fiscal_year_rollover_progress SET document = ? WHERE id = ?`, doc, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update rollover progress %s: %w", p.ID, err)
	}
	return expectRow(res, "rolloverProgress", p.ID)
}

func (c *conn) GetProgressByRolloverID(ctx context.Context, rolloverID string) (*finance.LedgerFiscalYearRolloverProgress, error) {
	return queryDoc[finance.LedgerFiscalYearRolloverProgress](ctx, c.q,
		`SELECT document FROM ledger_fiscal_year_rollover_progress WHERE ledger_rollover_id = ?`, rolloverID)
}

func (c *conn) DeleteProgress(ctx context.Context, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM ledger_fiscal_year_rollover_progress WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rollover progress %s: %w", id, err)
	}
	return expectRow(res, "rolloverProgress", id)
}

// =============================================================================
// ERRORS AND ROLLOVER BUDGETS
// =============================================================================

func (c *conn) CreateRolloverErrors(ctx context.Context, errs []finance.LedgerFiscalYearRolloverError) error {
	for _, e := range errs {
		doc, err := encode(e)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, `INSERT INTO ledger_fiscal_year_rollover_errors
			(id, ledger_rollover_id, document) VALUES (?, ?, ?)`, e.ID, e.LedgerRolloverID, doc); err != nil {
			return fmt.Errorf("failed to insert rollover error %s: %w", e.ID, err)
		}
	}
	return nil
}

func (c *conn) RolloverErrors(ctx context.Context, rolloverID string) ([]finance.LedgerFiscalYearRolloverError, error) {
	return queryDocs[finance.LedgerFiscalYearRolloverError](ctx, c.q,
		`SELECT document FROM ledger_fiscal_year_rollover_errors WHERE ledger_rollover_id = ? ORDER BY id`, rolloverID)
}

func (c *conn) CountRolloverErrors(ctx context.Context, rolloverID string) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_fiscal_year_rollover_errors WHERE ledger_rollover_id = ?`, rolloverID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rollover errors: %w", err)
	}
	return n, nil
}

func (c *conn) DeleteRolloverErrors(ctx context.Context, rolloverID string) error {
	if _, err := c.q.ExecContext(ctx,
		`DELETE FROM ledger_fiscal_year_rollover_errors WHERE ledger_rollover_id = ?`, rolloverID); err != nil {
		return fmt.Errorf("failed to delete rollover errors: %w", err)
	}
	return nil
}

func (c *conn) CreateRolloverBudgets(ctx context.Context, budgets []finance.RolloverBudget) error {
	for _, b := range budgets {
		doc, err := encode(b)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, `INSERT INTO ledger_fiscal_year_rollover_budgets
			(id, ledger_rollover_id, document) VALUES (?, ?, ?)`, b.ID, b.LedgerRolloverID, doc); err != nil {
			return fmt.Errorf("failed to insert rollover budget %s: %w", b.ID, err)
		}
	}
	return nil
}

func (c *conn) RolloverBudgets(ctx context.Context, rolloverID string) ([]finance.RolloverBudget, error) {
	return queryDocs[finance.RolloverBudget](ctx, c.q,
		`SELECT document FROM ledger_fiscal_year_rollover_budgets WHERE ledger_rollover_id = ? ORDER BY id`, rolloverID)
}

func (c *conn) DeleteRolloverBudgets(ctx context.Context, rolloverID string) error {
	if _, err := c.q.ExecContext(ctx,
		`DELETE FROM ledger_fiscal_year_rollover_budgets WHERE ledger_rollover_id = ?`, rolloverID); err != nil {
		return fmt.Errorf("failed to delete rollover budgets: %w", err)
	}
	return nil
}
