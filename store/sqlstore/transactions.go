package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// DOCUMENT HELPERS
// =============================================================================

func queryDocs[T any](ctx context.Context, q querier, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// queryDoc returns nil when no row matches.
func queryDoc[T any](ctx context.Context, q querier, query string, args ...any) (*T, error) {
	var doc string
	err := q.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return &v, nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(b), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (c *conn) TransactionsByIDs(ctx context.Context, ids []string) ([]finance.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT document FROM transactions WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return queryDocs[finance.Transaction](ctx, c.q, query, stringArgs(ids)...)
}

func (c *conn) PendingPaymentsByInvoiceIDs(ctx context.Context, invoiceIDs []string) ([]finance.Transaction, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	query := `SELECT document FROM transactions
		WHERE transaction_type = ? AND source_invoice_id IN (` + placeholders(len(invoiceIDs)) + `)
		ORDER BY id`
	args := append([]any{string(finance.TxPendingPayment)}, stringArgs(invoiceIDs)...)
	return queryDocs[finance.Transaction](ctx, c.q, query, args...)
}

func (c *conn) PendingPaymentsByEncumbranceIDs(ctx context.Context, encumbranceIDs []string) ([]finance.Transaction, error) {
	if len(encumbranceIDs) == 0 {
		return nil, nil
	}
	query := `SELECT document FROM transactions
		WHERE transaction_type = ? AND encumbrance_id IN (` + placeholders(len(encumbranceIDs)) + `)
		ORDER BY id`
	args := append([]any{string(finance.TxPendingPayment)}, stringArgs(encumbranceIDs)...)
	return queryDocs[finance.Transaction](ctx, c.q, query, args...)
}

func (c *conn) EncumbrancesByFundFiscalYear(ctx context.Context, key finance.FundFiscalYear) ([]finance.Transaction, error) {
	query := `SELECT document FROM transactions
		WHERE transaction_type = ? AND from_fund_id = ? AND fiscal_year_id = ?
		ORDER BY id`
	return queryDocs[finance.Transaction](ctx, c.q, query,
		string(finance.TxEncumbrance), key.FundID, key.FiscalYearID)
}

func (c *conn) CreateTransactions(ctx context.Context, txs []finance.Transaction) error {
	query := `INSERT INTO transactions
		(id, transaction_type, fiscal_year_id, from_fund_id, to_fund_id, source_invoice_id, encumbrance_id, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, tr := range txs {
		doc, err := encode(tr)
		if err != nil {
			return err
		}
		_, err = c.q.ExecContext(ctx, query,
			tr.ID,
			string(tr.TransactionType),
			tr.FiscalYearID,
			nullString(tr.FromFundID),
			nullString(tr.ToFundID),
			nullString(tr.SourceInvoiceID),
			nullString(linkedEncumbrance(tr)),
			doc,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return finance.NewError(finance.ErrValidation, "transactionAlreadyExists",
					"a transaction with this id already exists", finance.Param("id", tr.ID))
			}
			return fmt.Errorf("failed to insert transaction %s: %w", tr.ID, err)
		}
	}
	return nil
}

func (c *conn) UpdateTransactions(ctx context.Context, txs []finance.Transaction) error {
	query := `UPDATE transactions SET
		fiscal_year_id = ?, from_fund_id = ?, to_fund_id = ?, source_invoice_id = ?, encumbrance_id = ?, document = ?
		WHERE id = ?`
	for _, tr := range txs {
		doc, err := encode(tr)
		if err != nil {
			return err
		}
		res, err := c.q.ExecContext(ctx, query,
			tr.FiscalYearID,
			nullString(tr.FromFundID),
			nullString(tr.ToFundID),
			nullString(tr.SourceInvoiceID),
			nullString(linkedEncumbrance(tr)),
			doc,
			tr.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update transaction %s: %w", tr.ID, err)
		}
		if err := expectRow(res, "transaction", tr.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) DeleteTransactions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM transactions WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := c.q.ExecContext(ctx, query, stringArgs(ids)...); err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}
	return nil
}

// linkedEncumbrance is the encumbrance column: set for payments, credits
// and pending payments that draw on an encumbrance.
func linkedEncumbrance(tr finance.Transaction) string {
	switch tr.TransactionType {
	case finance.TxPayment, finance.TxCredit:
		return tr.PaymentEncumbranceID
	case finance.TxPendingPayment:
		if tr.AwaitingPayment != nil {
			return tr.AwaitingPayment.EncumbranceID
		}
	}
	return ""
}

func expectRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return finance.NewError(finance.ErrNotFound, entity+"NotFound",
			entity+" does not exist", finance.Param("id", id))
	}
	return nil
}
