package batch

import (
	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// ENCUMBRANCES
// =============================================================================

// encumbranceStrategy keeps budget.encumbered equal to the sum of its
// encumbrance amounts. It runs last so that encumbrances changed by
// payments and pending payments in the same batch are counted once.
type encumbranceStrategy struct{}

func (encumbranceStrategy) PrepareCreatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		if tr.Encumbrance != nil && tr.Encumbrance.Status == finance.EncumbranceReleased {
			tr.Amount = decimal.Zero
			continue
		}
		if err := addEncumbered(h, tr, tr.Amount); err != nil {
			return err
		}
	}
	return nil
}

// PrepareUpdatingTransactions covers both requested updates and
// encumbrances enrolled by other strategies. The status transition decides
// how the new amount is derived.
func (encumbranceStrategy) PrepareUpdatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		stored, ok := h.Existing(tr.ID)
		if !ok || tr.Encumbrance == nil {
			continue
		}
		c := h.Currency(budgetIDOf(h, tr))
		from := statusOf(&stored)
		to := tr.Encumbrance.Status

		var delta decimal.Decimal
		switch {
		case to == finance.EncumbranceReleased && from != finance.EncumbranceReleased:
			tr.Amount = decimal.Zero
			delta = stored.Amount.Neg()

		case from == finance.EncumbranceUnreleased && to == finance.EncumbrancePending:
			tr.Amount = decimal.Zero
			tr.Encumbrance.InitialAmountEncumbered = decimal.Zero
			delta = stored.Amount.Neg()

		case (from == finance.EncumbrancePending || from == finance.EncumbranceReleased) &&
			to == finance.EncumbranceUnreleased:
			tr.Amount = remainingAmount(c, tr.Encumbrance)
			delta = tr.Amount

		default:
			delta = c.Sub(tr.Amount, stored.Amount)
		}

		if delta.IsZero() {
			continue
		}
		if err := addEncumbered(h, tr, delta); err != nil {
			return err
		}
	}
	return nil
}

func (encumbranceStrategy) PrepareDeletingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		stored, _ := h.Existing(tr.ID)
		if stored.Amount.IsZero() {
			continue
		}
		if err := addEncumbered(h, &stored, stored.Amount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

// remainingAmount is what an unreleased encumbrance still holds back:
// initial - awaiting - expended + credited.
func remainingAmount(c finance.Currency, e *finance.Encumbrance) decimal.Decimal {
	amount := c.Sub(e.InitialAmountEncumbered, e.AmountAwaitingPayment)
	amount = c.Sub(amount, e.AmountExpended)
	return c.Add(amount, e.AmountCredited)
}

func addEncumbered(h *Holder, tr *finance.Transaction, amount decimal.Decimal) error {
	budget, err := budgetFor(h, tr, tr.FromFundID)
	if err != nil {
		return err
	}
	c := h.Currency(budget.ID)
	budget.Encumbered = c.Add(budget.Encumbered, amount)
	return nil
}

func budgetIDOf(h *Holder, tr *finance.Transaction) string {
	if b := h.Budget(tr.FromFundID, tr.FiscalYearID); b != nil {
		return b.ID
	}
	return ""
}

func statusOf(tr *finance.Transaction) finance.EncumbranceStatus {
	if tr.Encumbrance == nil {
		return finance.EncumbranceUnreleased
	}
	return tr.Encumbrance.Status
}
