package batch

import (
	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// PAYMENTS AND CREDITS
// =============================================================================

// paymentCreditStrategy charges expenditures and draws down the linked
// encumbrance. A credit is a payment with the opposite sign: it lowers
// expenditures and gives the amount back to the encumbrance.
type paymentCreditStrategy struct{}

func (paymentCreditStrategy) PrepareCreatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		if tr.InvoiceCancelled {
			continue
		}
		if err := applyPaymentOrCredit(h, tr, tr.Amount); err != nil {
			return err
		}
	}
	if len(txs) > 0 {
		// A payment replaces the pending payments of its invoice.
		for _, pp := range h.LinkedPendingPayments() {
			h.AddTransactionToDelete(pp)
		}
	}
	return nil
}

func (paymentCreditStrategy) PrepareUpdatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		stored, _ := h.Existing(tr.ID)
		switch {
		case stored.InvoiceCancelled:
			tr.InvoiceCancelled = true
			tr.Amount = stored.Amount
			tr.VoidedAmount = stored.VoidedAmount
		case newlyCancelled(tr, stored):
			if err := applyPaymentOrCredit(h, tr, stored.Amount.Neg()); err != nil {
				return err
			}
			markVoided(tr, stored)
		default:
			delta := tr.Amount.Sub(stored.Amount)
			if delta.IsZero() {
				continue
			}
			if err := applyPaymentOrCredit(h, tr, delta); err != nil {
				return err
			}
		}
	}
	return nil
}

func (paymentCreditStrategy) PrepareDeletingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		stored, _ := h.Existing(tr.ID)
		if stored.InvoiceCancelled {
			continue
		}
		if err := applyPaymentOrCredit(h, tr, stored.Amount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

// applyPaymentOrCredit books a signed payment amount; a negative amount
// reverses an earlier booking.
func applyPaymentOrCredit(h *Holder, tr *finance.Transaction, amount decimal.Decimal) error {
	budget, err := budgetFor(h, tr, tr.BudgetFundID())
	if err != nil {
		return err
	}
	c := h.Currency(budget.ID)
	credit := tr.TransactionType == finance.TxCredit

	if credit {
		budget.Expenditures = c.Sub(budget.Expenditures, amount)
	} else {
		budget.Expenditures = c.Add(budget.Expenditures, amount)
	}

	enc := linkedEncumbrance(h, tr)
	if enc == nil {
		return nil
	}
	if credit {
		enc.Encumbrance.AmountCredited = c.Add(enc.Encumbrance.AmountCredited, amount)
		if unreleased(enc) {
			enc.Amount = c.Add(enc.Amount, amount)
		}
	} else {
		enc.Encumbrance.AmountExpended = c.Add(enc.Encumbrance.AmountExpended, amount)
		if unreleased(enc) {
			enc.Amount = c.Sub(enc.Amount, amount)
		}
	}
	h.AddTransactionToUpdate(enc)
	return nil
}
