package batch

import (
	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// PENDING PAYMENTS
// =============================================================================

// pendingPaymentStrategy moves money into awaitingPayment. The linked
// encumbrance keeps its own awaiting total and, while unreleased, shrinks
// by the same amount. A pending payment may also release its encumbrance.
type pendingPaymentStrategy struct{}

func (pendingPaymentStrategy) PrepareCreatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		if tr.InvoiceCancelled {
			continue
		}
		if err := applyPendingPayment(h, tr, tr.Amount); err != nil {
			return err
		}
		releaseIfRequested(h, tr)
	}
	return nil
}

func (pendingPaymentStrategy) PrepareUpdatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		stored, _ := h.Existing(tr.ID)
		switch {
		case stored.InvoiceCancelled:
			tr.InvoiceCancelled = true
			tr.Amount = stored.Amount
			tr.VoidedAmount = stored.VoidedAmount
		case newlyCancelled(tr, stored):
			if err := applyPendingPayment(h, tr, stored.Amount.Neg()); err != nil {
				return err
			}
			markVoided(tr, stored)
		default:
			if delta := tr.Amount.Sub(stored.Amount); !delta.IsZero() {
				if err := applyPendingPayment(h, tr, delta); err != nil {
					return err
				}
			}
			releaseIfRequested(h, tr)
		}
	}
	return nil
}

func (pendingPaymentStrategy) PrepareDeletingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		stored, _ := h.Existing(tr.ID)
		if stored.InvoiceCancelled {
			continue
		}
		if err := applyPendingPayment(h, &stored, stored.Amount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

func applyPendingPayment(h *Holder, tr *finance.Transaction, amount decimal.Decimal) error {
	budget, err := budgetFor(h, tr, tr.BudgetFundID())
	if err != nil {
		return err
	}
	c := h.Currency(budget.ID)
	budget.AwaitingPayment = c.Add(budget.AwaitingPayment, amount)

	enc := linkedEncumbrance(h, tr)
	if enc == nil {
		return nil
	}
	enc.Encumbrance.AmountAwaitingPayment = c.Add(enc.Encumbrance.AmountAwaitingPayment, amount)
	if unreleased(enc) {
		enc.Amount = c.Sub(enc.Amount, amount)
	}
	h.AddTransactionToUpdate(enc)
	return nil
}

func releaseIfRequested(h *Holder, tr *finance.Transaction) {
	if tr.AwaitingPayment == nil || !tr.AwaitingPayment.ReleaseEncumbrance {
		return
	}
	enc := linkedEncumbrance(h, tr)
	if enc == nil || enc.Encumbrance.Status == finance.EncumbranceReleased {
		return
	}
	enc.Encumbrance.Status = finance.EncumbranceReleased
	h.AddTransactionToUpdate(enc)
}

func linkedEncumbrance(h *Holder, tr *finance.Transaction) *finance.Transaction {
	id := LinkedEncumbranceID(tr)
	if id == "" {
		return nil
	}
	enc := h.Encumbrance(id)
	if enc == nil || enc.Encumbrance == nil {
		return nil
	}
	return enc
}
