package batch

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// STRATEGY - per transaction type, in-memory only
// =============================================================================

// Strategy mutates budgets and encumbrances held by the Holder for one
// transaction type. Strategies never perform I/O.
type Strategy interface {
	PrepareCreatingTransactions(txs []*finance.Transaction, h *Holder) error
	PrepareUpdatingTransactions(txs []*finance.Transaction, h *Holder) error
	PrepareDeletingTransactions(txs []*finance.Transaction, h *Holder) error
}

// Group is the dispatch key. Credits share the payment group.
type Group string

const (
	GroupAllocation     Group = "allocation"
	GroupTransfer       Group = "transfer"
	GroupPaymentCredit  Group = "payment-credit"
	GroupPendingPayment Group = "pending-payment"
	GroupEncumbrance    Group = "encumbrance"
)

// ProcessingOrder is fixed: allocations and transfers only move funding;
// payments and credits enroll encumbrances and superseded pending payments;
// pending payments adjust encumbrances; encumbrances are recomputed last
// because every other group may have enrolled one.
var ProcessingOrder = []Group{
	GroupAllocation,
	GroupTransfer,
	GroupPaymentCredit,
	GroupPendingPayment,
	GroupEncumbrance,
}

// GroupOf returns the dispatch group of a transaction type.
func GroupOf(t finance.TransactionType) Group {
	switch t {
	case finance.TxAllocation:
		return GroupAllocation
	case finance.TxTransfer:
		return GroupTransfer
	case finance.TxPayment, finance.TxCredit:
		return GroupPaymentCredit
	case finance.TxPendingPayment:
		return GroupPendingPayment
	case finance.TxEncumbrance:
		return GroupEncumbrance
	}
	return ""
}

// DefaultStrategies returns the strategy for every group.
func DefaultStrategies() map[Group]Strategy {
	return map[Group]Strategy{
		GroupAllocation:     newAllocationStrategy(),
		GroupTransfer:       newTransferStrategy(),
		GroupPaymentCredit:  &paymentCreditStrategy{},
		GroupPendingPayment: &pendingPaymentStrategy{},
		GroupEncumbrance:    &encumbranceStrategy{},
	}
}

// runStrategies applies every group in ProcessingOrder. Lists are re-read
// from the holder before each phase so enrollments made by earlier groups
// are picked up.
func runStrategies(h *Holder, strategies map[Group]Strategy) error {
	for _, g := range ProcessingOrder {
		s, ok := strategies[g]
		if !ok {
			return fmt.Errorf("no strategy registered for %s", g)
		}
		if err := s.PrepareCreatingTransactions(ofGroup(h.TransactionsToCreate(), g), h); err != nil {
			return err
		}
		if err := s.PrepareUpdatingTransactions(ofGroup(h.TransactionsToUpdate(), g), h); err != nil {
			return err
		}
		if err := s.PrepareDeletingTransactions(ofGroup(h.TransactionsToDelete(), g), h); err != nil {
			return err
		}
	}
	return nil
}

func ofGroup(txs []*finance.Transaction, g Group) []*finance.Transaction {
	var out []*finance.Transaction
	for _, tr := range txs {
		if GroupOf(tr.TransactionType) == g {
			out = append(out, tr)
		}
	}
	return out
}

// budgetFor returns the locked budget charged by a transaction on the given
// fund. The budget-status check has already rejected missing budgets for
// created and updated rows; deleted rows may still point at nothing.
func budgetFor(h *Holder, tr *finance.Transaction, fundID string) (*finance.Budget, error) {
	b := h.Budget(fundID, tr.FiscalYearID)
	if b == nil {
		return nil, finance.NewError(finance.ErrBusinessRule, "budgetNotFound",
			"no budget for the fund in the fiscal year",
			finance.Param("transactionId", tr.ID),
			finance.Param("fundId", fundID),
			finance.Param("fiscalYearId", tr.FiscalYearID))
	}
	return b, nil
}

// markVoided zeroes a cancelled transaction and keeps the stored amount as
// its voided amount.
func markVoided(tr *finance.Transaction, stored finance.Transaction) {
	v := stored.Amount
	tr.VoidedAmount = &v
	tr.Amount = decimal.Zero
}

// newlyCancelled reports whether an update flips invoiceCancelled to true.
func newlyCancelled(tr *finance.Transaction, stored finance.Transaction) bool {
	return tr.InvoiceCancelled && !stored.InvoiceCancelled
}

// unreleased reports whether an encumbrance still tracks a remaining amount.
func unreleased(enc *finance.Transaction) bool {
	return enc != nil && enc.Encumbrance != nil && enc.Encumbrance.Status == finance.EncumbranceUnreleased
}
