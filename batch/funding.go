package batch

import (
	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// ALLOCATIONS AND TRANSFERS
// =============================================================================

// fundingStrategy moves money between two budgets. The from side loses the
// amount, the to side gains it. Allocations move the allocated total,
// transfers move net transfers; either side may be absent.
type fundingStrategy struct {
	field func(b *finance.Budget) *decimal.Decimal
}

type allocationStrategy struct{ fundingStrategy }
type transferStrategy struct{ fundingStrategy }

func newAllocationStrategy() *allocationStrategy {
	return &allocationStrategy{fundingStrategy{field: func(b *finance.Budget) *decimal.Decimal { return &b.Allocated }}}
}

func newTransferStrategy() *transferStrategy {
	return &transferStrategy{fundingStrategy{field: func(b *finance.Budget) *decimal.Decimal { return &b.NetTransfers }}}
}

func (s fundingStrategy) PrepareCreatingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		if err := s.move(h, tr, tr.Amount); err != nil {
			return err
		}
	}
	return nil
}

// PrepareUpdatingTransactions rejects every update: a stored allocation or
// transfer is corrected by deleting it and creating a new one.
func (s fundingStrategy) PrepareUpdatingTransactions(txs []*finance.Transaction, h *Holder) error {
	if len(txs) == 0 {
		return nil
	}
	return finance.NewError(finance.ErrValidation, "updateNotSupported",
		"allocations and transfers cannot be updated",
		finance.Param("id", txs[0].ID),
		finance.Param("transactionType", txs[0].TransactionType))
}

func (s fundingStrategy) PrepareDeletingTransactions(txs []*finance.Transaction, h *Holder) error {
	for _, tr := range txs {
		if err := s.move(h, tr, tr.Amount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

func (s fundingStrategy) move(h *Holder, tr *finance.Transaction, amount decimal.Decimal) error {
	if tr.FromFundID != "" {
		b, err := budgetFor(h, tr, tr.FromFundID)
		if err != nil {
			return err
		}
		c := h.Currency(b.ID)
		f := s.field(b)
		*f = c.Sub(*f, amount)
	}
	if tr.ToFundID != "" {
		b, err := budgetFor(h, tr, tr.ToFundID)
		if err != nil {
			return err
		}
		c := h.Currency(b.ID)
		f := s.field(b)
		*f = c.Add(*f, amount)
	}
	return nil
}
