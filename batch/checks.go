package batch

import "github.com/warp/finance-ledger/finance"

// =============================================================================
// SANITY CHECKS - no I/O, run before the database transaction opens
// =============================================================================

// SanityChecks validates the shape of a batch.
func SanityChecks(b *finance.Batch) error {
	if len(b.TransactionsToCreate) == 0 && len(b.TransactionsToUpdate) == 0 &&
		len(b.TransactionPatches) == 0 && len(b.IdsOfTransactionsToDelete) == 0 {
		return finance.NewError(finance.ErrValidation, "emptyBatch", "the batch is empty")
	}

	if err := checkIDs(b.TransactionsToCreate, "transactionsToCreate"); err != nil {
		return err
	}
	if err := checkIDs(b.TransactionsToUpdate, "transactionsToUpdate"); err != nil {
		return err
	}
	for _, id := range b.IdsOfTransactionsToDelete {
		if id == "" {
			return finance.NewError(finance.ErrValidation, "idIsRequired",
				"an id to delete is empty", finance.Param("field", "idsOfTransactionsToDelete"))
		}
	}

	for _, list := range [][]finance.Transaction{b.TransactionsToCreate, b.TransactionsToUpdate} {
		for i := range list {
			if err := checkTransaction(&list[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkIDs(txs []finance.Transaction, field string) error {
	seen := make(map[string]bool, len(txs))
	for _, tr := range txs {
		if tr.ID == "" {
			return finance.NewError(finance.ErrValidation, "idIsRequired",
				"every transaction must have an id", finance.Param("field", field))
		}
		if seen[tr.ID] {
			return finance.NewError(finance.ErrValidation, "duplicateTransactionId",
				"the same id appears twice", finance.Param("field", field), finance.Param("id", tr.ID))
		}
		seen[tr.ID] = true
	}
	return nil
}

func checkTransaction(tr *finance.Transaction) error {
	idParam := finance.Param("id", tr.ID)

	if !tr.TransactionType.Valid() {
		return finance.NewError(finance.ErrValidation, "invalidTransactionType",
			"unknown transaction type", idParam, finance.Param("transactionType", tr.TransactionType))
	}
	if tr.FiscalYearID == "" {
		return finance.NewError(finance.ErrValidation, "fiscalYearIdIsRequired",
			"fiscalYearId is required", idParam)
	}

	switch tr.TransactionType {
	case finance.TxEncumbrance:
		if tr.Encumbrance == nil || tr.Encumbrance.SourcePurchaseOrderID == "" {
			return finance.NewError(finance.ErrValidation, "missingEncumbrancePurchaseOrderId",
				"an encumbrance must reference a purchase order", idParam)
		}
		if tr.FromFundID == "" {
			return finance.NewError(finance.ErrValidation, "missingFundId",
				"an encumbrance must have fromFundId", idParam)
		}

	case finance.TxPendingPayment, finance.TxPayment, finance.TxCredit:
		if tr.SourceInvoiceID == "" {
			return finance.NewError(finance.ErrValidation, "missingInvoiceId",
				"an invoice transaction must reference an invoice", idParam)
		}
		if tr.BudgetFundID() == "" {
			return finance.NewError(finance.ErrValidation, "missingFundId",
				"an invoice transaction must reference a fund", idParam)
		}
		if tr.TransactionType != finance.TxPendingPayment && tr.Amount.IsNegative() {
			return finance.NewError(finance.ErrBusinessRule, "paymentOrCreditHasNegativeAmount",
				"payments and credits cannot be negative", idParam, finance.Param("amount", tr.Amount))
		}

	case finance.TxAllocation:
		if !tr.Amount.IsPositive() {
			return finance.NewError(finance.ErrBusinessRule, "allocationMustBePositive",
				"an allocation amount must be greater than zero", idParam, finance.Param("amount", tr.Amount))
		}
		if tr.FromFundID == "" && tr.ToFundID == "" {
			return finance.NewError(finance.ErrValidation, "missingFundId",
				"an allocation needs fromFundId or toFundId", idParam)
		}

	case finance.TxTransfer:
		if tr.ToFundID == "" {
			return finance.NewError(finance.ErrValidation, "missingToFundId",
				"a transfer needs toFundId", idParam)
		}
	}
	return nil
}

// =============================================================================
// POST-LOAD CHECKS
// =============================================================================

// CheckBudgetsAreActive verifies that every budget charged by a created or
// updated transaction exists and accepts transactions. Cancellations and
// releases are exempt so closed budgets can still be unwound.
func CheckBudgetsAreActive(h *Holder) error {
	check := func(tr *finance.Transaction, fundID string) error {
		if fundID == "" {
			return nil
		}
		budget := h.Budget(fundID, tr.FiscalYearID)
		if budget == nil {
			return finance.NewError(finance.ErrBusinessRule, "budgetNotFound",
				"no budget for the fund in the fiscal year",
				finance.Param("transactionId", tr.ID),
				finance.Param("fundId", fundID),
				finance.Param("fiscalYearId", tr.FiscalYearID))
		}
		if !budget.BudgetStatus.AcceptsTransactions() {
			return finance.NewError(finance.ErrBusinessRule, "budgetIsNotActiveOrPlanned",
				"the budget does not accept transactions",
				finance.Param("budgetId", budget.ID),
				finance.Param("budgetStatus", budget.BudgetStatus),
				finance.Param("transactionId", tr.ID))
		}
		return nil
	}

	for _, tr := range append(append([]*finance.Transaction{}, h.TransactionsToCreate()...), h.TransactionsToUpdate()...) {
		if exempt(h, tr) {
			continue
		}
		if tr.TransactionType == finance.TxAllocation || tr.TransactionType == finance.TxTransfer {
			if err := check(tr, tr.FromFundID); err != nil {
				return err
			}
			if err := check(tr, tr.ToFundID); err != nil {
				return err
			}
			continue
		}
		if err := check(tr, tr.BudgetFundID()); err != nil {
			return err
		}
	}
	return nil
}

func exempt(h *Holder, tr *finance.Transaction) bool {
	existing, stored := h.Existing(tr.ID)
	if !stored {
		return false
	}
	if tr.InvoiceCancelled {
		return true
	}
	return tr.TransactionType == finance.TxEncumbrance &&
		tr.Encumbrance != nil && tr.Encumbrance.Status == finance.EncumbranceReleased &&
		existing.Encumbrance != nil && existing.Encumbrance.Status != finance.EncumbranceReleased
}

// CheckRestrictedBudgets runs the restriction formulas once per budget,
// after every strategy has applied its changes. A budget is only checked
// when the guarded total grew during the batch.
func CheckRestrictedBudgets(h *Holder) error {
	for _, b := range h.Budgets() {
		before, ok := h.BudgetSnapshot(b.ID)
		if !ok {
			continue
		}
		c := h.Currency(b.ID)
		fund, _ := h.Fund(b.FundID)

		if h.RestrictedExpenditures(b.ID) {
			spent := c.Add(b.AwaitingPayment, b.Expenditures)
			spentBefore := c.Add(before.AwaitingPayment, before.Expenditures)
			if spent.GreaterThan(spentBefore) {
				if err := checkRestrictedExpenditures(b, fund, c); err != nil {
					return err
				}
			}
		}

		if h.RestrictedEncumbrance(b.ID) {
			used := c.Sum(b.Encumbered, b.AwaitingPayment, b.Expenditures)
			usedBefore := c.Sum(before.Encumbered, before.AwaitingPayment, before.Expenditures)
			if used.GreaterThan(usedBefore) {
				if err := checkRestrictedEncumbrance(b, fund, c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// remaining = (allocated + netTransfers) * (allowableExpenditure / 100)
//           - (awaitingPayment + expenditures)
func checkRestrictedExpenditures(b *finance.Budget, fund finance.Fund, c finance.Currency) error {
	funding := b.TotalFunding(c)
	limit := c.Percent(funding, *b.AllowableExpenditure)
	spent := c.Add(b.AwaitingPayment, b.Expenditures)
	remaining := c.Sub(limit, spent)
	if !remaining.IsNegative() {
		return nil
	}
	return finance.NewError(finance.ErrBusinessRule, "budgetRestrictedExpendituresError",
		"expenditure restriction exceeded",
		finance.Param("fundCode", fund.Code),
		finance.Param("budgetId", b.ID),
		finance.Param("allocated", b.Allocated),
		finance.Param("netTransfers", b.NetTransfers),
		finance.Param("allowableExpenditure", *b.AllowableExpenditure),
		finance.Param("awaitingPayment", b.AwaitingPayment),
		finance.Param("expenditures", b.Expenditures),
		finance.Param("remainingAmount", remaining))
}

// remaining = (allocated + netTransfers) * (allowableEncumbrance / 100)
//           - (encumbered + awaitingPayment + expenditures)
func checkRestrictedEncumbrance(b *finance.Budget, fund finance.Fund, c finance.Currency) error {
	funding := b.TotalFunding(c)
	limit := c.Percent(funding, *b.AllowableEncumbrance)
	used := c.Sum(b.Encumbered, b.AwaitingPayment, b.Expenditures)
	remaining := c.Sub(limit, used)
	if !remaining.IsNegative() {
		return nil
	}
	return finance.NewError(finance.ErrBusinessRule, "budgetRestrictedEncumbranceError",
		"encumbrance restriction exceeded",
		finance.Param("fundCode", fund.Code),
		finance.Param("budgetId", b.ID),
		finance.Param("allocated", b.Allocated),
		finance.Param("netTransfers", b.NetTransfers),
		finance.Param("allowableEncumbrance", *b.AllowableEncumbrance),
		finance.Param("encumbered", b.Encumbered),
		finance.Param("awaitingPayment", b.AwaitingPayment),
		finance.Param("expenditures", b.Expenditures),
		finance.Param("remainingAmount", remaining))
}
