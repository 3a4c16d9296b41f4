/*
Package finance provides the domain model of the finance ledger.

PURPOSE:
  This package holds the types shared by the batch transaction engine and
  the fiscal-year rollover workflow: transactions and their encumbrance /
  awaiting-payment sub-objects, budgets, funds, ledgers and the rollover
  records. It also defines the storage interfaces (store.go), the error
  taxonomy (errors.go) and the currency-aware arithmetic (money.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: one accounting movement (allocation, transfer,
    encumbrance, pending payment, payment, credit)
  - Budget: per fund and fiscal year totals, re-derived by the engine
  - Fund / Ledger: read-only, used to resolve restriction flags
  - LedgerFiscalYearRollover and its Progress / Error rows

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, rounded per currency
  2. Explicit nullability: optional sub-objects and percentages are pointers
  3. Wire shape: JSON field names follow the storage API (camelCase)

SEE ALSO:
  - money.go: Currency and rounding
  - budget.go: Budget summary recalculation
  - store.go: Conn / DB interfaces
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxAllocation     TransactionType = "Allocation"
	TxTransfer       TransactionType = "Transfer"
	TxEncumbrance    TransactionType = "Encumbrance"
	TxPendingPayment TransactionType = "Pending payment"
	TxPayment        TransactionType = "Payment"
	TxCredit         TransactionType = "Credit"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxAllocation, TxTransfer, TxEncumbrance, TxPendingPayment, TxPayment, TxCredit:
		return true
	}
	return false
}

type EncumbranceStatus string

const (
	EncumbranceUnreleased EncumbranceStatus = "Unreleased"
	EncumbrancePending    EncumbranceStatus = "Pending"
	EncumbranceReleased   EncumbranceStatus = "Released"
)

// Encumbrance is the sub-object of an Encumbrance transaction.
type Encumbrance struct {
	InitialAmountEncumbered decimal.Decimal   `json:"initialAmountEncumbered"`
	AmountAwaitingPayment   decimal.Decimal   `json:"amountAwaitingPayment"`
	AmountExpended          decimal.Decimal   `json:"amountExpended"`
	AmountCredited          decimal.Decimal   `json:"amountCredited"`
	Status                  EncumbranceStatus `json:"status"`
	SourcePurchaseOrderID   string            `json:"sourcePurchaseOrderId,omitempty"`
	SourcePoLineID          string            `json:"sourcePoLineId,omitempty"`
}

// AwaitingPayment is the sub-object of a Pending payment transaction.
type AwaitingPayment struct {
	EncumbranceID      string `json:"encumbranceId,omitempty"`
	ReleaseEncumbrance bool   `json:"releaseEncumbrance"`
}

// Metadata carries audit information populated by the batch service.
type Metadata struct {
	CreatedDate     *time.Time `json:"createdDate,omitempty"`
	CreatedByUserID string     `json:"createdByUserId,omitempty"`
	UpdatedDate     *time.Time `json:"updatedDate,omitempty"`
	UpdatedByUserID string     `json:"updatedByUserId,omitempty"`
}

// RequestContext identifies the caller of a write for audit metadata.
type RequestContext struct {
	UserID string
	Now    time.Time
}

// Stamp returns audit metadata for a write: created fields are kept from
// prev when present, updated fields always take the caller and time.
func (rc RequestContext) Stamp(prev *Metadata) *Metadata {
	now := rc.Now
	md := &Metadata{
		CreatedDate:     &now,
		CreatedByUserID: rc.UserID,
		UpdatedDate:     &now,
		UpdatedByUserID: rc.UserID,
	}
	if prev != nil && prev.CreatedDate != nil {
		md.CreatedDate = prev.CreatedDate
		md.CreatedByUserID = prev.CreatedByUserID
	}
	return md
}

type Transaction struct {
	ID                   string           `json:"id"`
	TransactionType      TransactionType  `json:"transactionType"`
	Amount               decimal.Decimal  `json:"amount"`
	Currency             Currency         `json:"currency"`
	FiscalYearID         string           `json:"fiscalYearId"`
	FromFundID           string           `json:"fromFundId,omitempty"`
	ToFundID             string           `json:"toFundId,omitempty"`
	SourceInvoiceID      string           `json:"sourceInvoiceId,omitempty"`
	SourceInvoiceLineID  string           `json:"sourceInvoiceLineId,omitempty"`
	PaymentEncumbranceID string           `json:"paymentEncumbranceId,omitempty"`
	Encumbrance          *Encumbrance     `json:"encumbrance,omitempty"`
	AwaitingPayment      *AwaitingPayment `json:"awaitingPayment,omitempty"`
	InvoiceCancelled     bool             `json:"invoiceCancelled,omitempty"`
	VoidedAmount         *decimal.Decimal `json:"voidedAmount,omitempty"`
	Description          string           `json:"description,omitempty"`
	Metadata             *Metadata        `json:"metadata,omitempty"`
}

// Clone returns a deep copy, used to keep pre-batch snapshots untouched
// while strategies mutate the working copy.
func (t Transaction) Clone() Transaction {
	c := t
	if t.Encumbrance != nil {
		e := *t.Encumbrance
		c.Encumbrance = &e
	}
	if t.AwaitingPayment != nil {
		a := *t.AwaitingPayment
		c.AwaitingPayment = &a
	}
	if t.VoidedAmount != nil {
		v := *t.VoidedAmount
		c.VoidedAmount = &v
	}
	if t.Metadata != nil {
		m := *t.Metadata
		c.Metadata = &m
	}
	return c
}

// BudgetFundID returns the fund whose budget the transaction is charged to.
// Credits are recorded on the receiving side.
func (t *Transaction) BudgetFundID() string {
	if t.TransactionType == TxCredit && t.ToFundID != "" {
		return t.ToFundID
	}
	return t.FromFundID
}

// =============================================================================
// BUDGET / FUND / LEDGER
// =============================================================================

type BudgetStatus string

const (
	BudgetActive   BudgetStatus = "Active"
	BudgetPlanned  BudgetStatus = "Planned"
	BudgetClosed   BudgetStatus = "Closed"
	BudgetFrozen   BudgetStatus = "Frozen"
	BudgetInactive BudgetStatus = "Inactive"
)

// AcceptsTransactions reports whether transactions may be charged to a
// budget in this status.
func (s BudgetStatus) AcceptsTransactions() bool {
	return s == BudgetActive || s == BudgetPlanned
}

type Budget struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name,omitempty"`
	FundID               string           `json:"fundId"`
	FiscalYearID         string           `json:"fiscalYearId"`
	BudgetStatus         BudgetStatus     `json:"budgetStatus"`
	Allocated            decimal.Decimal  `json:"allocated"`
	Available            decimal.Decimal  `json:"available"`
	Unavailable          decimal.Decimal  `json:"unavailable"`
	Encumbered           decimal.Decimal  `json:"encumbered"`
	AwaitingPayment      decimal.Decimal  `json:"awaitingPayment"`
	Expenditures         decimal.Decimal  `json:"expenditures"`
	OverEncumbrance      decimal.Decimal  `json:"overEncumbrance"`
	OverExpended         decimal.Decimal  `json:"overExpended"`
	NetTransfers         decimal.Decimal  `json:"netTransfers"`
	// RolledOverAllocation is the part of Allocated carried in from the
	// previous fiscal year by the last rollover.
	RolledOverAllocation decimal.Decimal  `json:"rolledOverAllocation"`
	AllowableEncumbrance *decimal.Decimal `json:"allowableEncumbrance,omitempty"`
	AllowableExpenditure *decimal.Decimal `json:"allowableExpenditure,omitempty"`
	Metadata             *Metadata        `json:"metadata,omitempty"`
}

// FundFiscalYear identifies a budget by its natural key.
type FundFiscalYear struct {
	FundID       string
	FiscalYearID string
}

func (b *Budget) Key() FundFiscalYear {
	return FundFiscalYear{FundID: b.FundID, FiscalYearID: b.FiscalYearID}
}

type Fund struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	LedgerID string `json:"ledgerId"`
}

type Ledger struct {
	ID                   string `json:"id"`
	Code                 string `json:"code,omitempty"`
	RestrictEncumbrance  bool   `json:"restrictEncumbrance"`
	RestrictExpenditures bool   `json:"restrictExpenditures"`
}

// =============================================================================
// BATCH
// =============================================================================

// Batch is the body of the all-or-nothing batch endpoint.
type Batch struct {
	TransactionsToCreate      []Transaction    `json:"transactionsToCreate"`
	TransactionsToUpdate      []Transaction    `json:"transactionsToUpdate"`
	TransactionPatches        []map[string]any `json:"transactionPatches"`
	IdsOfTransactionsToDelete []string         `json:"idsOfTransactionsToDelete"`
}

// =============================================================================
// ROLLOVER
// =============================================================================

type RolloverType string

const (
	RolloverPreview RolloverType = "Preview"
	RolloverCommit  RolloverType = "Commit"
)

type RolloverStatus string

const (
	RolloverNotStarted RolloverStatus = "Not Started"
	RolloverInProgress RolloverStatus = "In Progress"
	RolloverSuccess    RolloverStatus = "Success"
	RolloverError      RolloverStatus = "Error"
)

type LedgerFiscalYearRollover struct {
	ID               string       `json:"id"`
	LedgerID         string       `json:"ledgerId"`
	FromFiscalYearID string       `json:"fromFiscalYearId"`
	ToFiscalYearID   string       `json:"toFiscalYearId"`
	RolloverType     RolloverType `json:"rolloverType"`
	NeedCloseBudgets bool         `json:"needCloseBudgets"`
	Currency         Currency     `json:"currency,omitempty"`
	Metadata         *Metadata    `json:"metadata,omitempty"`
}

type LedgerFiscalYearRolloverProgress struct {
	ID                           string         `json:"id"`
	LedgerRolloverID             string         `json:"ledgerRolloverId"`
	BudgetsClosingRolloverStatus RolloverStatus `json:"budgetsClosingRolloverStatus"`
	FinancialRolloverStatus      RolloverStatus `json:"financialRolloverStatus"`
	OrdersRolloverStatus         RolloverStatus `json:"ordersRolloverStatus"`
	OverallRolloverStatus        RolloverStatus `json:"overallRolloverStatus"`
	Metadata                     *Metadata      `json:"metadata,omitempty"`
}

type LedgerFiscalYearRolloverError struct {
	ID               string `json:"id"`
	LedgerRolloverID string `json:"ledgerRolloverId"`
	ErrorType        string `json:"errorType"`
	FailedAction     string `json:"failedAction"`
	ErrorMessage     string `json:"errorMessage"`
	Details          any    `json:"details,omitempty"`
}

// RolloverBudget is the per-budget result recorded by the financial
// rollover, for both preview and commit runs.
type RolloverBudget struct {
	ID               string          `json:"id"`
	LedgerRolloverID string          `json:"ledgerRolloverId"`
	BudgetID         string          `json:"budgetId"`
	FundID           string          `json:"fundId"`
	FiscalYearID     string          `json:"fiscalYearId"`
	Allocated        decimal.Decimal `json:"allocated"`
	Encumbered       decimal.Decimal `json:"encumbered"`
	Available        decimal.Decimal `json:"available"`
}
