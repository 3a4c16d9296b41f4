/*
store.go - Persistence interfaces for the finance ledger

PURPOSE:
  Defines the interface between the engine and the relational store.
  Every accessor takes an already-open connection (Conn): inside
  DB.WithTx that connection is a database transaction, so a whole batch or
  a whole rollover preparation commits or rolls back as one unit.

KEY INTERFACES:
  TransactionAccessor: read / batch-write transactions
  BudgetAccessor:      locking budget reads, budget writes, budget closing
  FundAccessor / LedgerAccessor: lookups, plus creation for setup
  RolloverAccessor:    rollover, progress, error and rollover-budget rows
  Conn:                all of the above on one connection
  DB:                  Conn in autocommit mode plus WithTx

LOCKING:
  BudgetsForUpdate is a locking read. Two batches touching the same
  (fund, fiscal year) budget serialize at the database; the application
  keeps no lock of its own.

COLLABORATORS:
  FinancialRollover: the budget/encumbrance recomputation script
  OrdersRollover:    the external ordering service's rollover endpoint

SEE ALSO:
  - store/sqlstore: SQLite and MySQL implementation
  - batch/holder.go: main consumer of the accessors
*/
package finance

import "context"

// =============================================================================
// ENTITY ACCESSORS
// =============================================================================

type TransactionAccessor interface {
	// TransactionsByIDs returns the transactions with the given ids; unknown
	// ids are skipped.
	TransactionsByIDs(ctx context.Context, ids []string) ([]Transaction, error)

	// PendingPaymentsByInvoiceIDs returns every pending payment recorded
	// against one of the invoices.
	PendingPaymentsByInvoiceIDs(ctx context.Context, invoiceIDs []string) ([]Transaction, error)

	// PendingPaymentsByEncumbranceIDs returns the pending payments linked to
	// one of the encumbrances.
	PendingPaymentsByEncumbranceIDs(ctx context.Context, encumbranceIDs []string) ([]Transaction, error)

	// EncumbrancesByFundFiscalYear returns the encumbrances charged to a budget.
	EncumbrancesByFundFiscalYear(ctx context.Context, key FundFiscalYear) ([]Transaction, error)

	CreateTransactions(ctx context.Context, txs []Transaction) error
	UpdateTransactions(ctx context.Context, txs []Transaction) error
	DeleteTransactions(ctx context.Context, ids []string) error
}

type BudgetAccessor interface {
	// BudgetsForUpdate reads the budgets for the given keys with a row lock
	// held until the surrounding transaction ends.
	BudgetsForUpdate(ctx context.Context, keys []FundFiscalYear) ([]Budget, error)

	// BudgetsByFundIDs returns the budgets of the funds in a fiscal year.
	BudgetsByFundIDs(ctx context.Context, fiscalYearID string, fundIDs []string) ([]Budget, error)

	CreateBudgets(ctx context.Context, budgets []Budget) error
	UpdateBudgets(ctx context.Context, budgets []Budget) error

	// CloseBudgets sets every budget of the ledger in the fiscal year to
	// Closed and returns how many rows changed.
	CloseBudgets(ctx context.Context, ledgerID, fiscalYearID string) (int, error)
}

type FundAccessor interface {
	FundsByIDs(ctx context.Context, ids []string) ([]Fund, error)
	FundsByLedgerID(ctx context.Context, ledgerID string) ([]Fund, error)
	CreateFunds(ctx context.Context, funds []Fund) error
}

type LedgerAccessor interface {
	LedgersByIDs(ctx context.Context, ids []string) ([]Ledger, error)
	CreateLedgers(ctx context.Context, ledgers []Ledger) error
}

type RolloverAccessor interface {
	CreateRollover(ctx context.Context, r LedgerFiscalYearRollover) error
	GetRollover(ctx context.Context, id string) (*LedgerFiscalYearRollover, error)
	// CommitRolloverExists reports whether a Commit rollover already exists
	// for the ledger and source fiscal year.
	CommitRolloverExists(ctx context.Context, ledgerID, fromFiscalYearID string) (bool, error)
	DeleteRollover(ctx context.Context, id string) error

	CreateProgress(ctx context.Context, p LedgerFiscalYearRolloverProgress) error
	UpdateProgress(ctx context.Context, p LedgerFiscalYearRolloverProgress) error
	GetProgressByRolloverID(ctx context.Context, rolloverID string) (*LedgerFiscalYearRolloverProgress, error)
	DeleteProgress(ctx context.Context, id string) error

	CreateRolloverErrors(ctx context.Context, errs []LedgerFiscalYearRolloverError) error
	RolloverErrors(ctx context.Context, rolloverID string) ([]LedgerFiscalYearRolloverError, error)
	CountRolloverErrors(ctx context.Context, rolloverID string) (int, error)
	DeleteRolloverErrors(ctx context.Context, rolloverID string) error

	CreateRolloverBudgets(ctx context.Context, budgets []RolloverBudget) error
	RolloverBudgets(ctx context.Context, rolloverID string) ([]RolloverBudget, error)
	DeleteRolloverBudgets(ctx context.Context, rolloverID string) error
}

// Conn is an open connection; every accessor is available on it.
type Conn interface {
	TransactionAccessor
	BudgetAccessor
	FundAccessor
	LedgerAccessor
	RolloverAccessor
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// DB is the store handle. Used directly it autocommits each call.
type DB interface {
	Conn

	// WithTx executes fn within a database transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Conn) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// FinancialRollover recomputes budgets and encumbrances for a rollover.
// It may fail outright or record per-budget failures as error rows.
type FinancialRollover interface {
	RunFinancialRollover(ctx context.Context, r LedgerFiscalYearRollover) error
}

// OrdersRollover asks the ordering subsystem to roll its orders over.
type OrdersRollover interface {
	RolloverOrders(ctx context.Context, r LedgerFiscalYearRollover) error
}
