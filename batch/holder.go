/*
Package batch implements the all-or-nothing batch transaction engine.

PURPOSE:
  A batch mixes transactions of every type: some to create, some to update,
  some ids to delete. The engine loads everything the batch needs under
  one database transaction, validates it, lets a per-type strategy mutate
  budgets and encumbrances in memory, checks budget restrictions and then
  writes everything back in a fixed order. Any failure rolls the whole
  batch back.

KEY CONCEPTS IN THIS FILE (holder.go):
  - Holder: the single point of truth for all rows a batch touches
  - Snapshots: the pre-batch copy of every existing transaction
  - Linked rows: encumbrances referenced by payments/pending payments,
    pending payments superseded by payments on the same invoice
  - Enrollment: AddTransactionToUpdate / AddTransactionToDelete let a
    strategy pull in rows the request did not name explicitly

SEE ALSO:
  - checks.go: validation run against the holder
  - strategy.go: processing order and per-type dispatch
  - service.go: orchestration inside the database transaction
*/
package batch

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/warp/finance-ledger/finance"
)

// Holder carries every row a batch reads or writes.
type Holder struct {
	conn   finance.Conn
	logger *zap.Logger

	toCreate    []*finance.Transaction
	toUpdate    []*finance.Transaction
	toDelete    []*finance.Transaction
	idsToDelete []string

	// existing holds the pre-batch snapshot of each stored transaction
	// that is updated or deleted.
	existing map[string]finance.Transaction

	// encumbrances maps an encumbrance id to the working object the
	// strategies mutate: the request's version when the batch creates or
	// updates it, the loaded row otherwise.
	encumbrances map[string]*finance.Transaction

	linkedPendingPayments []*finance.Transaction

	funds   map[string]finance.Fund
	ledgers map[string]finance.Ledger

	budgets         []*finance.Budget
	budgetsByKey    map[finance.FundFiscalYear]*finance.Budget
	budgetSnapshots map[string]finance.Budget
	budgetCurrency  map[string]finance.Currency

	restrictedExpenditures map[string]bool
	restrictedEncumbrance  map[string]bool
}

// NewHolder prepares an empty holder bound to an open connection.
func NewHolder(conn finance.Conn, logger *zap.Logger) *Holder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Holder{
		conn:                   conn,
		logger:                 logger,
		existing:               make(map[string]finance.Transaction),
		encumbrances:           make(map[string]*finance.Transaction),
		funds:                  make(map[string]finance.Fund),
		ledgers:                make(map[string]finance.Ledger),
		budgetsByKey:           make(map[finance.FundFiscalYear]*finance.Budget),
		budgetSnapshots:        make(map[string]finance.Budget),
		budgetCurrency:         make(map[string]finance.Currency),
		restrictedExpenditures: make(map[string]bool),
		restrictedEncumbrance:  make(map[string]bool),
	}
}

// =============================================================================
// SETUP
// =============================================================================

// Setup loads everything the batch needs. It must run inside the batch's
// database transaction so the budgets stay locked until commit.
func (h *Holder) Setup(ctx context.Context, b *finance.Batch) error {
	if len(b.TransactionPatches) > 0 {
		return finance.NewError(finance.ErrUnsupported, "patchNotSupported",
			"transaction patches are not supported")
	}

	for i := range b.TransactionsToCreate {
		h.toCreate = append(h.toCreate, &b.TransactionsToCreate[i])
	}
	for i := range b.TransactionsToUpdate {
		h.toUpdate = append(h.toUpdate, &b.TransactionsToUpdate[i])
	}
	h.idsToDelete = append(h.idsToDelete, b.IdsOfTransactionsToDelete...)

	steps := []func(context.Context) error{
		h.loadTransactionsToDelete,
		h.loadExistingTransactions,
		h.loadLinkedPendingPayments,
		h.loadLinkedEncumbrances,
		h.loadFunds,
		h.loadBudgets,
		h.loadLedgers,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *Holder) loadTransactionsToDelete(ctx context.Context) error {
	if len(h.idsToDelete) == 0 {
		return nil
	}
	found, err := h.conn.TransactionsByIDs(ctx, h.idsToDelete)
	if err != nil {
		return fmt.Errorf("loading transactions to delete: %w", err)
	}
	byID := indexByID(found)

	var encumbranceIDs []string
	for _, id := range h.idsToDelete {
		tr, ok := byID[id]
		if !ok {
			return finance.NewError(finance.ErrValidation, "transactionNotFound",
				"transaction to delete does not exist", finance.Param("id", id))
		}
		h.existing[id] = tr.Clone()
		working := tr.Clone()
		h.toDelete = append(h.toDelete, &working)

		if tr.TransactionType != finance.TxEncumbrance {
			continue
		}
		// Deleting unreleased encumbrances is tolerated: maintenance scripts
		// remove them on purpose.
		if tr.Encumbrance == nil || tr.Encumbrance.Status != finance.EncumbranceReleased {
			h.logger.Warn("deleting an encumbrance that is not released",
				zap.String("encumbranceId", id))
		}
		encumbranceIDs = append(encumbranceIDs, id)
	}

	if len(encumbranceIDs) == 0 {
		return nil
	}
	linked, err := h.conn.PendingPaymentsByEncumbranceIDs(ctx, encumbranceIDs)
	if err != nil {
		return fmt.Errorf("loading pending payments linked to deleted encumbrances: %w", err)
	}
	// Linked pending payments are deleted with their encumbrance.
	for i := range linked {
		pp := linked[i]
		h.logger.Warn("deleting an encumbrance with a linked pending payment",
			zap.String("encumbranceId", LinkedEncumbranceID(&pp)),
			zap.String("pendingPaymentId", pp.ID))
		if _, ok := h.existing[pp.ID]; !ok {
			h.existing[pp.ID] = pp.Clone()
		}
		working := pp.Clone()
		h.AddTransactionToDelete(&working)
	}
	return nil
}

func (h *Holder) loadExistingTransactions(ctx context.Context) error {
	ids := make([]string, 0, len(h.toCreate)+len(h.toUpdate))
	for _, tr := range h.toCreate {
		ids = append(ids, tr.ID)
	}
	for _, tr := range h.toUpdate {
		ids = append(ids, tr.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	found, err := h.conn.TransactionsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading existing transactions: %w", err)
	}
	byID := indexByID(found)

	for _, tr := range h.toCreate {
		if _, ok := byID[tr.ID]; ok {
			return finance.NewError(finance.ErrValidation, "transactionAlreadyExists",
				"a transaction to create already exists", finance.Param("id", tr.ID))
		}
	}
	for _, tr := range h.toUpdate {
		stored, ok := byID[tr.ID]
		if !ok {
			return finance.NewError(finance.ErrValidation, "transactionNotFound",
				"a transaction to update does not exist", finance.Param("id", tr.ID))
		}
		if stored.TransactionType != tr.TransactionType {
			return finance.NewError(finance.ErrValidation, "transactionTypeChanged",
				"the type of an existing transaction cannot change",
				finance.Param("id", tr.ID),
				finance.Param("storedType", stored.TransactionType),
				finance.Param("newType", tr.TransactionType))
		}
		h.existing[tr.ID] = stored.Clone()
	}
	return nil
}

// loadLinkedEncumbrances resolves the encumbrance of every payment, credit
// and pending payment in the batch, preferring the batch's own version.
func (h *Holder) loadLinkedEncumbrances(ctx context.Context) error {
	for _, tr := range h.toCreate {
		if tr.TransactionType == finance.TxEncumbrance {
			h.encumbrances[tr.ID] = tr
		}
	}
	for _, tr := range h.toUpdate {
		if tr.TransactionType == finance.TxEncumbrance {
			h.encumbrances[tr.ID] = tr
		}
	}
	for _, tr := range h.toDelete {
		if tr.TransactionType == finance.TxEncumbrance {
			h.encumbrances[tr.ID] = tr
		}
	}

	var missing []string
	seen := make(map[string]bool)
	for _, tr := range append(h.allInBatch(), h.linkedPendingPayments...) {
		id := LinkedEncumbranceID(tr)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := h.encumbrances[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	found, err := h.conn.TransactionsByIDs(ctx, missing)
	if err != nil {
		return fmt.Errorf("loading linked encumbrances: %w", err)
	}
	for _, enc := range found {
		if enc.TransactionType != finance.TxEncumbrance {
			return finance.NewError(finance.ErrValidation, "linkedTransactionNotEncumbrance",
				"linked transaction is not an encumbrance", finance.Param("id", enc.ID))
		}
		h.existing[enc.ID] = enc.Clone()
		working := enc.Clone()
		h.encumbrances[enc.ID] = &working
	}
	for _, id := range missing {
		if _, ok := h.encumbrances[id]; !ok {
			return finance.NewError(finance.ErrValidation, "encumbranceNotFound",
				"linked encumbrance does not exist", finance.Param("encumbranceId", id))
		}
	}
	return nil
}

// loadLinkedPendingPayments finds the pending payments a new payment or
// credit supersedes.
func (h *Holder) loadLinkedPendingPayments(ctx context.Context) error {
	invoiceSet := make(map[string]bool)
	for _, tr := range h.toCreate {
		if isPaymentOrCredit(tr.TransactionType) && tr.SourceInvoiceID != "" {
			invoiceSet[tr.SourceInvoiceID] = true
		}
	}
	if len(invoiceSet) == 0 {
		return nil
	}

	found, err := h.conn.PendingPaymentsByInvoiceIDs(ctx, sortedKeys(invoiceSet))
	if err != nil {
		return fmt.Errorf("loading linked pending payments: %w", err)
	}
	for i := range found {
		if h.inBatch(found[i].ID) {
			continue
		}
		h.existing[found[i].ID] = found[i].Clone()
		working := found[i].Clone()
		h.linkedPendingPayments = append(h.linkedPendingPayments, &working)
	}
	return nil
}

func (h *Holder) loadFunds(ctx context.Context) error {
	set := make(map[string]bool)
	for _, tr := range h.allTouched() {
		if tr.FromFundID != "" {
			set[tr.FromFundID] = true
		}
		if tr.ToFundID != "" {
			set[tr.ToFundID] = true
		}
	}
	if len(set) == 0 {
		return nil
	}

	ids := sortedKeys(set)
	funds, err := h.conn.FundsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading funds: %w", err)
	}
	for _, f := range funds {
		h.funds[f.ID] = f
	}
	for _, id := range ids {
		if _, ok := h.funds[id]; !ok {
			return finance.NewError(finance.ErrValidation, "fundNotFound",
				"referenced fund does not exist", finance.Param("fundId", id))
		}
	}
	return nil
}

func (h *Holder) loadBudgets(ctx context.Context) error {
	keySet := make(map[finance.FundFiscalYear]bool)
	currency := make(map[finance.FundFiscalYear]finance.Currency)
	add := func(fundID string, tr *finance.Transaction) {
		if fundID == "" {
			return
		}
		k := finance.FundFiscalYear{FundID: fundID, FiscalYearID: tr.FiscalYearID}
		keySet[k] = true
		if _, ok := currency[k]; !ok {
			currency[k] = finance.CurrencyOf(tr)
		}
	}
	for _, tr := range h.allTouched() {
		add(tr.FromFundID, tr)
		add(tr.ToFundID, tr)
	}
	if len(keySet) == 0 {
		return nil
	}

	keys := make([]finance.FundFiscalYear, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FiscalYearID != keys[j].FiscalYearID {
			return keys[i].FiscalYearID < keys[j].FiscalYearID
		}
		return keys[i].FundID < keys[j].FundID
	})

	budgets, err := h.conn.BudgetsForUpdate(ctx, keys)
	if err != nil {
		return fmt.Errorf("loading budgets: %w", err)
	}
	for i := range budgets {
		b := budgets[i]
		h.budgets = append(h.budgets, &b)
		h.budgetsByKey[b.Key()] = &b
		h.budgetSnapshots[b.ID] = b.Clone()
		h.budgetCurrency[b.ID] = currency[b.Key()]
	}
	return nil
}

func (h *Holder) loadLedgers(ctx context.Context) error {
	set := make(map[string]bool)
	for _, f := range h.funds {
		if f.LedgerID != "" {
			set[f.LedgerID] = true
		}
	}
	if len(set) == 0 {
		return nil
	}

	ledgers, err := h.conn.LedgersByIDs(ctx, sortedKeys(set))
	if err != nil {
		return fmt.Errorf("loading ledgers: %w", err)
	}
	for _, l := range ledgers {
		h.ledgers[l.ID] = l
	}

	for _, b := range h.budgets {
		ledger, ok := h.ledgers[h.funds[b.FundID].LedgerID]
		if !ok {
			continue
		}
		h.restrictedExpenditures[b.ID] = ledger.RestrictExpenditures && b.AllowableExpenditure != nil
		h.restrictedEncumbrance[b.ID] = ledger.RestrictEncumbrance && b.AllowableEncumbrance != nil
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (h *Holder) TransactionsToCreate() []*finance.Transaction { return h.toCreate }
func (h *Holder) TransactionsToUpdate() []*finance.Transaction { return h.toUpdate }
func (h *Holder) TransactionsToDelete() []*finance.Transaction { return h.toDelete }
func (h *Holder) Budgets() []*finance.Budget                   { return h.budgets }

// IDsToDelete returns the ids of every transaction to delete, including
// the ones enrolled by strategies.
func (h *Holder) IDsToDelete() []string {
	ids := make([]string, len(h.toDelete))
	for i, tr := range h.toDelete {
		ids[i] = tr.ID
	}
	return ids
}

// Existing returns the pre-batch snapshot of a stored transaction.
func (h *Holder) Existing(id string) (finance.Transaction, bool) {
	tr, ok := h.existing[id]
	return tr, ok
}

// Encumbrance returns the working encumbrance object for an id.
func (h *Holder) Encumbrance(id string) *finance.Transaction {
	return h.encumbrances[id]
}

// LinkedPendingPayments returns the stored pending payments on the invoices
// of the batch's new payments and credits.
func (h *Holder) LinkedPendingPayments() []*finance.Transaction {
	return h.linkedPendingPayments
}

// Budget returns the locked budget for a fund and fiscal year.
func (h *Holder) Budget(fundID, fiscalYearID string) *finance.Budget {
	return h.budgetsByKey[finance.FundFiscalYear{FundID: fundID, FiscalYearID: fiscalYearID}]
}

// BudgetSnapshot returns the budget as it was loaded.
func (h *Holder) BudgetSnapshot(id string) (finance.Budget, bool) {
	b, ok := h.budgetSnapshots[id]
	return b, ok
}

// Currency returns the currency used for a budget's arithmetic.
func (h *Holder) Currency(budgetID string) finance.Currency {
	if c, ok := h.budgetCurrency[budgetID]; ok {
		return c
	}
	return finance.DefaultCurrency
}

func (h *Holder) Fund(id string) (finance.Fund, bool) {
	f, ok := h.funds[id]
	return f, ok
}

func (h *Holder) RestrictedExpenditures(budgetID string) bool { return h.restrictedExpenditures[budgetID] }
func (h *Holder) RestrictedEncumbrance(budgetID string) bool  { return h.restrictedEncumbrance[budgetID] }

// =============================================================================
// MUTATORS
// =============================================================================

// AddTransactionToUpdate enrolls a stored transaction the request did not
// name. Transactions already created, updated or deleted by the batch are
// left alone: the strategies mutate those objects in place.
func (h *Holder) AddTransactionToUpdate(tr *finance.Transaction) {
	if h.inBatch(tr.ID) {
		return
	}
	h.toUpdate = append(h.toUpdate, tr)
}

// AddTransactionToDelete enrolls a stored transaction for deletion.
func (h *Holder) AddTransactionToDelete(tr *finance.Transaction) {
	for _, d := range h.toDelete {
		if d.ID == tr.ID {
			return
		}
	}
	for i, u := range h.toUpdate {
		if u.ID == tr.ID {
			h.toUpdate = append(h.toUpdate[:i], h.toUpdate[i+1:]...)
			break
		}
	}
	h.toDelete = append(h.toDelete, tr)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Holder) inBatch(id string) bool {
	for _, list := range [][]*finance.Transaction{h.toCreate, h.toUpdate, h.toDelete} {
		for _, tr := range list {
			if tr.ID == id {
				return true
			}
		}
	}
	return false
}

func (h *Holder) allInBatch() []*finance.Transaction {
	all := make([]*finance.Transaction, 0, len(h.toCreate)+len(h.toUpdate)+len(h.toDelete))
	all = append(all, h.toCreate...)
	all = append(all, h.toUpdate...)
	all = append(all, h.toDelete...)
	return all
}

// allTouched is every transaction whose budget may change: the batch's own
// rows first, then their stored versions, linked encumbrances and pending
// payments in id order. loadBudgets takes a budget's currency from the first
// row that touches it.
func (h *Holder) allTouched() []*finance.Transaction {
	all := h.allInBatch()
	for _, id := range slices.Sorted(maps.Keys(h.existing)) {
		tr := h.existing[id]
		all = append(all, &tr)
	}
	for _, id := range slices.Sorted(maps.Keys(h.encumbrances)) {
		all = append(all, h.encumbrances[id])
	}
	all = append(all, h.linkedPendingPayments...)
	return all
}

// LinkedEncumbranceID returns the encumbrance a payment, credit or pending
// payment draws on.
func LinkedEncumbranceID(tr *finance.Transaction) string {
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

func isPaymentOrCredit(t finance.TransactionType) bool {
	return t == finance.TxPayment || t == finance.TxCredit
}

func indexByID(txs []finance.Transaction) map[string]finance.Transaction {
	m := make(map[string]finance.Transaction, len(txs))
	for _, tr := range txs {
		m[tr.ID] = tr
	}
	return m
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
