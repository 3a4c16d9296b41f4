package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/finance-ledger/batch"
	"github.com/warp/finance-ledger/finance"
)

func TestSanityChecks(t *testing.T) {
	validPayment := payment("pay-1", "10", "")

	noPO := encumbrance("enc-1", "10", finance.EncumbranceUnreleased)
	noPO.Encumbrance.SourcePurchaseOrderID = ""

	negative := payment("pay-2", "-1", "")

	noInvoice := payment("pay-3", "1", "")
	noInvoice.SourceInvoiceID = ""

	noFY := payment("pay-4", "1", "")
	noFY.FiscalYearID = ""

	zeroAlloc := finance.Transaction{ID: "a-1", TransactionType: finance.TxAllocation, FiscalYearID: fy1, ToFundID: fund1}

	cases := []struct {
		name  string
		batch finance.Batch
		kind  error
		code  string
	}{
		{"empty batch", finance.Batch{}, finance.ErrValidation, "emptyBatch"},
		{"missing id", finance.Batch{TransactionsToCreate: []finance.Transaction{{TransactionType: finance.TxPayment}}},
			finance.ErrValidation, "idIsRequired"},
		{"duplicate id", finance.Batch{TransactionsToCreate: []finance.Transaction{validPayment, validPayment}},
			finance.ErrValidation, "duplicateTransactionId"},
		{"empty delete id", finance.Batch{IdsOfTransactionsToDelete: []string{""}},
			finance.ErrValidation, "idIsRequired"},
		{"unknown type", finance.Batch{TransactionsToCreate: []finance.Transaction{{ID: "x", TransactionType: "Refund", FiscalYearID: fy1}}},
			finance.ErrValidation, "invalidTransactionType"},
		{"missing fiscal year", finance.Batch{TransactionsToCreate: []finance.Transaction{noFY}},
			finance.ErrValidation, "fiscalYearIdIsRequired"},
		{"encumbrance without order", finance.Batch{TransactionsToCreate: []finance.Transaction{noPO}},
			finance.ErrValidation, "missingEncumbrancePurchaseOrderId"},
		{"payment without invoice", finance.Batch{TransactionsToUpdate: []finance.Transaction{noInvoice}},
			finance.ErrValidation, "missingInvoiceId"},
		{"negative payment", finance.Batch{TransactionsToCreate: []finance.Transaction{negative}},
			finance.ErrBusinessRule, "paymentOrCreditHasNegativeAmount"},
		{"zero allocation", finance.Batch{TransactionsToCreate: []finance.Transaction{zeroAlloc}},
			finance.ErrBusinessRule, "allocationMustBePositive"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := batch.SanityChecks(&c.batch)
			requireKind(t, err, c.kind, c.code)
		})
	}
}

func TestSanityChecks_AcceptsWellFormedBatch(t *testing.T) {
	b := finance.Batch{
		TransactionsToCreate: []finance.Transaction{
			payment("pay-1", "10", "enc-1"),
			encumbrance("enc-1", "100", finance.EncumbranceUnreleased),
		},
		IdsOfTransactionsToDelete: []string{"old-1"},
	}
	assert.NoError(t, batch.SanityChecks(&b))
}

func TestGroupOf_CreditSharesPaymentGroup(t *testing.T) {
	assert.Equal(t, batch.GroupPaymentCredit, batch.GroupOf(finance.TxPayment))
	assert.Equal(t, batch.GroupPaymentCredit, batch.GroupOf(finance.TxCredit))
	assert.Equal(t, batch.GroupEncumbrance, batch.ProcessingOrder[len(batch.ProcessingOrder)-1])
}
