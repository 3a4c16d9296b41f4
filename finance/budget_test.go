package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/finance-ledger/finance"
)

func TestBudget_Recalculate_WithinFunding(t *testing.T) {
	// GIVEN: allocated 100 + transfers 20, spending well below funding
	// WHEN: recalculating
	// THEN: no over-amounts, available + unavailable == funding
	b := finance.Budget{
		Allocated:       dec("100"),
		NetTransfers:    dec("20"),
		Encumbered:      dec("30"),
		AwaitingPayment: dec("10"),
		Expenditures:    dec("15"),
	}
	b.Recalculate(finance.DefaultCurrency)

	assertAmount(t, "0", b.OverExpended)
	assertAmount(t, "0", b.OverEncumbrance)
	assertAmount(t, "55", b.Unavailable)
	assertAmount(t, "65", b.Available)
	assertAmount(t, "120", b.Available.Add(b.Unavailable))
}

func TestBudget_Recalculate_OverEncumbered(t *testing.T) {
	// GIVEN: funding 100, spent 60, encumbered 70 (only 40 coverable)
	// THEN: overEncumbrance = 30, available = 0
	b := finance.Budget{
		Allocated:    dec("100"),
		Encumbered:   dec("70"),
		Expenditures: dec("60"),
	}
	b.Recalculate(finance.DefaultCurrency)

	assertAmount(t, "0", b.OverExpended)
	assertAmount(t, "30", b.OverEncumbrance)
	assertAmount(t, "100", b.Unavailable)
	assertAmount(t, "0", b.Available)
}

func TestBudget_Recalculate_OverExpended(t *testing.T) {
	// GIVEN: funding 100, awaiting 50 + expended 80, encumbered 10
	// THEN: overExpended = 30, every encumbrance is over, available = 0
	b := finance.Budget{
		Allocated:       dec("100"),
		Encumbered:      dec("10"),
		AwaitingPayment: dec("50"),
		Expenditures:    dec("80"),
	}
	b.Recalculate(finance.DefaultCurrency)

	assertAmount(t, "30", b.OverExpended)
	assertAmount(t, "10", b.OverEncumbrance)
	assertAmount(t, "100", b.Unavailable)
	assertAmount(t, "0", b.Available)
}

func TestBudget_Recalculate_InvariantHoldsForManyShapes(t *testing.T) {
	shapes := []finance.Budget{
		{Allocated: dec("0")},
		{Allocated: dec("10.01"), Encumbered: dec("3.33"), Expenditures: dec("3.33"), AwaitingPayment: dec("3.33")},
		{Allocated: dec("50"), NetTransfers: dec("-60"), Encumbered: dec("5")},
		{Allocated: dec("1000"), Expenditures: dec("-20")},
		{Allocated: dec("100"), Encumbered: dec("500"), Expenditures: dec("500")},
	}
	for i, b := range shapes {
		b.Recalculate(finance.DefaultCurrency)
		funding := b.Allocated.Add(b.NetTransfers)
		assert.True(t, funding.Equal(b.Available.Add(b.Unavailable)),
			"shape %d: available %s + unavailable %s != funding %s", i, b.Available, b.Unavailable, funding)
		assert.False(t, b.OverExpended.IsNegative(), "shape %d", i)
		assert.False(t, b.OverEncumbrance.IsNegative(), "shape %d", i)
	}
}

func TestBudget_Clone_IsDeep(t *testing.T) {
	pct := dec("90")
	b := finance.Budget{ID: "b1", AllowableExpenditure: &pct}
	c := b.Clone()
	*c.AllowableExpenditure = dec("10")
	assertAmount(t, "90", *b.AllowableExpenditure)
}

func TestBudgetStatus_AcceptsTransactions(t *testing.T) {
	assert.True(t, finance.BudgetActive.AcceptsTransactions())
	assert.True(t, finance.BudgetPlanned.AcceptsTransactions())
	assert.False(t, finance.BudgetClosed.AcceptsTransactions())
	assert.False(t, finance.BudgetFrozen.AcceptsTransactions())
	assert.False(t, finance.BudgetInactive.AcceptsTransactions())
}
