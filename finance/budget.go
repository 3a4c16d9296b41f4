package finance

import "github.com/shopspring/decimal"

// TotalFunding is allocated plus net transfers.
func (b *Budget) TotalFunding(c Currency) decimal.Decimal {
	return c.Add(b.Allocated, b.NetTransfers)
}

// Recalculate re-derives the summary fields from the stored totals.
//
// INVARIANT:
//   available + unavailable == allocated + netTransfers
//
// Over-amounts are whatever part of the spending cannot be covered by the
// funding, so unavailable never exceeds the funding and available never
// drops below zero unless the funding itself is negative.
func (b *Budget) Recalculate(c Currency) {
	funding := b.TotalFunding(c)
	spent := c.Add(b.AwaitingPayment, b.Expenditures)

	b.OverExpended = Max(decimal.Zero, c.Sub(spent, funding))
	coverable := Max(decimal.Zero, c.Sub(funding, spent))
	b.OverEncumbrance = Max(decimal.Zero, c.Sub(b.Encumbered, coverable))

	unavailable := c.Sum(b.Encumbered, b.AwaitingPayment, b.Expenditures)
	unavailable = c.Sub(unavailable, b.OverEncumbrance)
	b.Unavailable = c.Sub(unavailable, b.OverExpended)
	b.Available = c.Sub(funding, b.Unavailable)
}

// Clone returns a deep copy of the budget.
func (b Budget) Clone() Budget {
	c := b
	if b.AllowableEncumbrance != nil {
		v := *b.AllowableEncumbrance
		c.AllowableEncumbrance = &v
	}
	if b.AllowableExpenditure != nil {
		v := *b.AllowableExpenditure
		c.AllowableExpenditure = &v
	}
	if b.Metadata != nil {
		m := *b.Metadata
		c.Metadata = &m
	}
	return c
}
