package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, dec(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

func assertConserved(t *testing.T, inst Installment) {
	t.Helper()
	assert.True(t, inst.AmountPaid.Add(inst.RemainingAmount).Equal(inst.Amount),
		"installment %s: paid %s + remaining %s != amount %s",
		inst.ID, inst.AmountPaid, inst.RemainingAmount, inst.Amount)
	assert.Equal(t, StatusFor(inst.Amount, inst.RemainingAmount), inst.Status, "installment %s status", inst.ID)
}

func assertBillingConserved(t *testing.T, b Billing) {
	t.Helper()
	assert.True(t, b.PaidAmount.Add(b.RemainingDue).Equal(b.TotalAmount),
		"billing %s: paid %s + remaining %s != total %s", b.ID, b.PaidAmount, b.RemainingDue, b.TotalAmount)
	assert.False(t, b.RemainingDue.IsNegative(), "remaining_due must not be negative")
	if b.Deposit != nil {
		assertConserved(t, *b.Deposit)
	}
	for _, term := range b.Terms {
		assertConserved(t, term)
	}
}

func day(y int, m time.Month, d int) Date {
	return NewDate(y, m, d)
}

// schoolYear is a three-installment template: 30% in September, 30% in
// December, 40% in March.
func schoolYear() []TermPayment {
	return []TermPayment{
		{PaymentDate: day(2025, time.September, 1), Percentage: dec("30")},
		{PaymentDate: day(2025, time.December, 1), Percentage: dec("30")},
		{PaymentDate: day(2026, time.March, 1), Percentage: dec("40")},
	}
}

func installment(id string, date Date, amount, paid string) Installment {
	a, p := dec(amount), dec(paid)
	return Installment{
		ID:              id,
		BillingID:       "bill-1",
		Date:            date,
		Amount:          a,
		AmountPaid:      p,
		RemainingAmount: a.Sub(p),
		Status:          StatusFor(a, a.Sub(p)),
	}
}
