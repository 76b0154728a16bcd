package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func termPayments(pcts ...string) []TermPayment {
	start := day(2025, time.September, 1)
	out := make([]TermPayment, len(pcts))
	for i, p := range pcts {
		out[i] = TermPayment{PaymentDate: start.AddMonths(i), Percentage: dec(p)}
	}
	return out
}

func amounts(items []Installment) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Amount.StringFixed(2)
	}
	return out
}

// =============================================================================
// SCHEDULE GENERATOR
// =============================================================================

func TestGenerateSchedule_ExactSplit(t *testing.T) {
	terms, err := GenerateSchedule(termPayments("30", "30", "40"), dec("1000"))
	require.NoError(t, err)

	assert.Equal(t, []string{"300.00", "300.00", "400.00"}, amounts(terms))
	for i, term := range terms {
		assert.Equal(t, StatusBilled, term.Status)
		assert.True(t, term.AmountPaid.IsZero())
		assert.True(t, term.RemainingAmount.Equal(term.Amount))
		assert.Equal(t, day(2025, time.September, 1).AddMonths(i), term.Date)
	}
}

func TestGenerateSchedule_RemainderGoesToLastTerm(t *testing.T) {
	// GIVEN: 10.00 split 33.33 / 33.33 / 33.34, which rounds to 3.33 each
	// WHEN: Generating the schedule
	// THEN: The missing cent lands on the last term only

	terms, err := GenerateSchedule(termPayments("33.33", "33.33", "33.34"), dec("10.00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"3.33", "3.33", "3.34"}, amounts(terms))
	last := terms[2]
	assertMoney(t, "3.34", last.RemainingAmount)
	assert.True(t, last.AmountPaid.IsZero(), "diff must not touch amount_paid")
}

func TestGenerateSchedule_RepeatingPercentages(t *testing.T) {
	terms, err := GenerateSchedule(termPayments("33.3333", "33.3333", "33.3334"), dec("100"))
	require.NoError(t, err)
	assert.Equal(t, []string{"33.33", "33.33", "33.34"}, amounts(terms))
}

func TestGenerateSchedule_SingleEntry(t *testing.T) {
	terms, err := GenerateSchedule(termPayments("100"), dec("1234.56"))
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assertMoney(t, "1234.56", terms[0].Amount)
}

func TestGenerateSchedule_EmptyFails(t *testing.T) {
	_, err := GenerateSchedule(nil, dec("1000"))
	assert.ErrorIs(t, err, ErrEmptySchedule)
}

func TestGenerateSchedule_SumInvariant(t *testing.T) {
	schedules := [][]string{
		{"100"},
		{"50", "50"},
		{"33.33", "33.33", "33.34"},
		{"10", "20", "30", "40"},
		{"12.5", "12.5", "25", "25", "25"},
		{"7.77", "7.77", "7.77", "76.69"},
	}
	totals := []string{"0.01", "1", "99.99", "1234.56", "100000.01", "333.33"}

	for _, pcts := range schedules {
		for _, total := range totals {
			terms, err := GenerateSchedule(termPayments(pcts...), dec(total))
			require.NoError(t, err)
			require.Len(t, terms, len(pcts))

			sum := decimal.Zero
			for _, term := range terms {
				sum = sum.Add(term.Amount)
				assert.True(t, term.RemainingAmount.Equal(term.Amount))
				assert.Equal(t, StatusBilled, term.Status)
			}
			assertMoney(t, total, sum, "schedule %v over %s", pcts, total)
		}
	}
}

func TestGenerateDeposit_DatedToLastTerm(t *testing.T) {
	deposit, err := GenerateDeposit(schoolYear(), dec("150"))
	require.NoError(t, err)

	assert.Equal(t, day(2026, time.March, 1), deposit.Date)
	assertMoney(t, "150.00", deposit.Amount)
	assertMoney(t, "150.00", deposit.RemainingAmount)
	assert.Equal(t, StatusBilled, deposit.Status)

	_, err = GenerateDeposit(nil, dec("150"))
	assert.ErrorIs(t, err, ErrEmptySchedule)
}

// =============================================================================
// APPORTIONER
// =============================================================================

func payers(coverages ...string) []Payer {
	out := make([]Payer, len(coverages))
	for i, c := range coverages {
		out[i] = Payer{PayerID: "p" + string(rune('1'+i)), CostCoverage: dec(c), Type: PayerFinancialSupport}
	}
	return out
}

func TestApportion_EvenCoverage(t *testing.T) {
	shares := Apportion(payers("33", "33", "34"), dec("100"))
	require.Len(t, shares, 3)
	assertMoney(t, "33.00", shares[0])
	assertMoney(t, "33.00", shares[1])
	assertMoney(t, "34.00", shares[2])
}

func TestApportion_RoundingDiffOnLastShare(t *testing.T) {
	// 10.01 * 33.33% rounds up to 3.34 twice, so the last share gives a cent back
	shares := Apportion(payers("33.33", "33.33", "33.34"), dec("10.01"))
	require.Len(t, shares, 3)
	assertMoney(t, "3.34", shares[0])
	assertMoney(t, "3.34", shares[1])
	assertMoney(t, "3.33", shares[2])
}

func TestApportion_Empty(t *testing.T) {
	assert.Nil(t, Apportion(nil, dec("100")))
}

func TestApportion_SumInvariant(t *testing.T) {
	sets := [][]string{
		{"100"},
		{"50", "50"},
		{"33.33", "33.33", "33.34"},
		{"0", "100"},
		{"12.5", "87.5"},
		{"14.29", "14.29", "14.29", "14.29", "14.28", "14.28", "14.28"},
	}
	for _, set := range sets {
		for _, amount := range []string{"0.01", "1", "100", "999.99", "12345.67"} {
			shares := Apportion(payers(set...), dec(amount))
			require.Len(t, shares, len(set))
			assertMoney(t, amount, sumMoney(shares), "coverage %v over %s", set, amount)
		}
	}
}
