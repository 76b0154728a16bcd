package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oct1 = day(2025, time.October, 1)
	nov1 = day(2025, time.November, 1)
	dec1 = day(2025, time.December, 1)
)

// depositAndTwoTerms: deposit 500, terms 300 (Oct) + 300 (Nov), nothing paid.
func depositAndTwoTerms() Billing {
	deposit := installment("dep-1", nov1, "500", "0")
	return Billing{
		ID:           "bill-1",
		StudentID:    "stu-1",
		PayerID:      "stu-1",
		PayerType:    PayerStudent,
		TotalAmount:  dec("1100"),
		PaidAmount:   dec("0"),
		RemainingDue: dec("1100"),
		DepositID:    deposit.ID,
		TermIDs:      []string{"t-1", "t-2"},
		Deposit:      &deposit,
		Terms: []Installment{
			installment("t-1", oct1, "300", "0"),
			installment("t-2", nov1, "300", "0"),
		},
	}
}

// termsOnly: a sponsor billing with three unpaid 200 terms.
func termsOnly() Billing {
	return Billing{
		ID:           "bill-2",
		StudentID:    "stu-1",
		PayerID:      "fs-1",
		PayerType:    PayerFinancialSupport,
		TotalAmount:  dec("600"),
		PaidAmount:   dec("0"),
		RemainingDue: dec("600"),
		TermIDs:      []string{"t-a", "t-b", "t-c"},
		Terms: []Installment{
			installment("t-a", oct1, "200", "0"),
			installment("t-b", nov1, "200", "0"),
			installment("t-c", dec1, "200", "0"),
		},
	}
}

func paidDepositBilling() *Billing {
	b := depositAndTwoTerms()
	paid := installment("dep-1", nov1, "500", "500")
	b.Deposit = &paid
	b.PaidAmount = dec("500")
	b.RemainingDue = dec("600")
	return &b
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestApplyPayment_DepositFirstThenTerms(t *testing.T) {
	// GIVEN: Deposit remaining 500, terms remaining 300 and 300
	// WHEN: Paying 700
	// THEN: Deposit is paid, first term gets 200 (partial), second is untouched

	b := depositAndTwoTerms()
	res, err := ApplyPayment(b, dec("700"), nil)
	require.NoError(t, err)

	require.NotNil(t, res.Deposit)
	assert.Equal(t, StatusPaid, res.Deposit.Status)
	assertMoney(t, "500.00", res.Deposit.AmountPaid)
	assertMoney(t, "0.00", res.Deposit.RemainingAmount)

	out := res.Billing
	assertMoney(t, "200.00", out.Terms[0].AmountPaid)
	assertMoney(t, "100.00", out.Terms[0].RemainingAmount)
	assert.Equal(t, StatusPartialPaid, out.Terms[0].Status)
	assertMoney(t, "0.00", out.Terms[1].AmountPaid)
	assert.Equal(t, StatusBilled, out.Terms[1].Status)

	require.Len(t, res.Terms, 1, "only touched terms are reported")
	assert.Equal(t, "t-1", res.Terms[0].ID)

	assertMoney(t, "700.00", out.PaidAmount)
	assertMoney(t, "400.00", out.RemainingDue)
	assert.True(t, res.Dropped.IsZero())
	assertBillingConserved(t, out)

	// Caller's billing is not mutated
	assertMoney(t, "0.00", b.Deposit.AmountPaid)
	assertMoney(t, "0.00", b.Terms[0].AmountPaid)
}

func TestApplyPayment_PartialDeposit(t *testing.T) {
	b := depositAndTwoTerms()
	res, err := ApplyPayment(b, dec("120.50"), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPartialPaid, res.Deposit.Status)
	assertMoney(t, "120.50", res.Deposit.AmountPaid)
	assertMoney(t, "379.50", res.Deposit.RemainingAmount)
	assert.Empty(t, res.Terms)
	assertBillingConserved(t, res.Billing)
}

func TestApplyPayment_PaidDepositPassesThrough(t *testing.T) {
	b := *paidDepositBilling()
	res, err := ApplyPayment(b, dec("100"), nil)
	require.NoError(t, err)

	assert.Nil(t, res.Deposit, "settled deposit is not rewritten")
	assertMoney(t, "100.00", res.Billing.Terms[0].AmountPaid)
	assertMoney(t, "600.00", res.Billing.PaidAmount)
	assertMoney(t, "500.00", res.Billing.RemainingDue)
}

func TestApplyPayment_TermsInDateOrder(t *testing.T) {
	// GIVEN: Terms stored out of chronological order
	// WHEN: Paying 250
	// THEN: The earliest term is exhausted first

	b := termsOnly()
	b.Terms[0], b.Terms[2] = b.Terms[2], b.Terms[0]

	res, err := ApplyPayment(b, dec("250"), paidDepositBilling())
	require.NoError(t, err)

	byID := map[string]Installment{}
	for _, term := range res.Billing.Terms {
		byID[term.ID] = term
	}
	assert.Equal(t, StatusPaid, byID["t-a"].Status)
	assertMoney(t, "50.00", byID["t-b"].AmountPaid)
	assert.Equal(t, StatusBilled, byID["t-c"].Status)
}

func TestApplyPayment_SkipsSettledTerms(t *testing.T) {
	b := termsOnly()
	b.Terms[0] = installment("t-a", oct1, "200", "200")
	b.PaidAmount = dec("200")
	b.RemainingDue = dec("400")

	res, err := ApplyPayment(b, dec("200"), paidDepositBilling())
	require.NoError(t, err)

	require.Len(t, res.Terms, 1)
	assert.Equal(t, "t-b", res.Terms[0].ID)
	assert.Equal(t, StatusPaid, res.Terms[0].Status)
}

func TestApplyPayment_TermsOnly_NeedsPaidSiblingDeposit(t *testing.T) {
	b := termsOnly()

	// GIVEN: No deposit billing for the student
	_, err := ApplyPayment(b, dec("100"), nil)
	assert.ErrorIs(t, err, ErrMissingDepositBilling)

	// GIVEN: The sibling deposit is still partly unpaid
	unpaid := depositAndTwoTerms()
	_, err = ApplyPayment(b, dec("100"), &unpaid)
	assert.ErrorIs(t, err, ErrDepositNotYetPaid)
	assert.True(t, IsStateError(err))

	// GIVEN: The sibling deposit is settled
	res, err := ApplyPayment(b, dec("100"), paidDepositBilling())
	require.NoError(t, err)
	assertMoney(t, "100.00", res.Billing.PaidAmount)
	assert.Nil(t, res.Deposit)
}

func TestApplyPayment_UnresolvedOwnDeposit(t *testing.T) {
	b := depositAndTwoTerms()
	b.Deposit = nil

	_, err := ApplyPayment(b, dec("100"), paidDepositBilling())
	assert.ErrorIs(t, err, ErrMissingDepositBilling)
}

func TestApplyPayment_RejectsBadAmounts(t *testing.T) {
	b := depositAndTwoTerms()

	_, err := ApplyPayment(b, dec("1100.01"), nil)
	assert.ErrorIs(t, err, ErrOverpayment)

	_, err = ApplyPayment(b, dec("0"), nil)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ApplyPayment(b, dec("-5"), nil)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ApplyPayment(b, dec("10.001"), nil)
	assert.ErrorIs(t, err, ErrInvalidAmountFormat)
}

func TestApplyPayment_ExactRemainingDue(t *testing.T) {
	b := depositAndTwoTerms()
	res, err := ApplyPayment(b, dec("1100"), nil)
	require.NoError(t, err)

	assertMoney(t, "1100.00", res.Billing.PaidAmount)
	assertMoney(t, "0.00", res.Billing.RemainingDue)
	for _, term := range res.Billing.Terms {
		assert.Equal(t, StatusPaid, term.Status)
	}
	assert.True(t, res.Dropped.IsZero())
}

func TestApplyPayment_RemainderAfterLastTermIsReported(t *testing.T) {
	// GIVEN: A billing whose remaining_due overstates its open terms
	// WHEN: Paying the full remaining_due
	// THEN: The surplus is reported as dropped and no error is raised

	b := *paidDepositBilling()
	b.RemainingDue = dec("700")

	res, err := ApplyPayment(b, dec("700"), nil)
	require.NoError(t, err)
	assertMoney(t, "100.00", res.Dropped)
	assertMoney(t, "0.00", res.Billing.RemainingDue)
	assertMoney(t, "1100.00", res.Billing.PaidAmount, "paid_amount is capped at total")
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestRemovePayment_AfterSevenHundred(t *testing.T) {
	// GIVEN: 700 applied (deposit 500 + 200 on the first term)
	// WHEN: Removing 200
	// THEN: The first term goes back to billed, the deposit stays paid

	applied, err := ApplyPayment(depositAndTwoTerms(), dec("700"), nil)
	require.NoError(t, err)

	res, err := RemovePayment(applied.Billing, dec("200"))
	require.NoError(t, err)

	out := res.Billing
	assert.Equal(t, StatusBilled, out.Terms[0].Status)
	assertMoney(t, "0.00", out.Terms[0].AmountPaid)
	assertMoney(t, "300.00", out.Terms[0].RemainingAmount)
	assert.Equal(t, StatusPaid, out.Deposit.Status, "deposit is never reversed")
	assert.Nil(t, res.Deposit)

	assertMoney(t, "500.00", out.PaidAmount)
	assertMoney(t, "600.00", out.RemainingDue)
	assertBillingConserved(t, out)
}

func TestRemovePayment_LatestTermFirst(t *testing.T) {
	b := termsOnly()
	b.Terms[0] = installment("t-a", oct1, "200", "200")
	b.Terms[1] = installment("t-b", nov1, "200", "150")
	b.PaidAmount = dec("350")
	b.RemainingDue = dec("250")

	res, err := RemovePayment(b, dec("170"))
	require.NoError(t, err)

	require.Len(t, res.Terms, 2)
	assert.Equal(t, "t-b", res.Terms[0].ID, "most recent term is reversed first")
	assert.Equal(t, StatusBilled, res.Terms[0].Status)
	assert.Equal(t, "t-a", res.Terms[1].ID)
	assert.Equal(t, StatusPartialPaid, res.Terms[1].Status)
	assertMoney(t, "180.00", res.Terms[1].AmountPaid)
	assertMoney(t, "20.00", res.Terms[1].RemainingAmount)

	assertMoney(t, "180.00", res.Billing.PaidAmount)
	assertMoney(t, "420.00", res.Billing.RemainingDue)
}

func TestRemovePayment_DepositIsNotRemovable(t *testing.T) {
	// GIVEN: Only the deposit has been paid
	// WHEN: Removing any amount
	// THEN: ExceedsRemovableAmount, because terms hold nothing

	b := *paidDepositBilling()
	_, err := RemovePayment(b, dec("1"))
	assert.ErrorIs(t, err, ErrExceedsRemovableAmount)
}

func TestRemovePayment_RejectsBadAmounts(t *testing.T) {
	b := termsOnly()
	_, err := RemovePayment(b, dec("0"))
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = RemovePayment(b, dec("1.234"))
	assert.ErrorIs(t, err, ErrInvalidAmountFormat)
}

func TestRemovePayment_IsInverseOfApply(t *testing.T) {
	for _, amount := range []string{"0.01", "150", "200", "333.33", "600"} {
		before := termsOnly()
		before.Terms[0] = installment("t-a", oct1, "200", "50")
		before.PaidAmount = dec("50")
		before.RemainingDue = dec("550")
		if dec(amount).GreaterThan(before.RemainingDue) {
			continue
		}

		applied, err := ApplyPayment(before, dec(amount), paidDepositBilling())
		require.NoError(t, err)
		restored, err := RemovePayment(applied.Billing, dec(amount))
		require.NoError(t, err)

		require.Len(t, restored.Billing.Terms, len(before.Terms))
		for i, want := range before.Terms {
			got := restored.Billing.Terms[i]
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Status, got.Status, "amount %s, term %s", amount, want.ID)
			assertMoney(t, want.AmountPaid.String(), got.AmountPaid, "amount %s, term %s", amount, want.ID)
			assertMoney(t, want.RemainingAmount.String(), got.RemainingAmount, "amount %s, term %s", amount, want.ID)
		}
		assertMoney(t, "50.00", restored.Billing.PaidAmount)
		assertMoney(t, "550.00", restored.Billing.RemainingDue)
	}
}

func TestPaymentSequence_Conservation(t *testing.T) {
	ops := []struct {
		add    bool
		amount string
	}{
		{true, "250"},
		{true, "400"},
		{false, "100"},
		{true, "450"},
		{false, "500"},
		{true, "0.01"},
		{true, "599.99"},
	}

	b := depositAndTwoTerms()
	for i, op := range ops {
		var res PaymentResult
		var err error
		if op.add {
			res, err = ApplyPayment(b, dec(op.amount), nil)
		} else {
			res, err = RemovePayment(b, dec(op.amount))
		}
		require.NoError(t, err, "op %d", i)
		b = res.Billing
		assertBillingConserved(t, b)
	}

	assertMoney(t, "1100.00", b.PaidAmount)
	assertMoney(t, "0.00", b.RemainingDue)
}
