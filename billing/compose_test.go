package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func composeRequest(ps ...Payer) ComposeRequest {
	return ComposeRequest{
		StudentID:             "stu-1",
		RegistrationProfileID: "prof-1",
		Payers:                ps,
		TermPayments:          schoolYear(),
		TotalAmount:           dec("1000"),
		TermAmount:            dec("900"),
		DepositAmount:         dec("100"),
	}
}

func studentPayer(coverage string) Payer {
	return Payer{PayerID: "stu-1", CostCoverage: dec(coverage), Type: PayerStudent}
}

func sponsorPayer(id, coverage string) Payer {
	return Payer{PayerID: id, CostCoverage: dec(coverage), Type: PayerFinancialSupport}
}

func depositBillings(bs []Billing) []Billing {
	var out []Billing
	for _, b := range bs {
		if b.Deposit != nil {
			out = append(out, b)
		}
	}
	return out
}

func TestComposeBillings_SelfPay(t *testing.T) {
	// GIVEN: The student pays everything
	// WHEN: Composing billings
	// THEN: One billing holds the full deposit and the full schedule

	bs, err := ComposeBillings(composeRequest(studentPayer("100")))
	require.NoError(t, err)
	require.Len(t, bs, 1)

	b := bs[0]
	assert.Equal(t, "stu-1", b.PayerID)
	assert.Equal(t, PayerStudent, b.PayerType)
	assert.Equal(t, "prof-1", b.RegistrationProfileID)
	assertMoney(t, "1000.00", b.TotalAmount)
	assertMoney(t, "1000.00", b.RemainingDue)
	assertMoney(t, "0.00", b.PaidAmount)

	require.NotNil(t, b.Deposit)
	assertMoney(t, "100.00", b.Deposit.Amount)
	assert.Equal(t, day(2026, time.March, 1), b.Deposit.Date)
	assert.Equal(t, []string{"270.00", "270.00", "360.00"}, amounts(b.Terms))
}

func TestComposeBillings_Mixed(t *testing.T) {
	// GIVEN: Student covers 40%, a sponsor covers 60% of a 900 term amount
	// WHEN: Composing billings
	// THEN: The student's billing gets 360 of terms plus the deposit,
	//       the sponsor's billing gets 540 of terms and no deposit

	bs, err := ComposeBillings(composeRequest(studentPayer("40"), sponsorPayer("fs-1", "60")))
	require.NoError(t, err)
	require.Len(t, bs, 2)

	student, sponsor := bs[0], bs[1]

	assert.Equal(t, PayerStudent, student.PayerType)
	require.NotNil(t, student.Deposit)
	assert.Equal(t, []string{"108.00", "108.00", "144.00"}, amounts(student.Terms))
	assertMoney(t, "460.00", student.TotalAmount)
	assertMoney(t, "460.00", student.RemainingDue)

	assert.Equal(t, "fs-1", sponsor.PayerID)
	assert.Equal(t, PayerFinancialSupport, sponsor.PayerType)
	assert.Nil(t, sponsor.Deposit)
	assert.Equal(t, []string{"162.00", "162.00", "216.00"}, amounts(sponsor.Terms))
	assertMoney(t, "540.00", sponsor.TotalAmount)

	assert.Len(t, depositBillings(bs), 1)
}

func TestComposeBillings_SponsorOnly(t *testing.T) {
	// GIVEN: Two sponsors split the terms, the student pays nothing directly
	// WHEN: Composing billings
	// THEN: Each sponsor gets a term-only billing and the student still owns
	//       one deposit-only billing

	bs, err := ComposeBillings(composeRequest(sponsorPayer("fs-1", "50"), sponsorPayer("fs-2", "50")))
	require.NoError(t, err)
	require.Len(t, bs, 3)

	for _, b := range bs[:2] {
		assert.Equal(t, PayerFinancialSupport, b.PayerType)
		assert.Nil(t, b.Deposit)
		assertMoney(t, "450.00", b.TotalAmount)
		assert.Equal(t, []string{"135.00", "135.00", "180.00"}, amounts(b.Terms))
	}

	deposit := bs[2]
	assert.Equal(t, "stu-1", deposit.PayerID)
	assert.Equal(t, PayerStudent, deposit.PayerType)
	require.NotNil(t, deposit.Deposit)
	assert.Empty(t, deposit.Terms)
	assertMoney(t, "100.00", deposit.TotalAmount)

	assert.Len(t, depositBillings(bs), 1)
}

func TestComposeBillings_UnevenSplitKeepsTermTotal(t *testing.T) {
	req := composeRequest(studentPayer("33.33"), sponsorPayer("fs-1", "33.33"), sponsorPayer("fs-2", "33.34"))
	req.TermAmount = dec("10.01")
	req.TotalAmount = dec("110.01")

	bs, err := ComposeBillings(req)
	require.NoError(t, err)
	require.Len(t, bs, 3)

	terms := dec("0")
	for _, b := range bs {
		for _, term := range b.Terms {
			terms = terms.Add(term.Amount)
		}
		assertBillingConserved(t, b)
	}
	assertMoney(t, "10.01", terms)
}

func TestComposeBillings_InvalidPayerSet(t *testing.T) {
	_, err := ComposeBillings(composeRequest())
	assert.ErrorIs(t, err, ErrUnknownPayer)

	twoStudents := []Payer{studentPayer("50"), {PayerID: "stu-2", CostCoverage: dec("50"), Type: PayerStudent}}
	_, err = ComposeBillings(composeRequest(twoStudents...))
	assert.ErrorIs(t, err, ErrUnknownPayer)
}

func TestComposeBillings_EmptyTemplate(t *testing.T) {
	req := composeRequest(studentPayer("100"))
	req.TermPayments = nil

	_, err := ComposeBillings(req)
	assert.ErrorIs(t, err, ErrEmptySchedule)
}
