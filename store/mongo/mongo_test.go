package mongo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

// newTestStore connects to BILLING_TEST_MONGO_URI and uses a throwaway
// database. Transactions need the server to run as a replica set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("BILLING_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BILLING_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "billing_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	s, err := Connect(ctx, uri, dbName)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Reset(ctx)
		s.Close(ctx)
	})
	return s
}

func TestDecimal128RoundTrip(t *testing.T) {
	for _, v := range []string{"0", "0.01", "1000", "1234.56", "-12.5", "333.33"} {
		d := decimal.RequireFromString(v)
		enc, err := toDecimal128("amount", d)
		require.NoError(t, err)
		back, err := fromDecimal128("amount", enc)
		require.NoError(t, err)
		assert.True(t, d.Equal(back), "%s came back as %s", v, back)
	}
}

func TestDecimal128_OutOfRange(t *testing.T) {
	// GIVEN: Amounts Decimal128 cannot hold
	// WHEN: Encoding them
	// THEN: An error naming the field, no panic

	for _, v := range []string{"1e7000", "1234567890123456789012345678901234.5"} {
		_, err := toDecimal128("deposit", decimal.RequireFromString(v))
		assert.ErrorContains(t, err, "deposit", v)
	}

	var enc decimalEncoder
	enc.encode("total_amount", decimal.RequireFromString("10"))
	enc.encode("paid_amount", decimal.RequireFromString("1e7000"))
	enc.encode("remaining_due", decimal.RequireFromString("1e8000"))
	assert.ErrorContains(t, enc.err, "paid_amount")
}

func installment(id string, month time.Month, amount string) billing.Installment {
	a := decimal.RequireFromString(amount)
	return billing.Installment{
		ID:              id,
		Date:            billing.NewDate(2025, month, 1),
		Amount:          a,
		AmountPaid:      decimal.Zero,
		RemainingAmount: a,
		Status:          billing.StatusBilled,
	}
}

func insertBillingWithTerms(t *testing.T, s billing.Store, id, studentID string) {
	t.Helper()
	ctx := context.Background()

	_, err := s.InsertInstallments(ctx, billing.KindDeposit, []billing.Installment{installment(id+"-dep", time.December, "100")})
	require.NoError(t, err)
	_, err = s.InsertInstallments(ctx, billing.KindTerm, []billing.Installment{
		installment(id+"-t2", time.October, "300"),
		installment(id+"-t1", time.September, "300"),
	})
	require.NoError(t, err)

	_, err = s.InsertBilling(ctx, billing.Billing{
		ID:           id,
		StudentID:    studentID,
		PayerID:      studentID,
		PayerType:    billing.PayerStudent,
		TotalAmount:  decimal.RequireFromString("700"),
		PaidAmount:   decimal.Zero,
		RemainingDue: decimal.RequireFromString("700"),
		DepositID:    id + "-dep",
		TermIDs:      []string{id + "-t1", id + "-t2"},
	})
	require.NoError(t, err)
	require.NoError(t, s.LinkInstallments(ctx, billing.KindDeposit, []string{id + "-dep"}, id))
	require.NoError(t, s.LinkInstallments(ctx, billing.KindTerm, []string{id + "-t1", id + "-t2"}, id))
}

func TestMongo_FindWithLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertBillingWithTerms(t, s, "b-1", "stu-1")

	full, err := s.FindBilling(ctx, "b-1", billing.LookupDeposit, billing.LookupTerms)
	require.NoError(t, err)
	require.NotNil(t, full)
	require.NotNil(t, full.Deposit)
	assert.Equal(t, "01-12-2025", full.Deposit.Date.String())
	require.Len(t, full.Terms, 2)
	assert.Equal(t, "b-1-t1", full.Terms[0].ID, "terms follow the stored reference order")
	assert.Equal(t, "700.00", full.TotalAmount.StringFixed(2))

	missing, err := s.FindBilling(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongo_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx billing.Store) error {
		insertBillingWithTerms(t, tx, "b-1", "stu-1")
		return errors.New("boom")
	})
	require.Error(t, err)

	n, err := s.CountBillingsByStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMongo_DeleteBillingsByStudent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertBillingWithTerms(t, s, "b-1", "stu-1")
	insertBillingWithTerms(t, s, "b-2", "stu-2")

	require.NoError(t, s.DeleteBillingsByStudent(ctx, "stu-1"))

	n, err := s.CountBillingsByStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Error(t, s.LinkInstallments(ctx, billing.KindTerm, []string{"b-1-t1"}, "b-x"))

	other, err := s.FindBilling(ctx, "b-2", billing.LookupTerms)
	require.NoError(t, err)
	assert.Len(t, other.Terms, 2)
}

func TestMongo_Catalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.SaveStudent(ctx, billing.Student{FirstName: "Ada"})
	require.NoError(t, err)
	active, err := s.SaveFinancialSupport(ctx, billing.FinancialSupport{StudentID: st.ID})
	require.NoError(t, err)
	_, err = s.SaveFinancialSupport(ctx, billing.FinancialSupport{StudentID: st.ID, Status: billing.SupportDeleted})
	require.NoError(t, err)

	got, err := s.FindStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{active.ID}, got.FinancialSupportIDs)

	typ, ok, err := s.FindPayerType(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, billing.PayerFinancialSupport, typ)

	_, err = s.SaveTerminationOfPayment(ctx, billing.TerminationOfPayment{
		ID:          "tpl-1",
		Description: "Single",
		Termination: 1,
		TermPayments: []billing.TermPayment{
			{PaymentDate: billing.NewDate(2025, time.September, 1), Percentage: decimal.RequireFromString("100")},
		},
		AdditionalCost: decimal.RequireFromString("12.5"),
	})
	require.NoError(t, err)
	tpl, err := s.FindTerminationOfPayment(ctx, "tpl-1")
	require.NoError(t, err)
	require.Len(t, tpl.TermPayments, 1)
	assert.Equal(t, "12.50", tpl.AdditionalCost.StringFixed(2))
	assert.Equal(t, "01-09-2025", tpl.TermPayments[0].PaymentDate.String())
}
