package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundMoney_HalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"33.335":  "33.34",
		"33.334":  "33.33",
		"10":      "10.00",
		"0.005":   "0.01",
		"99.9949": "99.99",
	}
	for in, want := range cases {
		assert.Equal(t, want, RoundMoney(dec(in)).StringFixed(2), "RoundMoney(%s)", in)
	}
}

func TestPercent(t *testing.T) {
	assertMoney(t, "333.30", Percent(dec("1000"), dec("33.33")))
	assertMoney(t, "3.34", Percent(dec("10.01"), dec("33.33")))
	assertMoney(t, "0.00", Percent(dec("1000"), dec("0")))
}

func TestAssertTwoDecimalPlaces(t *testing.T) {
	assert.NoError(t, AssertTwoDecimalPlaces("op", dec("10.5")))
	assert.NoError(t, AssertTwoDecimalPlaces("op", dec("10.50")))
	assert.NoError(t, AssertTwoDecimalPlaces("op", dec("10.500")), "trailing zeros are not significant")
	assert.NoError(t, AssertTwoDecimalPlaces("op", dec("7")))

	err := AssertTwoDecimalPlaces("op", dec("10.505"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAmountFormat)
	assert.True(t, IsValidationError(err))
}

func TestAssertNonNegativeAndPositive(t *testing.T) {
	assert.NoError(t, AssertNonNegative("op", dec("0")))
	assert.ErrorIs(t, AssertNonNegative("op", dec("-0.01")), ErrNegativeAmount)

	assert.NoError(t, AssertPositive("op", dec("0.01")))
	assert.ErrorIs(t, AssertPositive("op", dec("0")), ErrNonPositiveAmount)
	assert.ErrorIs(t, AssertPositive("op", dec("-5")), ErrNonPositiveAmount)
}

func TestError_CarriesOperationAndReason(t *testing.T) {
	err := error(newError("AddPayment", ErrOverpayment, "amount %s exceeds %s", "10.00", "5.00"))

	assert.Equal(t, "AddPayment: overpayment: amount 10.00 exceeds 5.00", err.Error())
	assert.Equal(t, ErrOverpayment, KindOf(err))
	assert.True(t, IsStateError(err))
	assert.False(t, IsNotFound(err))

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "AddPayment", be.Op)
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := persistenceError("GenerateBilling", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")

	// Billing errors pass through untouched
	orig := newError("GenerateBilling", ErrDuplicateBilling, "student s-1")
	assert.Same(t, orig, persistenceError("GenerateBilling", orig))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("01-09-2025")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Time.Year())
	assert.Equal(t, time.September, d.Time.Month())
	assert.Equal(t, 1, d.Time.Day())
	assert.Equal(t, "01-09-2025", d.String())

	_, err = ParseDate("2025-09-01")
	assert.Error(t, err)
	_, err = ParseDate("31-02-2025")
	assert.Error(t, err)
}

func TestParsePaymentType(t *testing.T) {
	pt, ok := ParsePaymentType("my_self")
	assert.True(t, ok)
	assert.Equal(t, PaymentSelf, pt)

	pt, ok = ParsePaymentType("family")
	assert.True(t, ok)
	assert.Equal(t, PaymentFamily, pt)

	_, ok = ParsePaymentType("monthly")
	assert.False(t, ok)
}

func TestWithOp(t *testing.T) {
	inner := newError("ValidatePayers", ErrDuplicatePayer, "payer p-1 appears more than once")

	err := withOp("GenerateBilling", inner)
	assert.Equal(t, "GenerateBilling: duplicate payer: ValidatePayers: payer p-1 appears more than once", err.Error())
	assert.ErrorIs(t, err, ErrDuplicatePayer)
	assert.Equal(t, "ValidatePayers", inner.Op, "inner error is not modified")

	// Same op and plain errors pass through
	assert.Same(t, inner, withOp("ValidatePayers", inner))
	plain := errors.New("boom")
	assert.Same(t, plain, withOp("GenerateBilling", plain))
}
