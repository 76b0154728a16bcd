package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Two-decimal amounts
// =============================================================================
//
// Rounding rule: half away from zero at the second decimal (decimal.Round).
// Amounts are never negative, so in practice this is half-up:
//   33.335 -> 33.34, 33.334 -> 33.33.

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds x to cents.
func RoundMoney(x decimal.Decimal) decimal.Decimal {
	return x.Round(moneyPlaces)
}

// Percent returns RoundMoney(amount * pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}

// AssertTwoDecimalPlaces fails with ErrInvalidAmountFormat when x carries more
// than two significant fractional digits. Trailing zeros do not count.
func AssertTwoDecimalPlaces(op string, x decimal.Decimal) error {
	if !x.Equal(x.Truncate(moneyPlaces)) {
		return newError(op, ErrInvalidAmountFormat,
			"amount %s has more than two decimal places", x.String())
	}
	return nil
}

// AssertNonNegative fails with ErrNegativeAmount when x < 0.
func AssertNonNegative(op string, x decimal.Decimal) error {
	if x.IsNegative() {
		return newError(op, ErrNegativeAmount, "amount %s cannot be negative", x.String())
	}
	return nil
}

// AssertPositive fails with ErrNonPositiveAmount when x <= 0.
func AssertPositive(op string, x decimal.Decimal) error {
	if !x.IsPositive() {
		return newError(op, ErrNonPositiveAmount, "amount %s must be greater than zero", x.String())
	}
	return nil
}

// validatePaymentAmount is the shared gate for AddPayment and RemovePayment.
func validatePaymentAmount(op string, x decimal.Decimal) error {
	if err := AssertTwoDecimalPlaces(op, x); err != nil {
		return err
	}
	return AssertPositive(op, x)
}

// validateFee checks a stored fee: two decimals, not negative.
func validateFee(op, field string, x decimal.Decimal) error {
	if err := AssertTwoDecimalPlaces(op, x); err != nil {
		return withReasonPrefix(err, field)
	}
	if err := AssertNonNegative(op, x); err != nil {
		return withReasonPrefix(err, field)
	}
	return nil
}

func sumMoney(xs []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, x := range xs {
		total = total.Add(x)
	}
	return total
}

func minMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxZero(x decimal.Decimal) decimal.Decimal {
	if x.IsNegative() {
		return decimal.Zero
	}
	return x
}
