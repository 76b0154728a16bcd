package billing

import "github.com/shopspring/decimal"

// Apportion splits amount across payers by cost coverage. The result has one
// share per payer, in payer order, and always sums to RoundMoney(amount):
// the rounding remainder is added to the last payer's share.
//
// Coverage summing to 100 is the validator's job; it is not re-checked here.
func Apportion(payers []Payer, amount decimal.Decimal) []decimal.Decimal {
	if len(payers) == 0 {
		return nil
	}

	total := RoundMoney(amount)
	shares := make([]decimal.Decimal, len(payers))
	for i, p := range payers {
		shares[i] = Percent(total, p.CostCoverage)
	}

	if diff := total.Sub(sumMoney(shares)); !diff.IsZero() {
		shares[len(shares)-1] = shares[len(shares)-1].Add(diff)
	}
	return shares
}
