/*
schedule.go - Term and deposit generation

PURPOSE:
  Splits an amount into dated installments according to a termination of
  payment template, so that the installments add up to the amount exactly.

ALGORITHM:
  amount[i] = Round(termTotal * percentage[i] / 100)
  diff      = termTotal - sum(amount)
  amount[last] += diff   (and remaining[last]; amount_paid stays 0)

  All rounding error lands on the last installment, so callers must pass
  term payments in chronological order.

EXAMPLE:
  1000.00 over [30%, 30%, 40%]         -> [300.00, 300.00, 400.00]
  100.00  over [33.33%, 33.33%, 33.34%] -> [33.33, 33.33, 33.34]
  100.00  over 3 x 33.333...%           -> [33.33, 33.33, 33.34]

SEE ALSO:
  - catalog.go: TerminationOfPayment.Validate enforces sum-to-100 upstream
  - compose.go: Uses the generator per payer share
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// TermPayment is one {date, percentage} entry of a template.
type TermPayment struct {
	PaymentDate Date
	Percentage  decimal.Decimal
}

// GenerateSchedule produces one billed installment per term payment whose
// amounts sum exactly to termTotal. Percentages are trusted as given.
func GenerateSchedule(termPayments []TermPayment, termTotal decimal.Decimal) ([]Installment, error) {
	const op = "GenerateSchedule"
	if len(termPayments) == 0 {
		return nil, newError(op, ErrEmptySchedule, "term payments cannot be empty")
	}

	total := RoundMoney(termTotal)
	terms := make([]Installment, len(termPayments))
	distributed := decimal.Zero
	for i, tp := range termPayments {
		amount := Percent(total, tp.Percentage)
		terms[i] = newInstallment(tp.PaymentDate, amount)
		distributed = distributed.Add(amount)
	}

	if diff := total.Sub(distributed); !diff.IsZero() {
		last := &terms[len(terms)-1]
		last.Amount = last.Amount.Add(diff)
		last.RemainingAmount = last.RemainingAmount.Add(diff)
	}
	return terms, nil
}

// GenerateDeposit produces the deposit installment. The deposit is due on
// the last term payment date of the schedule.
func GenerateDeposit(termPayments []TermPayment, deposit decimal.Decimal) (Installment, error) {
	const op = "GenerateDeposit"
	if len(termPayments) == 0 {
		return Installment{}, newError(op, ErrEmptySchedule, "term payments cannot be empty")
	}
	date := termPayments[len(termPayments)-1].PaymentDate
	return newInstallment(date, RoundMoney(deposit)), nil
}
