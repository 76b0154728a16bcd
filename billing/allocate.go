/*
allocate.go - Payment allocation

PURPOSE:
  Applies an incoming payment to a billing: deposit first, then terms in
  ascending date order, each obligation absorbing at most what it still owes
  and passing the overflow to the next one.

ORDER:
  1. Billing owns an unpaid deposit  -> pay the deposit, carry the remainder
  2. Billing owns no deposit         -> the sibling deposit billing of the
                                        student must be fully paid first
  3. Terms, oldest first, skipping settled ones

EXAMPLE:
  deposit remaining 500, terms remaining [300, 300], payment 700
    deposit: paid,          remainder 200
    term 1:  200/300 paid,  partial_paid, remainder 0
    term 2:  untouched

  A remainder left after the last term is reported in Dropped; with the
  amount <= remaining_due precondition it stays zero for consistent billings.

SEE ALSO:
  - reverse.go: The inverse walk over terms
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// PaymentResult is the outcome of ApplyPayment or RemovePayment. Only the
// installments whose figures changed are listed in Deposit/Terms.
type PaymentResult struct {
	Billing Billing         // billing after the operation, with deposit and terms
	Deposit *Installment    // updated deposit, nil if untouched
	Terms   []Installment   // updated terms
	Dropped decimal.Decimal // remainder no obligation could absorb
}

// payInstallment applies amount to a single installment and returns the
// updated record and the overflow. A settled installment passes the whole
// amount through untouched.
func payInstallment(inst Installment, amount decimal.Decimal) (Installment, decimal.Decimal, bool) {
	if inst.AmountPaid.Equal(inst.Amount) || inst.IsSettled() {
		return inst, amount, false
	}

	owed := inst.RemainingAmount
	if amount.Sub(owed).IsNegative() {
		inst.Status = StatusPartialPaid
	} else {
		inst.Status = StatusPaid
	}
	inst.AmountPaid = minMoney(inst.Amount, inst.AmountPaid.Add(amount))
	inst.RemainingAmount = maxZero(owed.Sub(amount))
	return inst, maxZero(amount.Sub(owed)), true
}

// PayDeposit applies amount to a deposit and returns the updated deposit and
// the remainder to carry into the terms.
func PayDeposit(deposit Installment, amount decimal.Decimal) (Installment, decimal.Decimal) {
	updated, remainder, _ := payInstallment(deposit, amount)
	return updated, remainder
}

// PayTerms applies amount across terms, which must be in ascending date
// order. It returns every term (updated in place), the changed ones, and
// the remainder left after the last term.
func PayTerms(terms []Installment, amount decimal.Decimal) ([]Installment, []Installment, decimal.Decimal) {
	out := append([]Installment(nil), terms...)
	var changed []Installment
	remainder := amount

	for i := range out {
		if !remainder.IsPositive() {
			break
		}
		if out[i].IsSettled() {
			continue
		}
		var touched bool
		out[i], remainder, touched = payInstallment(out[i], remainder)
		if touched {
			changed = append(changed, out[i])
		}
	}
	return out, changed, remainder
}

// ApplyPayment applies amount to b. b must be loaded with its deposit and
// terms. When b owns no deposit, depositBilling is the student's
// deposit-bearing billing (nil if none was found).
func ApplyPayment(b Billing, amount decimal.Decimal, depositBilling *Billing) (PaymentResult, error) {
	const op = "ApplyPayment"

	if err := validatePaymentAmount(op, amount); err != nil {
		return PaymentResult{}, err
	}
	if amount.GreaterThan(b.RemainingDue) {
		return PaymentResult{}, newError(op, ErrOverpayment,
			"amount %s exceeds remaining due %s of billing %s",
			amount.StringFixed(2), b.RemainingDue.StringFixed(2), b.ID)
	}

	out := b.Clone()
	SortByDate(out.Terms)
	result := PaymentResult{}
	remainder := amount

	switch {
	case out.Deposit != nil:
		updated, rest, touched := payInstallment(*out.Deposit, remainder)
		if touched {
			out.Deposit = &updated
			result.Deposit = &updated
		}
		remainder = rest

	case out.DepositID != "":
		return PaymentResult{}, newError(op, ErrMissingDepositBilling,
			"deposit %s of billing %s was not resolved", out.DepositID, out.ID)

	default:
		if depositBilling == nil || depositBilling.Deposit == nil {
			return PaymentResult{}, newError(op, ErrMissingDepositBilling,
				"no deposit billing found for student %s", out.StudentID)
		}
		if depositBilling.Deposit.RemainingAmount.IsPositive() {
			return PaymentResult{}, newError(op, ErrDepositNotYetPaid,
				"deposit of billing %s still has %s remaining",
				depositBilling.ID, depositBilling.Deposit.RemainingAmount.StringFixed(2))
		}
	}

	var changed []Installment
	out.Terms, changed, remainder = PayTerms(out.Terms, remainder)
	result.Terms = changed
	result.Dropped = remainder

	out.PaidAmount = minMoney(out.TotalAmount, out.PaidAmount.Add(amount))
	out.RemainingDue = maxZero(out.RemainingDue.Sub(amount))
	result.Billing = out
	return result, nil
}
