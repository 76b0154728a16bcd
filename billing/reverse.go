package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT REVERSAL - Undo term payments, latest term first
// =============================================================================
//
// Only term payments can be removed. The deposit is never touched here, so
// the removable amount is the sum of AmountPaid over the billing's terms.

// RemoveFromTerms takes amount back from terms, which must be in ascending
// date order, walking from the last term to the first. It returns every
// term, the changed ones, and whatever could not be removed.
func RemoveFromTerms(terms []Installment, amount decimal.Decimal) ([]Installment, []Installment, decimal.Decimal) {
	out := append([]Installment(nil), terms...)
	var changed []Installment
	remainder := amount

	for i := len(out) - 1; i >= 0; i-- {
		if !remainder.IsPositive() {
			break
		}
		t := out[i]
		if !t.AmountPaid.IsPositive() {
			continue
		}

		if remainder.GreaterThanOrEqual(t.AmountPaid) {
			remainder = remainder.Sub(t.AmountPaid)
			t.AmountPaid = decimal.Zero
			t.RemainingAmount = t.Amount
			t.Status = StatusBilled
		} else {
			t.AmountPaid = t.AmountPaid.Sub(remainder)
			t.RemainingAmount = t.RemainingAmount.Add(remainder)
			t.Status = StatusPartialPaid
			remainder = decimal.Zero
		}
		out[i] = t
		changed = append(changed, t)
	}
	return out, changed, remainder
}

// RemovePayment removes amount from b's terms. b must be loaded with its terms.
func RemovePayment(b Billing, amount decimal.Decimal) (PaymentResult, error) {
	const op = "RemovePayment"

	if err := validatePaymentAmount(op, amount); err != nil {
		return PaymentResult{}, err
	}

	out := b.Clone()
	SortByDate(out.Terms)

	removable := out.TermsPaid()
	if amount.GreaterThan(removable) {
		return PaymentResult{}, newError(op, ErrExceedsRemovableAmount,
			"amount %s exceeds %s paid on the terms of billing %s",
			amount.StringFixed(2), removable.StringFixed(2), out.ID)
	}

	var changed []Installment
	var left decimal.Decimal
	out.Terms, changed, left = RemoveFromTerms(out.Terms, amount)

	if amount.GreaterThanOrEqual(out.PaidAmount) {
		out.PaidAmount = decimal.Zero
		out.RemainingDue = out.TotalAmount
	} else {
		out.PaidAmount = out.PaidAmount.Sub(amount)
		out.RemainingDue = out.RemainingDue.Add(amount)
	}

	return PaymentResult{Billing: out, Terms: changed, Dropped: left}, nil
}
