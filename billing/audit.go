package billing

import "fmt"

// Inconsistencies lists every broken invariant of a billing loaded with
// LookupDeposit and LookupTerms. An empty result means the billing is sound.
func Inconsistencies(b Billing) []string {
	var problems []string

	if !b.PaidAmount.Add(b.RemainingDue).Equal(b.TotalAmount) {
		problems = append(problems, fmt.Sprintf("paid %s + remaining %s != total %s",
			b.PaidAmount.StringFixed(2), b.RemainingDue.StringFixed(2), b.TotalAmount.StringFixed(2)))
	}
	if b.PaidAmount.IsNegative() || b.RemainingDue.IsNegative() {
		problems = append(problems, "negative billing amount")
	}

	check := func(kind InstallmentKind, inst Installment) {
		if inst.BillingID != b.ID {
			problems = append(problems, fmt.Sprintf("%s %s points to billing %q", kind, inst.ID, inst.BillingID))
		}
		if !inst.AmountPaid.Add(inst.RemainingAmount).Equal(inst.Amount) {
			problems = append(problems, fmt.Sprintf("%s %s: paid + remaining != amount", kind, inst.ID))
		}
		if want := StatusFor(inst.Amount, inst.RemainingAmount); inst.Status != want && !inst.Amount.IsZero() {
			problems = append(problems, fmt.Sprintf("%s %s: status %s, expected %s", kind, inst.ID, inst.Status, want))
		}
	}

	if b.DepositID != "" {
		if b.Deposit == nil {
			problems = append(problems, fmt.Sprintf("deposit %s is missing", b.DepositID))
		} else {
			check(KindDeposit, *b.Deposit)
		}
	}
	if len(b.Terms) != len(b.TermIDs) {
		problems = append(problems, fmt.Sprintf("%d of %d terms found", len(b.Terms), len(b.TermIDs)))
	}
	for _, t := range b.Terms {
		check(KindTerm, t)
	}
	return problems
}
