/*
Package billing provides the tuition billing engine.

PURPOSE:
  Turns a student's registration fees into billing records (one per payer),
  each owning a deposit and/or a dated installment schedule, and keeps the
  paid/remaining figures of every record consistent as payments are applied
  and removed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Installment: a dated obligation (a term or the deposit) with running
    paid/remaining amounts and a derived payment status
  - Billing: one payer's funding obligation for one student's registration
  - Payer: a validated payer entry, tagged Student or FinancialSupport

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal rounded to cents
  2. Conservation: AmountPaid + RemainingAmount == Amount for every
     installment, PaidAmount + RemainingDue == TotalAmount for every billing
  3. Tagged payers: the Student/FinancialSupport tag is decided once by the
     validator and carried through composition, never looked up again

SEE ALSO:
  - schedule.go: Term and deposit generation
  - compose.go: Billing composition per payer set
  - allocate.go, reverse.go: Payment application and removal
  - service.go: Orchestration over a Store
*/
package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT STATUS
// =============================================================================

type PaymentStatus string

const (
	StatusBilled      PaymentStatus = "billed"
	StatusPartialPaid PaymentStatus = "partial_paid"
	StatusPaid        PaymentStatus = "paid"
)

// StatusFor derives the status of an installment from its amounts.
func StatusFor(amount, remaining decimal.Decimal) PaymentStatus {
	switch {
	case remaining.IsZero():
		return StatusPaid
	case remaining.Equal(amount):
		return StatusBilled
	default:
		return StatusPartialPaid
	}
}

// =============================================================================
// INSTALLMENT - A term or a deposit
// =============================================================================

// InstallmentKind tells the stores which collection an installment lives in.
type InstallmentKind string

const (
	KindTerm    InstallmentKind = "term"
	KindDeposit InstallmentKind = "deposit"
)

// Installment is one dated obligation belonging to exactly one billing.
// Amount is fixed at creation; only AmountPaid, RemainingAmount and Status move.
type Installment struct {
	ID              string
	BillingID       string
	Date            Date
	Amount          decimal.Decimal
	AmountPaid      decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          PaymentStatus
}

func newInstallment(date Date, amount decimal.Decimal) Installment {
	return Installment{
		Date:            date,
		Amount:          amount,
		AmountPaid:      decimal.Zero,
		RemainingAmount: amount,
		Status:          StatusBilled,
	}
}

// IsSettled reports whether nothing remains to be paid.
func (i Installment) IsSettled() bool { return !i.RemainingAmount.IsPositive() }

// SortByDate orders installments chronologically. The sort is stable so
// installments sharing a date keep their stored order.
func SortByDate(items []Installment) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Date.Before(items[b].Date)
	})
}

// =============================================================================
// PAYERS
// =============================================================================

type PayerType string

const (
	PayerStudent          PayerType = "Student"
	PayerFinancialSupport PayerType = "FinancialSupport"
)

// PaymentType is the declared way a student's fees are paid.
type PaymentType string

const (
	PaymentSelf   PaymentType = "self"
	PaymentFamily PaymentType = "family"
)

// ParsePaymentType accepts the canonical values and the legacy "my_self".
func ParsePaymentType(s string) (PaymentType, bool) {
	switch s {
	case "self", "my_self":
		return PaymentSelf, true
	case "family":
		return PaymentFamily, true
	}
	return "", false
}

// PayerInput is a raw payer entry as submitted by a caller.
type PayerInput struct {
	PayerID      string
	CostCoverage decimal.Decimal // percentage, 0-100
}

// Payer is a validated payer entry. Only ValidatePayers produces these.
type Payer struct {
	PayerID      string
	CostCoverage decimal.Decimal
	Type         PayerType
}

// =============================================================================
// BILLING
// =============================================================================

// Billing is one (student, payer) funding obligation under one registration.
//
// DepositID/TermIDs are the stored references. Deposit/Terms are only
// populated when the billing was loaded with the matching Lookup.
type Billing struct {
	ID                    string
	StudentID             string
	RegistrationProfileID string
	PayerID               string
	PayerType             PayerType
	TotalAmount           decimal.Decimal
	PaidAmount            decimal.Decimal
	RemainingDue          decimal.Decimal
	DepositID             string
	TermIDs               []string

	Deposit *Installment
	Terms   []Installment
}

// HasDeposit reports whether the billing owns the student's deposit.
func (b Billing) HasDeposit() bool { return b.DepositID != "" || b.Deposit != nil }

// TermsPaid sums what has been paid on the billing's resolved terms.
func (b Billing) TermsPaid() decimal.Decimal {
	total := decimal.Zero
	for _, t := range b.Terms {
		total = total.Add(t.AmountPaid)
	}
	return total
}

// Clone returns a deep copy so engines never mutate a caller's billing.
func (b Billing) Clone() Billing {
	out := b
	out.TermIDs = append([]string(nil), b.TermIDs...)
	out.Terms = append([]Installment(nil), b.Terms...)
	if b.Deposit != nil {
		d := *b.Deposit
		out.Deposit = &d
	}
	return out
}
