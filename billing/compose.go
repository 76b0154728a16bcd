/*
compose.go - Billing composition per payer set

PURPOSE:
  Builds the billing records for one student from the validated payers, the
  template's term payments and the fee amounts. Records are returned
  unsaved, with their deposit and terms attached; the Service persists them.

PAYER SETS:
  Mixed (student + sponsors):
    each sponsor  -> terms for its share of termAmount
    the student   -> terms for its share of termAmount + the full deposit
  Sponsor-only:
    each sponsor  -> terms for its share of termAmount
    plus one billing owned by the student holding only the deposit
  Self-pay (the student alone):
    one billing for totalAmount with the full deposit and all terms

  Every student therefore ends up with exactly one deposit-bearing billing.

EXAMPLE:
  termAmount=900, deposit=100, payers=[student 40%, sponsor 60%]
    student billing:  terms 360.00 + deposit 100.00 -> total 460.00
    sponsor billing:  terms 540.00                  -> total 540.00
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// ComposeRequest carries the inputs of ComposeBillings.
type ComposeRequest struct {
	StudentID             string
	RegistrationProfileID string
	Payers                []Payer
	TermPayments          []TermPayment
	TotalAmount           decimal.Decimal
	TermAmount            decimal.Decimal
	DepositAmount         decimal.Decimal
}

type payerSet int

const (
	payerSetInvalid payerSet = iota
	payerSetMixed
	payerSetSponsorOnly
	payerSetSelf
)

func classifyPayers(payers []Payer) payerSet {
	var students, sponsors int
	for _, p := range payers {
		switch p.Type {
		case PayerStudent:
			students++
		case PayerFinancialSupport:
			sponsors++
		}
	}
	switch {
	case students > 0 && sponsors > 0:
		return payerSetMixed
	case sponsors > 0 && students == 0:
		return payerSetSponsorOnly
	case students == 1 && len(payers) == 1:
		return payerSetSelf
	}
	return payerSetInvalid
}

// ComposeBillings builds the unsaved billings for a student. Each billing
// starts with PaidAmount 0 and RemainingDue == TotalAmount.
func ComposeBillings(req ComposeRequest) ([]Billing, error) {
	const op = "ComposeBillings"

	set := classifyPayers(req.Payers)
	if set == payerSetInvalid {
		return nil, newError(op, ErrUnknownPayer, "payer set is neither self-pay, sponsor-only nor mixed")
	}

	if set == payerSetSelf {
		b, err := composeOne(req, req.Payers[0], req.TermAmount, true)
		if err != nil {
			return nil, err
		}
		b.TotalAmount = RoundMoney(req.TotalAmount)
		b.RemainingDue = b.TotalAmount
		return []Billing{b}, nil
	}

	shares := Apportion(req.Payers, req.TermAmount)
	billings := make([]Billing, 0, len(req.Payers)+1)
	for i, p := range req.Payers {
		withDeposit := p.Type == PayerStudent
		b, err := composeOne(req, p, shares[i], withDeposit)
		if err != nil {
			return nil, err
		}
		billings = append(billings, b)
	}

	if set == payerSetSponsorOnly {
		student := Payer{PayerID: req.StudentID, CostCoverage: decimal.Zero, Type: PayerStudent}
		b, err := composeDepositOnly(req, student)
		if err != nil {
			return nil, err
		}
		billings = append(billings, b)
	}
	return billings, nil
}

func composeOne(req ComposeRequest, p Payer, termShare decimal.Decimal, withDeposit bool) (Billing, error) {
	terms, err := GenerateSchedule(req.TermPayments, termShare)
	if err != nil {
		return Billing{}, err
	}

	b := newBilling(req, p)
	b.Terms = terms
	total := RoundMoney(termShare)

	if withDeposit {
		deposit, err := GenerateDeposit(req.TermPayments, req.DepositAmount)
		if err != nil {
			return Billing{}, err
		}
		b.Deposit = &deposit
		total = total.Add(deposit.Amount)
	}
	b.TotalAmount = total
	b.RemainingDue = total
	return b, nil
}

func composeDepositOnly(req ComposeRequest, p Payer) (Billing, error) {
	deposit, err := GenerateDeposit(req.TermPayments, req.DepositAmount)
	if err != nil {
		return Billing{}, err
	}
	b := newBilling(req, p)
	b.Deposit = &deposit
	b.TotalAmount = deposit.Amount
	b.RemainingDue = deposit.Amount
	return b, nil
}

func newBilling(req ComposeRequest, p Payer) Billing {
	return Billing{
		StudentID:             req.StudentID,
		RegistrationProfileID: req.RegistrationProfileID,
		PayerID:               p.PayerID,
		PayerType:             p.Type,
		PaidAmount:            decimal.Zero,
	}
}
