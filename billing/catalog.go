package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// REFERENCE DATA - Students, sponsors, registration profiles, templates
// =============================================================================
//
// Reference records carry no allocation logic. The engine only reads them to
// classify payers and to compute the amounts handed to ComposeBillings.

type Student struct {
	ID                    string
	Civility              string
	FirstName             string
	LastName              string
	RegistrationProfileID string
	// FinancialSupportIDs lists the student's active sponsors. Stores derive
	// it from FinancialSupport.StudentID.
	FinancialSupportIDs []string
}

type SupportStatus string

const (
	SupportActive  SupportStatus = "active"
	SupportDeleted SupportStatus = "deleted"
)

// FinancialSupport is a sponsor attached to one student (parent, company...).
type FinancialSupport struct {
	ID        string
	StudentID string
	Civility  string
	FirstName string
	LastName  string
	Status    SupportStatus
}

// RegistrationProfile supplies the fees of a registration and the template
// used to schedule them.
type RegistrationProfile struct {
	ID                     string
	Name                   string
	ScholarshipFee         decimal.Decimal
	RegistrationFee        decimal.Decimal
	Deposit                decimal.Decimal
	TerminationOfPaymentID string
}

// TerminationOfPayment is a reusable installment template.
type TerminationOfPayment struct {
	ID             string
	Description    string
	Termination    int // number of installments
	TermPayments   []TermPayment
	AdditionalCost decimal.Decimal
	Status         string
}

// Validate enforces the template invariants and sets Termination to the
// number of term payments. Percentages must be positive with at most two
// decimals, sum to exactly 100, and dates must be strictly increasing.
func (t *TerminationOfPayment) Validate() error {
	const op = "TerminationOfPayment.Validate"

	if t.Description == "" {
		return newError(op, ErrInvalidSchedule, "description cannot be empty")
	}
	if len(t.TermPayments) == 0 {
		return newError(op, ErrEmptySchedule, "term_payments cannot be empty")
	}
	if err := validateFee(op, "additional_cost", t.AdditionalCost); err != nil {
		return err
	}

	total := decimal.Zero
	for i, tp := range t.TermPayments {
		if tp.PaymentDate.IsZero() {
			return newError(op, ErrInvalidSchedule, "term payment %d has no payment_date", i+1)
		}
		if i > 0 && !tp.PaymentDate.After(t.TermPayments[i-1].PaymentDate) {
			return newError(op, ErrInvalidSchedule,
				"payment_date %s must be after %s", tp.PaymentDate, t.TermPayments[i-1].PaymentDate)
		}
		if !tp.Percentage.IsPositive() {
			return newError(op, ErrInvalidSchedule, "percentage of term payment %d must be greater than zero", i+1)
		}
		if err := AssertTwoDecimalPlaces(op, tp.Percentage); err != nil {
			return withReasonPrefix(err, "percentage")
		}
		total = total.Add(tp.Percentage)
	}
	if !total.Equal(hundred) {
		return newError(op, ErrInvalidSchedule, "percentages sum to %s, expected 100", total.String())
	}

	t.Termination = len(t.TermPayments)
	return nil
}

// Fees are the amounts a registration bills.
type Fees struct {
	Total   decimal.Decimal // scholarship + registration + additional cost
	Deposit decimal.Decimal
	Term    decimal.Decimal // Total - Deposit, spread over the schedule
}

// Validate checks every fee of the profile and that the deposit does not
// exceed scholarship + registration fees.
func (p RegistrationProfile) Validate() error {
	const op = "RegistrationProfile.Validate"
	if err := p.validateFees(op); err != nil {
		return err
	}
	if p.Deposit.GreaterThan(p.ScholarshipFee.Add(p.RegistrationFee)) {
		return newError(op, ErrNegativeAmount, "deposit %s exceeds fees %s",
			p.Deposit.StringFixed(2), p.ScholarshipFee.Add(p.RegistrationFee).StringFixed(2))
	}
	return nil
}

func (p RegistrationProfile) validateFees(op string) error {
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"scholarship_fee", p.ScholarshipFee},
		{"registration_fee", p.RegistrationFee},
		{"deposit", p.Deposit},
	} {
		if err := validateFee(op, f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// Fees computes the billable amounts of the profile under template t.
func (p RegistrationProfile) Fees(t TerminationOfPayment) (Fees, error) {
	const op = "RegistrationProfile.Fees"

	if err := p.validateFees(op); err != nil {
		return Fees{}, err
	}
	if err := validateFee(op, "additional_cost", t.AdditionalCost); err != nil {
		return Fees{}, err
	}

	total := RoundMoney(p.ScholarshipFee.Add(p.RegistrationFee).Add(t.AdditionalCost))
	if p.Deposit.GreaterThan(total) {
		return Fees{}, newError(op, ErrNegativeAmount,
			"deposit %s exceeds total %s", p.Deposit.StringFixed(2), total.StringFixed(2))
	}
	return Fees{
		Total:   total,
		Deposit: RoundMoney(p.Deposit),
		Term:    total.Sub(RoundMoney(p.Deposit)),
	}, nil
}
