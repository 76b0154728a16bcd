package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYER VALIDATION
// =============================================================================

// PayerResolver classifies ids that are neither the student nor one of the
// student's sponsors. It lets the validator tell "another student" apart
// from an id nobody knows. A nil resolver treats every such id as unknown.
type PayerResolver interface {
	FindPayerType(ctx context.Context, id string) (PayerType, bool, error)
}

// ValidatePayers checks a payer list for a student and tags each entry.
//
// Rules (first violation wins):
//   - payer ids are unique
//   - each id is the student or one of the student's financial supports
//   - at most one payer is a student, and it is the student themself
//   - "self" means the student alone, "family" anything but the student alone
//   - cost coverages lie in [0, 100] and sum to exactly 100
func ValidatePayers(ctx context.Context, resolver PayerResolver, inputs []PayerInput, paymentType PaymentType, student Student) ([]Payer, error) {
	const op = "ValidatePayers"

	if len(inputs) == 0 {
		return nil, newError(op, ErrCoverageNotHundredPercent, "payer list cannot be empty")
	}

	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.PayerID == "" {
			return nil, newError(op, ErrInvalidIdentifier, "payer_id cannot be empty")
		}
		if seen[in.PayerID] {
			return nil, newError(op, ErrDuplicatePayer, "payer %s appears more than once", in.PayerID)
		}
		seen[in.PayerID] = true
	}

	sponsors := make(map[string]bool, len(student.FinancialSupportIDs))
	for _, id := range student.FinancialSupportIDs {
		sponsors[id] = true
	}

	validated := make([]Payer, 0, len(inputs))
	var otherStudents []string
	for _, in := range inputs {
		p := Payer{PayerID: in.PayerID, CostCoverage: in.CostCoverage}
		switch {
		case in.PayerID == student.ID:
			p.Type = PayerStudent
		case sponsors[in.PayerID]:
			p.Type = PayerFinancialSupport
		default:
			typ, found, err := resolvePayer(ctx, resolver, in.PayerID)
			if err != nil {
				return nil, wrapError(op, ErrPersistence, err, "resolving payer %s", in.PayerID)
			}
			if !found || typ != PayerStudent {
				return nil, newError(op, ErrUnknownPayer,
					"payer %s is neither the student nor one of their financial supports", in.PayerID)
			}
			p.Type = PayerStudent
			otherStudents = append(otherStudents, in.PayerID)
		}
		validated = append(validated, p)
	}

	var students int
	var sponsorCount int
	for _, p := range validated {
		if p.Type == PayerStudent {
			students++
		} else {
			sponsorCount++
		}
	}
	if students > 1 {
		return nil, newError(op, ErrMultipleStudentPayers, "a student cannot pay for another student")
	}
	if len(otherStudents) > 0 {
		return nil, newError(op, ErrUnknownPayer,
			"student %s cannot pay for student %s", otherStudents[0], student.ID)
	}

	if err := validatePaymentType(op, paymentType, students, sponsorCount); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, p := range validated {
		if p.CostCoverage.IsNegative() || p.CostCoverage.GreaterThan(hundred) {
			return nil, newError(op, ErrCoverageNotHundredPercent,
				"cost coverage %s of payer %s must be between 0 and 100", p.CostCoverage.String(), p.PayerID)
		}
		total = total.Add(p.CostCoverage)
	}
	if !total.Equal(hundred) {
		return nil, newError(op, ErrCoverageNotHundredPercent, "summed cost coverage is %s", total.String())
	}

	return validated, nil
}

func resolvePayer(ctx context.Context, resolver PayerResolver, id string) (PayerType, bool, error) {
	if resolver == nil {
		return "", false, nil
	}
	return resolver.FindPayerType(ctx, id)
}

func validatePaymentType(op string, pt PaymentType, students, sponsors int) error {
	studentOnly := students == 1 && sponsors == 0
	switch pt {
	case PaymentSelf:
		if sponsors > 0 {
			return newError(op, ErrPaymentTypeMismatch, "payment_type self does not allow financial supports as payers")
		}
		if !studentOnly {
			return newError(op, ErrPaymentTypeMismatch, "payment_type self requires the student as the only payer")
		}
	case PaymentFamily:
		if studentOnly {
			return newError(op, ErrPaymentTypeMismatch, "payment_type family requires at least one financial support")
		}
	default:
		return newError(op, ErrPaymentTypeMismatch, "unknown payment_type %q", string(pt))
	}
	return nil
}
