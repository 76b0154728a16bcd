package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver map[string]PayerType

func (r stubResolver) FindPayerType(_ context.Context, id string) (PayerType, bool, error) {
	t, ok := r[id]
	return t, ok, nil
}

type failingResolver struct{}

func (failingResolver) FindPayerType(context.Context, string) (PayerType, bool, error) {
	return "", false, errors.New("connection reset")
}

var (
	validatorStudent = Student{ID: "stu-1", FinancialSupportIDs: []string{"fs-1", "fs-2"}}
	validatorDir     = stubResolver{
		"stu-1": PayerStudent,
		"stu-2": PayerStudent,
		"fs-1":  PayerFinancialSupport,
		"fs-2":  PayerFinancialSupport,
		"fs-9":  PayerFinancialSupport, // sponsor of another student
	}
)

func in(id, coverage string) PayerInput {
	return PayerInput{PayerID: id, CostCoverage: dec(coverage)}
}

func validate(pt PaymentType, inputs ...PayerInput) ([]Payer, error) {
	return ValidatePayers(context.Background(), validatorDir, inputs, pt, validatorStudent)
}

func TestValidatePayers_Accepts(t *testing.T) {
	ps, err := validate(PaymentSelf, in("stu-1", "100"))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, PayerStudent, ps[0].Type)

	ps, err = validate(PaymentFamily, in("stu-1", "40"), in("fs-1", "60"))
	require.NoError(t, err)
	assert.Equal(t, PayerStudent, ps[0].Type)
	assert.Equal(t, PayerFinancialSupport, ps[1].Type)

	ps, err = validate(PaymentFamily, in("fs-1", "50"), in("fs-2", "50"))
	require.NoError(t, err)
	assert.Equal(t, PayerFinancialSupport, ps[0].Type)
	assert.Equal(t, PayerFinancialSupport, ps[1].Type)

	ps, err = validate(PaymentFamily, in("fs-1", "0"), in("fs-2", "100"))
	require.NoError(t, err, "zero coverage is allowed")
	assert.Len(t, ps, 2)
}

func TestValidatePayers_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		pt     PaymentType
		inputs []PayerInput
		want   Kind
	}{
		{"duplicate payer", PaymentFamily, []PayerInput{in("fs-1", "50"), in("fs-1", "50")}, ErrDuplicatePayer},
		{"unknown id", PaymentFamily, []PayerInput{in("fs-1", "50"), in("ghost", "50")}, ErrUnknownPayer},
		{"sponsor of someone else", PaymentFamily, []PayerInput{in("fs-1", "50"), in("fs-9", "50")}, ErrUnknownPayer},
		{"another student alone", PaymentFamily, []PayerInput{in("stu-2", "100")}, ErrUnknownPayer},
		{"two students", PaymentFamily, []PayerInput{in("stu-1", "50"), in("stu-2", "50")}, ErrMultipleStudentPayers},
		{"coverage below 100", PaymentFamily, []PayerInput{in("stu-1", "40"), in("fs-1", "59")}, ErrCoverageNotHundredPercent},
		{"coverage above 100", PaymentFamily, []PayerInput{in("stu-1", "40"), in("fs-1", "60.01")}, ErrCoverageNotHundredPercent},
		{"negative coverage", PaymentFamily, []PayerInput{in("fs-1", "-10"), in("fs-2", "110")}, ErrCoverageNotHundredPercent},
		{"self with sponsor", PaymentSelf, []PayerInput{in("stu-1", "50"), in("fs-1", "50")}, ErrPaymentTypeMismatch},
		{"self without student", PaymentSelf, []PayerInput{in("fs-1", "100")}, ErrPaymentTypeMismatch},
		{"family with student alone", PaymentFamily, []PayerInput{in("stu-1", "100")}, ErrPaymentTypeMismatch},
		{"unknown payment type", PaymentType("monthly"), []PayerInput{in("stu-1", "100")}, ErrPaymentTypeMismatch},
		{"empty payer list", PaymentFamily, nil, ErrCoverageNotHundredPercent},
		{"empty payer id", PaymentFamily, []PayerInput{in("", "100")}, ErrInvalidIdentifier},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(tc.pt, tc.inputs...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var be *Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "ValidatePayers", be.Op)
			assert.NotEmpty(t, be.Reason)
		})
	}
}

func TestValidatePayers_PayerErrorsAreGrouped(t *testing.T) {
	_, err := validate(PaymentFamily, in("ghost", "100"))
	assert.True(t, IsPayerError(err))
	assert.False(t, IsValidationError(err))
}

func TestValidatePayers_NilResolver(t *testing.T) {
	_, err := ValidatePayers(context.Background(), nil,
		[]PayerInput{in("stu-1", "50"), in("stu-2", "50")}, PaymentFamily, validatorStudent)
	assert.ErrorIs(t, err, ErrUnknownPayer, "without a resolver other students are unknown")
}

func TestValidatePayers_ResolverFailure(t *testing.T) {
	_, err := ValidatePayers(context.Background(), failingResolver{},
		[]PayerInput{in("stu-9", "100")}, PaymentFamily, validatorStudent)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "connection reset")
}
