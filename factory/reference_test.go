package factory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

func TestParseTermination_Presets(t *testing.T) {
	f := NewReferenceFactory()

	tpl, err := f.ParseTermination(ThreeTermsJSON("three", 2025, "50"))
	require.NoError(t, err)
	assert.Equal(t, "three", tpl.ID)
	assert.Equal(t, 3, tpl.Termination)
	assert.Equal(t, "active", tpl.Status)
	assert.Equal(t, "01-03-2026", tpl.TermPayments[2].PaymentDate.String())
	assert.Equal(t, "50.00", tpl.AdditionalCost.StringFixed(2))

	single, err := f.ParseTermination(SinglePaymentJSON("single", "15-09-2025"))
	require.NoError(t, err)
	assert.True(t, single.AdditionalCost.IsZero(), "additional cost defaults to 0")
	assert.Equal(t, 1, single.Termination)
}

func TestParseTermination_Monthly(t *testing.T) {
	// GIVEN: 100% split over 3 monthly installments
	// WHEN: Parsing the preset
	// THEN: 33.33 / 33.33 / 33.34, crossing into the next year when needed

	f := NewReferenceFactory()
	tpl, err := f.ParseTermination(MonthlyJSON("monthly", 2025, 3))
	require.NoError(t, err)
	require.Len(t, tpl.TermPayments, 3)
	assert.Equal(t, "33.33", tpl.TermPayments[0].Percentage.StringFixed(2))
	assert.Equal(t, "33.34", tpl.TermPayments[2].Percentage.StringFixed(2))

	year, err := f.ParseTermination(MonthlyJSON("ten", 2025, 10))
	require.NoError(t, err)
	require.Len(t, year.TermPayments, 10)
	assert.Equal(t, "01-06-2026", year.TermPayments[9].PaymentDate.String())
}

func TestParseTermination_Rejects(t *testing.T) {
	f := NewReferenceFactory()

	cases := []struct {
		name string
		json string
		kind billing.Kind // empty when the error is a plain parse error
	}{
		{"not json", `{`, ""},
		{"bad date", `{"description":"x","term_payments":[{"payment_date":"2025-09-01","percentage":100}]}`, ""},
		{"sum not 100", `{"description":"x","term_payments":[{"payment_date":"01-09-2025","percentage":99}]}`, billing.ErrInvalidSchedule},
		{"no entries", `{"description":"x","term_payments":[]}`, billing.ErrEmptySchedule},
		{"no description", `{"term_payments":[{"payment_date":"01-09-2025","percentage":100}]}`, billing.ErrInvalidSchedule},
		{"termination mismatch", `{"description":"x","termination":2,"term_payments":[{"payment_date":"01-09-2025","percentage":100}]}`, ""},
		{"negative additional cost", `{"description":"x","additional_cost":"-5","term_payments":[{"payment_date":"01-09-2025","percentage":100}]}`, billing.ErrNegativeAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParseTermination(tc.json)
			require.Error(t, err)
			if tc.kind != "" {
				assert.ErrorIs(t, err, tc.kind)
			}
		})
	}
}

func TestTerminationToJSON_RoundTrip(t *testing.T) {
	f := NewReferenceFactory()
	tpl, err := f.ParseTermination(ThreeTermsJSON("three", 2025, "12.50"))
	require.NoError(t, err)

	back, err := f.TerminationFromJSON(f.TerminationToJSON(tpl))
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, back.ID)
	require.Len(t, back.TermPayments, 3)
	for i := range tpl.TermPayments {
		assert.True(t, tpl.TermPayments[i].PaymentDate.Equal(back.TermPayments[i].PaymentDate))
		assert.True(t, tpl.TermPayments[i].Percentage.Equal(back.TermPayments[i].Percentage))
	}
}

func TestParseProfile(t *testing.T) {
	f := NewReferenceFactory()

	p, err := f.ParseProfile(ProfileJSONFor("std", "Standard", "800", "200", "100", "three"))
	require.NoError(t, err)
	assert.True(t, p.ScholarshipFee.Equal(decimal.NewFromInt(800)))
	assert.Equal(t, "three", p.TerminationOfPaymentID)

	// Numbers are accepted as well as strings
	p, err = f.ParseProfile(`{"scholarship_fee": 800.5, "registration_fee": 0, "deposit": 0, "termination_of_payment_id": "t"}`)
	require.NoError(t, err)
	assert.Equal(t, "800.50", p.ScholarshipFee.StringFixed(2))

	_, err = f.ParseProfile(ProfileJSONFor("std", "Standard", "800", "200", "100", ""))
	assert.Error(t, err, "template reference is required")

	_, err = f.ParseProfile(ProfileJSONFor("std", "Standard", "800", "200", "1500", "three"))
	assert.ErrorIs(t, err, billing.ErrNegativeAmount)

	_, err = f.ParseProfile(ProfileJSONFor("std", "Standard", "800.001", "200", "100", "three"))
	assert.ErrorIs(t, err, billing.ErrInvalidAmountFormat)
}
