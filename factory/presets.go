package factory

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// PRESET TEMPLATES AND PROFILES
// =============================================================================
//
// Presets return JSON so they go through the same parsing and validation as
// data submitted over the API.

// ThreeTermsJSON returns a 30/30/40 template over the school year starting
// in September of year.
func ThreeTermsJSON(id string, year int, additionalCost string) string {
	tj := map[string]interface{}{
		"id":          id,
		"description": "Three installments (30/30/40)",
		"term_payments": []map[string]interface{}{
			{"payment_date": fmt.Sprintf("01-09-%d", year), "percentage": 30},
			{"payment_date": fmt.Sprintf("01-12-%d", year), "percentage": 30},
			{"payment_date": fmt.Sprintf("01-03-%d", year+1), "percentage": 40},
		},
		"additional_cost": additionalCost,
	}
	b, _ := json.MarshalIndent(tj, "", "  ")
	return string(b)
}

// SinglePaymentJSON returns a template billing everything on one date.
func SinglePaymentJSON(id, paymentDate string) string {
	tj := map[string]interface{}{
		"id":          id,
		"description": "Single payment",
		"term_payments": []map[string]interface{}{
			{"payment_date": paymentDate, "percentage": 100},
		},
	}
	b, _ := json.MarshalIndent(tj, "", "  ")
	return string(b)
}

// MonthlyJSON returns a template of n equal monthly installments starting on
// the first of September of year. Percentages are rounded to cents and the
// last installment absorbs the difference so they sum to 100.
func MonthlyJSON(id string, year, n int) string {
	if n < 1 {
		n = 1
	}
	share := 10000 / n // in hundredths of a percent
	payments := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		month := 9 + i
		y := year + (month-1)/12
		month = (month-1)%12 + 1
		pct := share
		if i == n-1 {
			pct = 10000 - share*(n-1)
		}
		payments = append(payments, map[string]interface{}{
			"payment_date": fmt.Sprintf("01-%02d-%d", month, y),
			"percentage":   fmt.Sprintf("%d.%02d", pct/100, pct%100),
		})
	}
	tj := map[string]interface{}{
		"id":            id,
		"description":   fmt.Sprintf("%d monthly installments", n),
		"term_payments": payments,
	}
	b, _ := json.MarshalIndent(tj, "", "  ")
	return string(b)
}

// ProfileJSONFor returns a registration profile bound to a template.
func ProfileJSONFor(id, name, scholarshipFee, registrationFee, deposit, templateID string) string {
	pj := map[string]interface{}{
		"id":                        id,
		"name":                      name,
		"scholarship_fee":           scholarshipFee,
		"registration_fee":          registrationFee,
		"deposit":                   deposit,
		"termination_of_payment_id": templateID,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
