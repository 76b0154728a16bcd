/*
Package factory provides JSON to Go conversion of billing reference data.

PURPOSE:
  Converts JSON definitions of termination-of-payment templates and
  registration profiles into billing.TerminationOfPayment and
  billing.RegistrationProfile values. Schedules and fee grids can be
  configured without code changes.

JSON SCHEMA (template):
  {
    "id": "three-terms",
    "description": "Three installments",
    "term_payments": [
      {"payment_date": "01-09-2025", "percentage": 30},
      {"payment_date": "01-12-2025", "percentage": 30},
      {"payment_date": "01-03-2026", "percentage": 40}
    ],
    "additional_cost": "50"
  }

JSON SCHEMA (profile):
  {
    "id": "standard",
    "name": "Standard registration",
    "scholarship_fee": 800,
    "registration_fee": 200,
    "deposit": 100,
    "termination_of_payment_id": "three-terms"
  }

KEY FEATURES:
  - Amounts and percentages accept JSON numbers or strings, parsed exactly
  - Dates are DD-MM-YYYY
  - Status defaults to "active", additional_cost to 0
  - Output is validated (billing.TerminationOfPayment.Validate,
    billing.RegistrationProfile.Validate)

USAGE:
  f := NewReferenceFactory()
  tpl, err := f.ParseTermination(ThreeTermsJSON("three-terms", 2025, "50"))
  profile, err := f.ParseProfile(jsonStr)

SEE ALSO:
  - billing/catalog.go: Reference data types and invariants
  - api/scenarios.go: Demo data built from these presets
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TerminationJSON is the JSON representation of a termination-of-payment template.
type TerminationJSON struct {
	ID             string            `json:"id"`
	Description    string            `json:"description"`
	Termination    int               `json:"termination,omitempty"` // derived, checked when present
	TermPayments   []TermPaymentJSON `json:"term_payments"`
	AdditionalCost *decimal.Decimal  `json:"additional_cost,omitempty"`
	Status         string            `json:"status,omitempty"`
}

// TermPaymentJSON is one entry of a template.
type TermPaymentJSON struct {
	PaymentDate string          `json:"payment_date"` // DD-MM-YYYY
	Percentage  decimal.Decimal `json:"percentage"`
}

// ProfileJSON is the JSON representation of a registration profile.
type ProfileJSON struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	ScholarshipFee         decimal.Decimal `json:"scholarship_fee"`
	RegistrationFee        decimal.Decimal `json:"registration_fee"`
	Deposit                decimal.Decimal `json:"deposit"`
	TerminationOfPaymentID string          `json:"termination_of_payment_id"`
}

// =============================================================================
// REFERENCE FACTORY
// =============================================================================

// ReferenceFactory converts JSON reference data to billing types.
type ReferenceFactory struct{}

// NewReferenceFactory creates a new reference factory.
func NewReferenceFactory() *ReferenceFactory {
	return &ReferenceFactory{}
}

// ParseTermination parses and validates a template.
func (f *ReferenceFactory) ParseTermination(jsonStr string) (billing.TerminationOfPayment, error) {
	var tj TerminationJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return billing.TerminationOfPayment{}, fmt.Errorf("failed to parse template JSON: %w", err)
	}
	return f.TerminationFromJSON(tj)
}

// TerminationFromJSON converts TerminationJSON to a validated template.
func (f *ReferenceFactory) TerminationFromJSON(tj TerminationJSON) (billing.TerminationOfPayment, error) {
	t := billing.TerminationOfPayment{
		ID:             tj.ID,
		Description:    tj.Description,
		AdditionalCost: decimal.Zero,
		Status:         tj.Status,
	}
	if tj.AdditionalCost != nil {
		t.AdditionalCost = *tj.AdditionalCost
	}
	if t.Status == "" {
		t.Status = "active"
	}

	for i, tp := range tj.TermPayments {
		date, err := billing.ParseDate(tp.PaymentDate)
		if err != nil {
			return billing.TerminationOfPayment{}, fmt.Errorf("term_payments[%d]: %w", i, err)
		}
		t.TermPayments = append(t.TermPayments, billing.TermPayment{
			PaymentDate: date,
			Percentage:  tp.Percentage,
		})
	}

	if err := t.Validate(); err != nil {
		return billing.TerminationOfPayment{}, err
	}
	if tj.Termination != 0 && tj.Termination != t.Termination {
		return billing.TerminationOfPayment{}, fmt.Errorf(
			"termination %d does not match %d term payments", tj.Termination, t.Termination)
	}
	return t, nil
}

// TerminationToJSON converts a template back to its JSON shape.
func (f *ReferenceFactory) TerminationToJSON(t billing.TerminationOfPayment) TerminationJSON {
	additional := t.AdditionalCost
	tj := TerminationJSON{
		ID:             t.ID,
		Description:    t.Description,
		Termination:    t.Termination,
		AdditionalCost: &additional,
		Status:         t.Status,
		TermPayments:   make([]TermPaymentJSON, 0, len(t.TermPayments)),
	}
	for _, tp := range t.TermPayments {
		tj.TermPayments = append(tj.TermPayments, TermPaymentJSON{
			PaymentDate: tp.PaymentDate.String(),
			Percentage:  tp.Percentage,
		})
	}
	return tj
}

// ParseProfile parses and validates a registration profile.
func (f *ReferenceFactory) ParseProfile(jsonStr string) (billing.RegistrationProfile, error) {
	var pj ProfileJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return billing.RegistrationProfile{}, fmt.Errorf("failed to parse profile JSON: %w", err)
	}
	return f.ProfileFromJSON(pj)
}

// ProfileFromJSON converts ProfileJSON to a validated profile.
func (f *ReferenceFactory) ProfileFromJSON(pj ProfileJSON) (billing.RegistrationProfile, error) {
	if pj.TerminationOfPaymentID == "" {
		return billing.RegistrationProfile{}, fmt.Errorf("termination_of_payment_id is required")
	}
	p := billing.RegistrationProfile{
		ID:                     pj.ID,
		Name:                   pj.Name,
		ScholarshipFee:         pj.ScholarshipFee,
		RegistrationFee:        pj.RegistrationFee,
		Deposit:                pj.Deposit,
		TerminationOfPaymentID: pj.TerminationOfPaymentID,
	}
	if err := p.Validate(); err != nil {
		return billing.RegistrationProfile{}, err
	}
	return p, nil
}

// ProfileToJSON converts a profile back to its JSON shape.
func (f *ReferenceFactory) ProfileToJSON(p billing.RegistrationProfile) ProfileJSON {
	return ProfileJSON{
		ID:                     p.ID,
		Name:                   p.Name,
		ScholarshipFee:         p.ScholarshipFee,
		RegistrationFee:        p.RegistrationFee,
		Deposit:                p.Deposit,
		TerminationOfPaymentID: p.TerminationOfPaymentID,
	}
}
