/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  - Money is a string with exactly two decimals ("1050.00")
  - Dates are DD-MM-YYYY
  - Incoming amounts accept JSON numbers or strings and are parsed exactly

SEE ALSO:
  - handlers.go: Uses these types
  - factory/reference.go: Template and profile JSON
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// BILLINGS
// =============================================================================

// InstallmentDTO is a term or a deposit.
type InstallmentDTO struct {
	ID              string `json:"id"`
	BillingID       string `json:"billing_id"`
	PaymentDate     string `json:"payment_date"`
	Amount          string `json:"amount"`
	AmountPaid      string `json:"amount_paid"`
	RemainingAmount string `json:"remaining_amount"`
	PaymentStatus   string `json:"payment_status"`
}

// BillingDTO represents a billing with its deposit and terms.
type BillingDTO struct {
	ID                    string           `json:"id"`
	StudentID             string           `json:"student_id"`
	RegistrationProfileID string           `json:"registration_profile_id"`
	PayerID               string           `json:"payer_id"`
	PayerType             string           `json:"payer_type"`
	TotalAmount           string           `json:"total_amount"`
	PaidAmount            string           `json:"paid_amount"`
	RemainingDue          string           `json:"remaining_due"`
	Deposit               *InstallmentDTO  `json:"deposit,omitempty"`
	Terms                 []InstallmentDTO `json:"terms"`
}

// PayerRequest is one payer entry of a generation request.
type PayerRequest struct {
	PayerID      string          `json:"payer_id"`
	CostCoverage decimal.Decimal `json:"cost_coverage"`
}

// GenerateBillingRequest is the body of POST /api/students/{id}/billings.
type GenerateBillingRequest struct {
	PaymentType string         `json:"payment_type"`
	Payer       []PayerRequest `json:"payer"`
}

// PaymentRequest is the body of payment and reversal calls.
type PaymentRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// StudentDTO represents a student.
type StudentDTO struct {
	ID                    string   `json:"id"`
	Civility              string   `json:"civility,omitempty"`
	FirstName             string   `json:"first_name"`
	LastName              string   `json:"last_name"`
	RegistrationProfileID string   `json:"registration_profile_id"`
	FinancialSupportIDs   []string `json:"financial_support_ids"`
}

// CreateStudentRequest is the body of POST /api/students.
type CreateStudentRequest struct {
	ID                    string `json:"id,omitempty"`
	Civility              string `json:"civility,omitempty"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	RegistrationProfileID string `json:"registration_profile_id"`
}

// FinancialSupportDTO represents a sponsor.
type FinancialSupportDTO struct {
	ID        string `json:"id,omitempty"`
	StudentID string `json:"student_id"`
	Civility  string `json:"civility,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status,omitempty"`
}

// RegistrationProfileDTO represents a profile in responses.
type RegistrationProfileDTO struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	ScholarshipFee         string `json:"scholarship_fee"`
	RegistrationFee        string `json:"registration_fee"`
	Deposit                string `json:"deposit"`
	TerminationOfPaymentID string `json:"termination_of_payment_id"`
}

// TermPaymentDTO is one entry of a template.
type TermPaymentDTO struct {
	PaymentDate string `json:"payment_date"`
	Percentage  string `json:"percentage"`
}

// TerminationDTO represents a termination-of-payment template in responses.
type TerminationDTO struct {
	ID             string           `json:"id"`
	Description    string           `json:"description"`
	Termination    int              `json:"termination"`
	TermPayments   []TermPaymentDTO `json:"term_payments"`
	AdditionalCost string           `json:"additional_cost"`
	Status         string           `json:"status"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// AuditDTO is the result of an integrity audit.
type AuditDTO struct {
	CheckedAt string         `json:"checked_at"`
	Students  int            `json:"students"`
	Billings  int            `json:"billings"`
	Problems  []AuditProblem `json:"problems"`
}

// AuditProblem is one inconsistency found by the audit.
type AuditProblem struct {
	StudentID string `json:"student_id"`
	BillingID string `json:"billing_id,omitempty"`
	Problem   string `json:"problem"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func toInstallmentDTO(i billing.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:              i.ID,
		BillingID:       i.BillingID,
		PaymentDate:     i.Date.String(),
		Amount:          money(i.Amount),
		AmountPaid:      money(i.AmountPaid),
		RemainingAmount: money(i.RemainingAmount),
		PaymentStatus:   string(i.Status),
	}
}

func toBillingDTO(b billing.Billing) BillingDTO {
	dto := BillingDTO{
		ID:                    b.ID,
		StudentID:             b.StudentID,
		RegistrationProfileID: b.RegistrationProfileID,
		PayerID:               b.PayerID,
		PayerType:             string(b.PayerType),
		TotalAmount:           money(b.TotalAmount),
		PaidAmount:            money(b.PaidAmount),
		RemainingDue:          money(b.RemainingDue),
		Terms:                 make([]InstallmentDTO, 0, len(b.Terms)),
	}
	if b.Deposit != nil {
		d := toInstallmentDTO(*b.Deposit)
		dto.Deposit = &d
	}
	for _, t := range b.Terms {
		dto.Terms = append(dto.Terms, toInstallmentDTO(t))
	}
	return dto
}

func toBillingDTOs(bs []billing.Billing) []BillingDTO {
	dtos := make([]BillingDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBillingDTO(b)
	}
	return dtos
}

func toStudentDTO(s billing.Student) StudentDTO {
	ids := s.FinancialSupportIDs
	if ids == nil {
		ids = []string{}
	}
	return StudentDTO{
		ID:                    s.ID,
		Civility:              s.Civility,
		FirstName:             s.FirstName,
		LastName:              s.LastName,
		RegistrationProfileID: s.RegistrationProfileID,
		FinancialSupportIDs:   ids,
	}
}

func toFinancialSupportDTO(f billing.FinancialSupport) FinancialSupportDTO {
	return FinancialSupportDTO{
		ID:        f.ID,
		StudentID: f.StudentID,
		Civility:  f.Civility,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Status:    string(f.Status),
	}
}

func toProfileDTO(p billing.RegistrationProfile) RegistrationProfileDTO {
	return RegistrationProfileDTO{
		ID:                     p.ID,
		Name:                   p.Name,
		ScholarshipFee:         money(p.ScholarshipFee),
		RegistrationFee:        money(p.RegistrationFee),
		Deposit:                money(p.Deposit),
		TerminationOfPaymentID: p.TerminationOfPaymentID,
	}
}

func toTerminationDTO(t billing.TerminationOfPayment) TerminationDTO {
	dto := TerminationDTO{
		ID:             t.ID,
		Description:    t.Description,
		Termination:    t.Termination,
		AdditionalCost: money(t.AdditionalCost),
		Status:         t.Status,
		TermPayments:   make([]TermPaymentDTO, 0, len(t.TermPayments)),
	}
	for _, tp := range t.TermPayments {
		dto.TermPayments = append(dto.TermPayments, TermPaymentDTO{
			PaymentDate: tp.PaymentDate.String(),
			Percentage:  tp.Percentage.StringFixed(2),
		})
	}
	return dto
}
