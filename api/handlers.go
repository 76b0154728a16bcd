/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing service and its reference data via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to billing.Service.

ENDPOINTS:
  Billings:
    POST   /api/students/{id}/billings    Generate billings for a student
    GET    /api/students/{id}/billings    List a student's billings
    GET    /api/billings/{id}             Get one billing
    POST   /api/billings/{id}/payments    Apply a payment
    POST   /api/billings/{id}/reversals   Remove a payment

  Reference data:
    GET/POST /api/students, /api/financial-supports,
             /api/registration-profiles, /api/terminations

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

  Admin:
    GET    /api/admin/audit               Run an integrity audit

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: Validation and payer errors, invalid input
  - 404: Billing, student or reference data not found
  - 409: State conflicts (duplicate billing, overpayment, ...)
  - 500: Persistence and consistency failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the reference data the API manages, plus a reset for demos.
type Store interface {
	billing.Catalog
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *billing.Service
	Store   Store
	Factory *factory.ReferenceFactory
	Logger  *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(svc *billing.Service, store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service: svc,
		Store:   store,
		Factory: factory.NewReferenceFactory(),
		Logger:  logger,
	}
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GenerateBilling creates the billings of a student.
// POST /api/students/{id}/billings
func (h *Handler) GenerateBilling(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	var req GenerateBillingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	paymentType, ok := billing.ParsePaymentType(req.PaymentType)
	if !ok {
		// Unknown values are rejected by the payer validator.
		paymentType = billing.PaymentType(req.PaymentType)
	}
	payers := make([]billing.PayerInput, len(req.Payer))
	for i, p := range req.Payer {
		payers[i] = billing.PayerInput{PayerID: p.PayerID, CostCoverage: p.CostCoverage}
	}

	bs, err := h.Service.GenerateBilling(r.Context(), billing.GenerateRequest{
		StudentID:   studentID,
		PaymentType: paymentType,
		Payers:      payers,
	})
	if err != nil {
		writeBillingError(w, "Failed to generate billing", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBillingDTOs(bs))
}

// ListStudentBillings returns the billings of a student.
// GET /api/students/{id}/billings
func (h *Handler) ListStudentBillings(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Service.ListBillingsByStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBillingError(w, "Failed to list billings", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingDTOs(bs))
}

// GetBilling returns one billing with its deposit and terms.
// GET /api/billings/{id}
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBilling(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBillingError(w, "Failed to get billing", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingDTO(b))
}

// AddPayment applies a payment to a billing.
// POST /api/billings/{id}/payments
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, h.Service.AddPayment, "Failed to apply payment")
}

// RemovePayment removes a payment from a billing.
// POST /api/billings/{id}/reversals
func (h *Handler) RemovePayment(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, h.Service.RemovePayment, "Failed to remove payment")
}

type paymentFunc func(ctx context.Context, billingID string, amount decimal.Decimal) (billing.Billing, error)

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request, fn paymentFunc, failure string) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required", nil)
		return
	}

	b, err := fn(r.Context(), chi.URLParam(r, "id"), *req.Amount)
	if err != nil {
		writeBillingError(w, failure, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingDTO(b))
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}
	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent creates or replaces a student.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RegistrationProfileID == "" {
		writeError(w, http.StatusBadRequest, "registration_profile_id is required", nil)
		return
	}

	s, err := h.Store.SaveStudent(r.Context(), billing.Student{
		ID:                    req.ID,
		Civility:              req.Civility,
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		RegistrationProfileID: req.RegistrationProfileID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(s))
}

// GetStudent returns a student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.FindStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*s))
}

// =============================================================================
// FINANCIAL SUPPORT HANDLERS
// =============================================================================

// ListFinancialSupports returns sponsors, filtered by ?student_id= when given.
func (h *Handler) ListFinancialSupports(w http.ResponseWriter, r *http.Request) {
	supports, err := h.Store.ListFinancialSupports(r.Context(), r.URL.Query().Get("student_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list financial supports", err)
		return
	}
	dtos := make([]FinancialSupportDTO, len(supports))
	for i, f := range supports {
		dtos[i] = toFinancialSupportDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateFinancialSupport attaches a sponsor to an existing student.
func (h *Handler) CreateFinancialSupport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FinancialSupportDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status := billing.SupportStatus(req.Status)
	if status != "" && status != billing.SupportActive && status != billing.SupportDeleted {
		writeError(w, http.StatusBadRequest, "status must be active or deleted", nil)
		return
	}

	student, err := h.Store.FindStudent(ctx, req.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}

	f, err := h.Store.SaveFinancialSupport(ctx, billing.FinancialSupport{
		ID:        req.ID,
		StudentID: req.StudentID,
		Civility:  req.Civility,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Status:    status,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create financial support", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFinancialSupportDTO(f))
}

// =============================================================================
// REGISTRATION PROFILE HANDLERS
// =============================================================================

// ListRegistrationProfiles returns all profiles.
func (h *Handler) ListRegistrationProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListRegistrationProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list registration profiles", err)
		return
	}
	dtos := make([]RegistrationProfileDTO, len(profiles))
	for i, p := range profiles {
		dtos[i] = toProfileDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRegistrationProfile creates a profile from factory JSON. The
// referenced template must exist.
func (h *Handler) CreateRegistrationProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	profile, err := h.Factory.ParseProfile(string(body))
	if err != nil {
		writeInputError(w, "Invalid registration profile", err)
		return
	}

	tpl, err := h.Store.FindTerminationOfPayment(ctx, profile.TerminationOfPaymentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get template", err)
		return
	}
	if tpl == nil {
		writeError(w, http.StatusNotFound, "Termination of payment not found", nil)
		return
	}

	saved, err := h.Store.SaveRegistrationProfile(ctx, profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save registration profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileDTO(saved))
}

// GetRegistrationProfile returns a profile.
func (h *Handler) GetRegistrationProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.FindRegistrationProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get registration profile", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Registration profile not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// =============================================================================
// TERMINATION OF PAYMENT HANDLERS
// =============================================================================

// ListTerminations returns all templates.
func (h *Handler) ListTerminations(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Store.ListTerminationOfPayments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates", err)
		return
	}
	dtos := make([]TerminationDTO, len(templates))
	for i, t := range templates {
		dtos[i] = toTerminationDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTermination creates a template from factory JSON.
func (h *Handler) CreateTermination(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	tpl, err := h.Factory.ParseTermination(string(body))
	if err != nil {
		writeInputError(w, "Invalid termination of payment", err)
		return
	}

	saved, err := h.Store.SaveTerminationOfPayment(r.Context(), tpl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save template", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTerminationDTO(saved))
}

// GetTermination returns a template.
func (h *Handler) GetTermination(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.FindTerminationOfPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get template", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Termination of payment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTerminationDTO(*t))
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Code = string(billing.KindOf(err))
	}
	writeJSON(w, status, resp)
}

// statusFor maps billing error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case billing.IsValidationError(err), billing.IsPayerError(err):
		return http.StatusBadRequest
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsStateError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeBillingError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

// writeInputError is writeBillingError for parsed input: errors that carry
// no billing kind are malformed JSON and map to 400.
func writeInputError(w http.ResponseWriter, message string, err error) {
	var be *billing.Error
	if !errors.As(err, &be) {
		writeError(w, http.StatusBadRequest, message, err)
		return
	}
	writeBillingError(w, message, err)
}
