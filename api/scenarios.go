/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with reference data
  and generated billings, so the payment endpoints can be tried right away.

AVAILABLE SCENARIOS:
  self_pay:      One student paying 100% of their own fees
  family_mixed:  Student 40%, parent 60%, the student also owns the deposit
  sponsor_only:  Two sponsors 50/50, the student gets a deposit-only billing

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Create template and profile via factory presets
  3. Create the student and sponsors
  4. Generate billings through billing.Service

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "family_mixed"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/presets.go: Template and profile JSON
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "self_pay",
		Name:        "Self Pay",
		Description: "One student pays 100% of 800 + 200 fees, 100 deposit, 30/30/40 schedule",
	},
	{
		ID:          "family_mixed",
		Name:        "Family (Mixed)",
		Description: "Student covers 40%, a parent 60%; the student's billing owns the deposit",
	},
	{
		ID:          "sponsor_only",
		Name:        "Sponsors Only",
		Description: "Two sponsors split the term fees 50/50; the student holds a deposit-only billing",
	},
}

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.getCurrentScenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")

	if err := loader(ctx, h); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.setCurrentScenario(req.ScenarioID)
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

func (h *Handler) getCurrentScenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"self_pay":     loadSelfPayScenario,
	"family_mixed": loadFamilyMixedScenario,
	"sponsor_only": loadSponsorOnlyScenario,
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	scenarioTemplateID = "school-year"
	scenarioProfileID  = "standard"
	scenarioStudentID  = "student-1"
	scenarioParentID   = "parent-1"
	scenarioCompanyID  = "company-1"
)

// seedReferenceData creates the shared template, profile and student.
func (h *Handler) seedReferenceData(ctx context.Context) error {
	tpl, err := h.Factory.ParseTermination(factory.ThreeTermsJSON(scenarioTemplateID, 2025, "0"))
	if err != nil {
		return fmt.Errorf("template: %w", err)
	}
	if _, err := h.Store.SaveTerminationOfPayment(ctx, tpl); err != nil {
		return err
	}

	profile, err := h.Factory.ParseProfile(factory.ProfileJSONFor(
		scenarioProfileID, "Standard registration", "800", "200", "100", scenarioTemplateID))
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if _, err := h.Store.SaveRegistrationProfile(ctx, profile); err != nil {
		return err
	}

	_, err = h.Store.SaveStudent(ctx, billing.Student{
		ID:                    scenarioStudentID,
		FirstName:             "Ada",
		LastName:              "Martin",
		RegistrationProfileID: scenarioProfileID,
	})
	return err
}

func (h *Handler) addSponsor(ctx context.Context, id, firstName, lastName string) error {
	_, err := h.Store.SaveFinancialSupport(ctx, billing.FinancialSupport{
		ID:        id,
		StudentID: scenarioStudentID,
		FirstName: firstName,
		LastName:  lastName,
	})
	return err
}

func (h *Handler) generate(ctx context.Context, pt billing.PaymentType, payers ...billing.PayerInput) error {
	_, err := h.Service.GenerateBilling(ctx, billing.GenerateRequest{
		StudentID:   scenarioStudentID,
		PaymentType: pt,
		Payers:      payers,
	})
	return err
}

func payer(id, coverage string) billing.PayerInput {
	return billing.PayerInput{PayerID: id, CostCoverage: decimal.RequireFromString(coverage)}
}

func loadSelfPayScenario(ctx context.Context, h *Handler) error {
	if err := h.seedReferenceData(ctx); err != nil {
		return err
	}
	return h.generate(ctx, billing.PaymentSelf, payer(scenarioStudentID, "100"))
}

func loadFamilyMixedScenario(ctx context.Context, h *Handler) error {
	if err := h.seedReferenceData(ctx); err != nil {
		return err
	}
	if err := h.addSponsor(ctx, scenarioParentID, "Jean", "Martin"); err != nil {
		return err
	}
	return h.generate(ctx, billing.PaymentFamily,
		payer(scenarioStudentID, "40"),
		payer(scenarioParentID, "60"))
}

func loadSponsorOnlyScenario(ctx context.Context, h *Handler) error {
	if err := h.seedReferenceData(ctx); err != nil {
		return err
	}
	if err := h.addSponsor(ctx, scenarioParentID, "Jean", "Martin"); err != nil {
		return err
	}
	if err := h.addSponsor(ctx, scenarioCompanyID, "", "Acme Corp"); err != nil {
		return err
	}
	return h.generate(ctx, billing.PaymentFamily,
		payer(scenarioParentID, "50"),
		payer(scenarioCompanyID, "50"))
}
