/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests, origins from configuration

ROUTE GROUPS:
  /api/students/*               Students and their billings
  /api/billings/*               Billing reads, payments, reversals
  /api/financial-supports/*     Sponsors
  /api/registration-profiles/*  Fee profiles
  /api/terminations/*           Installment templates
  /api/scenarios/*              Demo scenarios
  /api/admin/*                  Audit
  /health                       Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
// An empty allowedOrigins list allows every origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/billings", h.ListStudentBillings)
			r.Post("/{id}/billings", h.GenerateBilling)
		})

		// Billing routes
		r.Route("/billings", func(r chi.Router) {
			r.Get("/{id}", h.GetBilling)
			r.Post("/{id}/payments", h.AddPayment)
			r.Post("/{id}/reversals", h.RemovePayment)
		})

		// Reference data
		r.Route("/financial-supports", func(r chi.Router) {
			r.Get("/", h.ListFinancialSupports)
			r.Post("/", h.CreateFinancialSupport)
		})
		r.Route("/registration-profiles", func(r chi.Router) {
			r.Get("/", h.ListRegistrationProfiles)
			r.Post("/", h.CreateRegistrationProfile)
			r.Get("/{id}", h.GetRegistrationProfile)
		})
		r.Route("/terminations", func(r chi.Router) {
			r.Get("/", h.ListTerminations)
			r.Post("/", h.CreateTermination)
			r.Get("/{id}", h.GetTermination)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", h.RunAudit)
		})
	})

	return r
}
