/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the workflow frontend

ROUTE GROUPS:
  /api/shows/*          Show totals, roster, per-show payout
  /api/people/*         Payee directory
  /api/schemes/*        Scheme management and presets
  /api/line-items/*     Payment of single line items
  /api/advances/*       Advance ledger
  /api/expenses/*       Production expenses and allocations
  /api/payroll-runs/*   Payroll batching
  /api/scenarios/*      Demo scenarios

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

// DefaultAllowedOrigins is used when NewRouter gets no origins.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Show routes
		r.Route("/shows", func(r chi.Router) {
			r.Get("/", h.ListShows)
			r.Post("/", h.SaveShow)
			r.Get("/{id}", h.GetShow)
			r.Put("/{id}/roster", h.SetRoster)
			r.Get("/{id}/advances", h.ShowAdvances)
			r.Post("/{id}/waivers", h.WaiveAdvance)

			r.Route("/{id}/payout", func(r chi.Router) {
				r.Get("/", h.GetPayout)
				r.Post("/calculate", h.CalculatePayout)
				r.Post("/preview", h.PreviewPayout)
				r.Post("/close", h.ClosePayout)
				r.Post("/reopen", h.ReopenPayout)
				r.Post("/scheme", h.ApplyScheme)
				r.Put("/rules", h.SetOverrideRules)
				r.Post("/line-items", h.AddLineItem)
				r.Post("/missing-cast", h.AddMissingCast)
				r.Post("/offline-paid", h.MarkOfflinePaid)
			})
		})

		r.Route("/people", func(r chi.Router) {
			r.Get("/", h.ListPeople)
			r.Post("/", h.SavePerson)
		})

		// Scheme routes
		r.Route("/schemes", func(r chi.Router) {
			r.Get("/", h.ListSchemes)
			r.Post("/", h.CreateScheme)
			r.Get("/presets", h.ListPresets)
			r.Put("/{id}", h.UpdateScheme)
			r.Post("/{id}/default", h.SetDefaultScheme)
		})

		// Line item routes
		r.Route("/line-items", func(r chi.Router) {
			r.Put("/{id}", h.AdjustLineItem)
			r.Delete("/{id}", h.RemoveLineItem)
			r.Post("/{id}/paid", h.MarkLineItemPaid)
			r.Delete("/{id}/paid", h.UnmarkLineItemPaid)
		})

		// Advance routes
		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.IssueAdvance)
			r.Get("/{id}", h.GetAdvance)
			r.Get("/{id}/history", h.AdvanceHistory)
			r.Post("/{id}/write-off", h.WriteOffAdvance)
			r.Delete("/{id}/write-off", h.ReinstateAdvance)
			r.Post("/{id}/paid", h.MarkAdvancePaid)
			r.Delete("/{id}/paid", h.UnmarkAdvancePaid)
		})

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeactivateExpense)
			r.Post("/{id}/recalculate", h.RecalculateExpense)
			r.Put("/{id}/allocations/{showID}/override", h.OverrideAllocation)
			r.Delete("/{id}/allocations/{showID}/override", h.ClearAllocationOverride)
		})

		// Payroll routes
		r.Route("/payroll-runs", func(r chi.Router) {
			r.Get("/", h.ListPayrollRuns)
			r.Post("/", h.CreatePayrollRun)
			r.Get("/{id}", h.GetPayrollRun)
			r.Post("/{id}/rebuild", h.RebuildPayrollRun)
			r.Post("/{id}/process", h.ProcessPayrollRun)
			r.Post("/{id}/complete", h.CompletePayrollRun)
			r.Post("/{id}/cancel", h.CancelPayrollRun)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
