/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the front desk app

ROUTE GROUPS:
  /api/clients/*        Clients, their periods, morosidad and payments
  /api/payments/*       Payment review
  /api/morosidad        Portfolio report
  /api/prices/*         Tariff and quotes
  /api/capacity         Occupancy
  /api/admin/*          Admin operations
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Put("/{id}", h.UpdateClient)
			r.Delete("/{id}", h.DeactivateClient)
			r.Get("/{id}/periods", h.GetPeriods)
			r.Get("/{id}/morosidad", h.GetMorosidad)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RegisterPayment)
		})

		// Payment review routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/confirm", h.ConfirmPayment)
			r.Post("/{id}/reject", h.RejectPayment)
		})

		r.Get("/morosidad", h.GetPortfolio)

		// Price routes
		r.Route("/prices", func(r chi.Router) {
			r.Get("/", h.GetPrices)
			r.Put("/", h.UpdatePrices)
			r.Get("/quote", h.QuotePrice)
		})

		r.Get("/capacity", h.GetCapacity)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
