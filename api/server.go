/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /toil/timesheets/*    Timesheet registration and views
  /toil/submit          Workflow entry
  /toil/approve|reject  Decisions
  /toil/consume         Leave debits
  /toil/balance/*       Balance queries
  /toil/sweep           Manual forfeiture pass
  /toil/employees/*     Employee records

SECURITY NOTE:
  Approver identity comes from the request body; there is no
  authentication middleware. Front this with a gateway in production.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/toil", func(r chi.Router) {
		// Timesheet workflow
		r.Route("/timesheets", func(r chi.Router) {
			r.Post("/", h.RegisterTimesheet)
			r.Get("/{id}", h.GetTimesheet)
		})
		r.Post("/submit", h.Submit)
		r.Post("/approve", h.Approve)
		r.Post("/reject", h.Reject)

		// Ledger
		r.Post("/consume", h.Consume)
		r.Get("/balance/{id}", h.GetBalance)
		r.Get("/entries/{id}", h.ListEntries)
		r.Get("/allocations/{id}", h.ListAllocations)

		// Admin
		r.Post("/sweep", h.TriggerSweep)
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
		})
	})

	return r
}
