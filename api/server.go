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
  /api/entries/*        Budget entry lifecycle
  /api/departments/*    Department management
  /api/limits/*         Global limit configuration
  /api/optimization/*   Gap analysis, cut suggestions, allocation
  /api/conflicts/*      Cross-department conflict detection and resolution
  /api/forecast/*       Multi-year projection and anomaly scan
  /api/dashboard/*      Aggregate stats
  /api/demo/*           Demo dataset loader (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Budget entries
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Get("/{id}", h.GetEntry)
			r.Put("/{id}", h.UpdateEntry)
			r.Post("/{id}/submit", h.SubmitEntry)
			r.Post("/{id}/approve", h.ApproveEntry)
			r.Post("/{id}/reject", h.RejectEntry)
			r.Get("/{id}/history", h.EntryHistory)
		})

		// Departments
		r.Route("/departments", func(r chi.Router) {
			r.Get("/", h.ListDepartments)
			r.Post("/", h.SaveDepartment)
			r.Get("/{code}/entries", h.DepartmentEntries)
			r.Post("/{code}/lock", h.LockDepartment)
		})

		// Global limits
		r.Route("/limits", func(r chi.Router) {
			r.Get("/", h.ListLimits)
			r.Put("/{year}", h.SetLimit)
		})

		// Optimization
		r.Route("/optimization", func(r chi.Router) {
			r.Get("/gap-analysis", h.GapAnalysis)
			r.Get("/suggestions", h.SuggestCuts)
			r.Post("/apply", h.ApplySuggestion)
			r.Get("/departments", h.DepartmentAllocations)
			r.Get("/multi-year", h.MultiYearAllocation)
		})

		// Conflicts
		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", h.ListConflicts)
			r.Post("/detect", h.DetectConflicts)
			r.Get("/summary", h.ConflictSummary)
			r.Post("/{id}/resolve", h.ResolveConflict)
		})

		// Forecast
		r.Route("/forecast", func(r chi.Router) {
			r.Get("/", h.Forecast)
			r.Get("/anomalies", h.Anomalies)
		})

		// Dashboard
		r.Get("/dashboard/stats", h.DashboardStats)
		r.Get("/audit/recent", h.RecentAudit)

		// Demo data (dev only)
		r.Post("/demo/load", h.LoadDemo)
	})

	return r
}
