// Package api exposes the read-only HTTP surface: lead and experiment
// listings, the dashboard aggregate, and health probes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pipelinewhisperer/outreach/internal/store"
)

// Prober reports one adapter's availability for the readiness probe.
type Prober interface {
	HealthCheck(ctx context.Context) map[string]interface{}
}

// Server serves the read API over the shared store.
type Server struct {
	store   *store.Store
	probers map[string]Prober
}

// NewServer builds the API server. probers maps adapter names to their
// health checks; pass nil when no adapters should be probed.
func NewServer(st *store.Store, probers map[string]Prober) *Server {
	return &Server{store: st, probers: probers}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/leads", s.handleListLeads)
		r.Get("/leads/stats", s.handleLeadStats)
		r.Get("/leads/external/{externalID}", s.handleGetLeadByExternalID)
		r.Get("/leads/{id:[0-9]+}", s.handleGetLeadByID)
		r.Get("/experiments", s.handleListExperiments)
		r.Get("/experiments/{experimentID}", s.handleGetExperiment)
		r.Patch("/experiments/{experimentID}", s.handlePatchExperiment)
		r.Get("/dashboard/metrics", s.handleDashboardMetrics)
		r.Get("/dashboard/activity", s.handleDashboardActivity)
	})
	r.Get("/health/liveness", s.handleLiveness)
	r.Get("/health/readiness", s.handleReadiness)
	r.Get("/health/detailed", s.handleDetailedHealth)

	return r
}
