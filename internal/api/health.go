package api

import (
	"net/http"
	"time"
)

// handleLiveness answers as long as the process serves requests.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports healthy, degraded or unhealthy. The store is
// load-bearing: an unreachable database is unhealthy. Adapter probes
// only degrade the report; a degraded pod stays in routing.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"database": map[string]interface{}{
				"ok":    false,
				"error": err.Error(),
			},
		})
		return
	}

	status := "healthy"
	adapters := make(map[string]interface{}, len(s.probers))
	for name, prober := range s.probers {
		report := prober.HealthCheck(ctx)
		adapters[name] = report
		if st, _ := report["status"].(string); st != "healthy" {
			status = "degraded"
		}
	}

	resp := map[string]interface{}{
		"status":   status,
		"database": map[string]interface{}{"ok": true},
	}
	if len(adapters) > 0 {
		resp["adapters"] = adapters
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDetailedHealth is the readiness report plus pipeline counters,
// for operators rather than orchestration probes. Always 200.
func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.store.Ping(ctx); err != nil {
		resp["status"] = "unhealthy"
		resp["database"] = map[string]interface{}{"ok": false, "error": err.Error()}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp["database"] = map[string]interface{}{"ok": true, "driver": s.store.Driver()}

	adapters := make(map[string]interface{}, len(s.probers))
	for name, prober := range s.probers {
		report := prober.HealthCheck(ctx)
		adapters[name] = report
		if st, _ := report["status"].(string); st != "healthy" && resp["status"] == "healthy" {
			resp["status"] = "degraded"
		}
	}
	if len(adapters) > 0 {
		resp["adapters"] = adapters
	}

	if stats, err := s.store.GetLeadStats(ctx); err == nil {
		resp["leads"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}
