package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pipelinewhisperer/outreach/internal/store"
)

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LeadFilter{
		Status:  store.LeadStatus(q.Get("status")),
		Persona: store.Persona(q.Get("persona")),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	leads, err := s.store.ListLeads(r.Context(), filter)
	if err != nil {
		writeJSONError(w, "failed to list leads", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leads": leadViews(leads),
		"count": len(leads),
	})
}

func (s *Server) handleGetLeadByExternalID(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	lead, err := s.store.GetLeadByExternalID(r.Context(), nil, externalID)
	if err != nil {
		writeJSONError(w, "failed to load lead", http.StatusInternalServerError)
		return
	}
	if lead == nil {
		writeJSONError(w, "lead not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, leadView(lead))
}

func (s *Server) handleGetLeadByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, "invalid lead id", http.StatusBadRequest)
		return
	}
	lead, err := s.store.GetLeadByID(r.Context(), nil, id)
	if err != nil {
		writeJSONError(w, "failed to load lead", http.StatusInternalServerError)
		return
	}
	if lead == nil {
		writeJSONError(w, "lead not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, leadView(lead))
}

func (s *Server) handleLeadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetLeadStats(r.Context())
	if err != nil {
		writeJSONError(w, "failed to aggregate leads", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	exps, err := s.store.ListExperiments(r.Context())
	if err != nil {
		writeJSONError(w, "failed to list experiments", http.StatusInternalServerError)
		return
	}
	views := make([]map[string]interface{}, len(exps))
	for i := range exps {
		views[i] = experimentView(&exps[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"experiments": views,
		"count":       len(views),
	})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "experimentID")
	exp, err := s.store.GetExperiment(r.Context(), nil, experimentID)
	if err != nil {
		writeJSONError(w, "failed to load experiment", http.StatusInternalServerError)
		return
	}
	if exp == nil {
		writeJSONError(w, "experiment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, experimentView(exp))
}

// handlePatchExperiment toggles is_active. Posterior counters are owned
// by the feedback worker and cannot be edited here.
func (s *Server) handlePatchExperiment(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "experimentID")

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeJSONError(w, "body must set is_active", http.StatusBadRequest)
		return
	}

	exp, err := s.store.GetExperiment(r.Context(), nil, experimentID)
	if err != nil {
		writeJSONError(w, "failed to load experiment", http.StatusInternalServerError)
		return
	}
	if exp == nil {
		writeJSONError(w, "experiment not found", http.StatusNotFound)
		return
	}
	if err := s.store.SetExperimentActive(r.Context(), experimentID, *req.IsActive); err != nil {
		writeJSONError(w, "failed to update experiment", http.StatusInternalServerError)
		return
	}
	exp.IsActive = *req.IsActive
	writeJSON(w, http.StatusOK, experimentView(exp))
}

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.store.GetLeadStats(ctx)
	if err != nil {
		writeJSONError(w, "failed to aggregate leads", http.StatusInternalServerError)
		return
	}
	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		writeJSONError(w, "failed to list experiments", http.StatusInternalServerError)
		return
	}

	expViews := make([]map[string]interface{}, len(exps))
	for i := range exps {
		expViews[i] = experimentView(&exps[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leads":       stats,
		"experiments": expViews,
	})
}

func (s *Server) handleDashboardActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	recent, err := s.store.RecentOutreach(r.Context(), limit)
	if err != nil {
		writeJSONError(w, "failed to load recent outreach", http.StatusInternalServerError)
		return
	}
	activity := make([]map[string]interface{}, len(recent))
	for i := range recent {
		activity[i] = outreachView(&recent[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent_outreach": activity,
		"count":           len(activity),
	})
}

func leadViews(leads []store.Lead) []map[string]interface{} {
	views := make([]map[string]interface{}, len(leads))
	for i := range leads {
		views[i] = leadView(&leads[i])
	}
	return views
}

func leadView(l *store.Lead) map[string]interface{} {
	v := map[string]interface{}{
		"id":             l.ID,
		"external_id":    l.ExternalID,
		"company_name":   l.CompanyName,
		"persona":        l.Persona,
		"status":         l.Status,
		"outreach_count": l.OutreachCount,
		"response_count": l.ResponseCount,
		"created_at":     l.CreatedAt,
	}
	if l.Score != nil {
		v["score"] = *l.Score
	}
	if l.ContactName != nil {
		v["contact_name"] = *l.ContactName
	}
	if l.Industry != nil {
		v["industry"] = *l.Industry
	}
	if l.ExperimentID != nil {
		v["experiment_id"] = *l.ExperimentID
	}
	if l.ContactedAt != nil {
		v["contacted_at"] = *l.ContactedAt
	}
	return v
}

func experimentView(e *store.Experiment) map[string]interface{} {
	return map[string]interface{}{
		"experiment_id":      e.ExperimentID,
		"name":               e.Name,
		"is_active":          e.IsActive,
		"leads_assigned":     e.LeadsAssigned,
		"outreach_sent":      e.OutreachSent,
		"responses_received": e.ResponsesReceived,
		"conversions":        e.Conversions,
		"conversion_rate":    e.ConversionRate,
		"response_rate":      e.ResponseRate,
		"alpha":              e.Alpha,
		"beta":               e.Beta,
		"expected_rate":      e.Alpha / (e.Alpha + e.Beta),
		"created_at":         e.CreatedAt,
	}
}

func outreachView(o *store.OutreachLog) map[string]interface{} {
	v := map[string]interface{}{
		"id":            o.ID,
		"lead_id":       o.LeadID,
		"experiment_id": o.ExperimentID,
		"template_id":   o.TemplateID,
		"channel":       o.Channel,
		"status":        o.Status,
		"created_at":    o.CreatedAt,
	}
	if o.Subject != nil {
		v["subject"] = *o.Subject
	}
	if o.ExternalMessageID != nil {
		v["message_id"] = *o.ExternalMessageID
	}
	if o.SentAt != nil {
		v["sent_at"] = *o.SentAt
	}
	if o.ErrorMessage != nil {
		v["error"] = *o.ErrorMessage
	}
	return v
}
