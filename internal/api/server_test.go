package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinewhisperer/outreach/internal/store"
)

func newTestServer(t *testing.T, probers map[string]Prober) (*Server, *store.Store) {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.NewWithDB(db, "sqlite3")
	require.NoError(t, st.EnsureSchema(context.Background()))
	return NewServer(st, probers), st
}

func seedPipeline(t *testing.T, st *store.Store) *store.Lead {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InsertExperiment(ctx, nil, &store.Experiment{
		ExperimentID: "exp_a", Name: "direct pitch", Alpha: 3, Beta: 2, IsActive: true,
	}))

	score := 0.82
	email := "jordan@acme.example"
	now := time.Now().UTC()
	lead := &store.Lead{
		ExternalID:   "lf_1",
		CompanyName:  "Acme Corp",
		ContactEmail: &email,
		RawPayload:   store.NullRawMessage(`{}`),
		Score:        &score,
		Persona:      store.PersonaEnterprise,
		Status:       store.LeadScored,
		ScoredAt:     &now,
	}
	require.NoError(t, st.InsertLead(ctx, nil, lead))
	require.NoError(t, st.InsertOutreachLog(ctx, nil, &store.OutreachLog{
		LeadID:       lead.ID,
		ExperimentID: "exp_a",
		TemplateID:   "tpl_a",
		Body:         "hello",
		Status:       store.OutreachSent,
		SentAt:       &now,
	}))
	return lead
}

func doGet(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestListLeads(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)
	h := srv.Router()

	rec, body := doGet(t, h, "/api/leads")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	leads := body["leads"].([]interface{})
	lead := leads[0].(map[string]interface{})
	assert.Equal(t, "lf_1", lead["external_id"])
	assert.Equal(t, "Acme Corp", lead["company_name"])
	assert.Equal(t, 0.82, lead["score"])

	// Status filter
	rec, body = doGet(t, h, "/api/leads?status=contacted")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestGetLead(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)
	h := srv.Router()

	rec, body := doGet(t, h, "/api/leads/external/lf_1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "enterprise", body["persona"])

	rec, body = doGet(t, h, "/api/leads/external/lf_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "lead not found", body["error"])
}

func TestListExperiments(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)

	rec, body := doGet(t, srv.Router(), "/api/experiments")
	assert.Equal(t, http.StatusOK, rec.Code)

	exps := body["experiments"].([]interface{})
	require.Len(t, exps, 1)
	exp := exps[0].(map[string]interface{})
	assert.Equal(t, "exp_a", exp["experiment_id"])
	assert.Equal(t, 3.0, exp["alpha"])
	assert.InDelta(t, 0.6, exp["expected_rate"].(float64), 1e-9)
}

func TestDashboard(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)
	h := srv.Router()

	rec, body := doGet(t, h, "/api/dashboard/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	leads := body["leads"].(map[string]interface{})
	assert.Equal(t, float64(1), leads["total"])
	require.Len(t, body["experiments"].([]interface{}), 1)

	rec, body = doGet(t, h, "/api/dashboard/activity")
	assert.Equal(t, http.StatusOK, rec.Code)
	recent := body["recent_outreach"].([]interface{})
	require.Len(t, recent, 1)
	assert.Equal(t, "sent", recent[0].(map[string]interface{})["status"])
}

func TestLeadStats(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)

	rec, body := doGet(t, srv.Router(), "/api/leads/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
	byStatus := body["by_status"].(map[string]interface{})
	assert.Equal(t, float64(1), byStatus["scored"])
}

func TestGetLeadByID(t *testing.T) {
	srv, st := newTestServer(t, nil)
	lead := seedPipeline(t, st)
	h := srv.Router()

	rec, body := doGet(t, h, fmt.Sprintf("/api/leads/%d", lead.ID))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lf_1", body["external_id"])

	rec, _ = doGet(t, h, "/api/leads/999999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchExperimentToggle(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)
	h := srv.Router()

	req := httptest.NewRequest(http.MethodPatch, "/api/experiments/exp_a",
		strings.NewReader(`{"is_active":false}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["is_active"])

	exps, err := st.ActiveExperiments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, exps)

	// Missing is_active is a 400, no write
	req = httptest.NewRequest(http.MethodPatch, "/api/experiments/exp_a",
		strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExperiment(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedPipeline(t, st)
	h := srv.Router()

	rec, body := doGet(t, h, "/api/experiments/exp_a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "direct pitch", body["name"])

	rec, _ = doGet(t, h, "/api/experiments/exp_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDetailedHealth(t *testing.T) {
	srv, st := newTestServer(t, map[string]Prober{
		"delivery": fakeProber{report: map[string]interface{}{"status": "simulate_mode"}},
	})
	seedPipeline(t, st)

	rec, body := doGet(t, srv.Router(), "/health/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	db := body["database"].(map[string]interface{})
	assert.Equal(t, "sqlite3", db["driver"])
	leads := body["leads"].(map[string]interface{})
	assert.Equal(t, float64(1), leads["total"])
}

type fakeProber struct {
	report map[string]interface{}
}

func (p fakeProber) HealthCheck(ctx context.Context) map[string]interface{} { return p.report }

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, map[string]Prober{
		"scoring": fakeProber{report: map[string]interface{}{"status": "healthy"}},
	})
	h := srv.Router()

	rec, body := doGet(t, h, "/health/liveness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = doGet(t, h, "/health/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadinessDegradedAdapter(t *testing.T) {
	srv, _ := newTestServer(t, map[string]Prober{
		"scoring": fakeProber{report: map[string]interface{}{"status": "mock_mode"}},
	})

	rec, body := doGet(t, srv.Router(), "/health/readiness")
	assert.Equal(t, http.StatusOK, rec.Code, "degraded must not fail the probe")
	assert.Equal(t, "degraded", body["status"])
}

func TestReadinessUnhealthyDatabase(t *testing.T) {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	st := store.NewWithDB(db, "sqlite3")
	require.NoError(t, st.EnsureSchema(context.Background()))
	db.Close()

	srv := NewServer(st, nil)
	rec, body := doGet(t, srv.Router(), "/health/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}
