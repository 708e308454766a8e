package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/events"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.OpenAIConfig{
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		BaseURL:        srv.URL,
		TimeoutSeconds: 5,
	})
}

func completionResponse(content string) string {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestScoreViaModel(t *testing.T) {
	var gotReq map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionResponse(`{"score": 0.87, "persona": "enterprise", "reasoning": "large org"}`)))
	})

	res := c.Score(context.Background(), CompanyRecord{
		CompanyName:   "BigCo",
		EmployeeCount: 2000,
		Revenue:       50_000_000,
	})

	assert.False(t, res.Mock)
	assert.Equal(t, 0.87, res.Score)
	assert.Equal(t, "enterprise", res.Persona)
	assert.Equal(t, "gpt-4o-mini", res.ModelVersion)

	assert.Equal(t, "gpt-4o-mini", gotReq["model"])
	assert.Equal(t, 0.3, gotReq["temperature"])
	rf := gotReq["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", rf["type"])
}

func TestScoreParsesCodeFencedContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse("```json\n{\"score\": 0.6, \"persona\": \"smb\", \"reasoning\": \"mid\"}\n```")))
	})
	res := c.Score(context.Background(), CompanyRecord{CompanyName: "MidCo"})
	assert.False(t, res.Mock)
	assert.Equal(t, 0.6, res.Score)
	assert.Equal(t, "smb", res.Persona)
}

func TestScoreFallsBackOnBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse("I cannot answer that.")))
	})
	res := c.Score(context.Background(), CompanyRecord{CompanyName: "OddCo", EmployeeCount: 600})
	assert.True(t, res.Mock)
	assert.Equal(t, "enterprise", res.Persona)
	assert.Equal(t, fallbackModelVersion, res.ModelVersion)
}

func TestScoreFallsBackOnServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	res := c.Score(context.Background(), CompanyRecord{CompanyName: "SmallCo", EmployeeCount: 5})
	assert.True(t, res.Mock)
	assert.GreaterOrEqual(t, res.Score, 0.2)
	assert.LessOrEqual(t, res.Score, 0.95)
}

func TestScoreWithoutKeyUsesHeuristic(t *testing.T) {
	c := NewClient(config.OpenAIConfig{BaseURL: "http://unused.invalid"})
	assert.True(t, c.Mock())
	res := c.Score(context.Background(), CompanyRecord{CompanyName: "NoKeyCo"})
	assert.True(t, res.Mock)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		res := c.Score(ctx, CompanyRecord{CompanyName: "FlakyCo"})
		assert.True(t, res.Mock)
	}
	// After five consecutive failures the breaker is open and the last
	// round never reaches the server.
	assert.Equal(t, 5, calls)
}

func TestFallbackScoreDeterministicWithinJitter(t *testing.T) {
	rec := CompanyRecord{CompanyName: "SteadyCo", EmployeeCount: 600, Revenue: 5_000_000}
	first := fallbackScore(rec)
	for i := 0; i < 20; i++ {
		again := fallbackScore(rec)
		assert.InDelta(t, first.Score, again.Score, 0.1)
		assert.Equal(t, first.Persona, again.Persona)
	}
}

func TestFallbackScoreRubric(t *testing.T) {
	big := fallbackScore(CompanyRecord{EmployeeCount: 2000, Revenue: 50_000_000})
	assert.Equal(t, "enterprise", big.Persona)
	assert.GreaterOrEqual(t, big.Score, 0.70)

	small := fallbackScore(CompanyRecord{EmployeeCount: 5, Revenue: 50_000})
	assert.Equal(t, "smb", small.Persona)
	assert.LessOrEqual(t, small.Score, 0.45)
}

func TestNormalizeBuckets(t *testing.T) {
	sizes := map[string]int{
		"1-10":     5,
		"11-50":    30,
		"51-200":   125,
		"201-1000": 600,
		"1000+":    2000,
		"":         0,
		"weird":    0,
		"5-15":     10,
		"300+":     600,
		"42":       42,
	}
	for in, want := range sizes {
		assert.Equal(t, want, EmployeeCountFromBucket(in), "size bucket %q", in)
	}

	budgets := map[string]float64{
		"<10k":      50_000,
		"10k-50k":   200_000,
		"50k-100k":  500_000,
		"100k-500k": 2_500_000,
		"500k+":     6_000_000,
		"":          0,
		"millions":  0,
	}
	for in, want := range budgets {
		assert.Equal(t, want, RevenueFromBudget(in), "budget bucket %q", in)
	}
}

func TestNormalizeFromRawLead(t *testing.T) {
	raw := &events.RawLead{
		Company: events.Company{Name: "Acme", Size: "201-1000", Industry: "fintech", Website: "acme.example"},
		Metadata: events.LeadMetadata{
			BudgetRange: "100k-500k",
			CompanySize: "1-10", // company.size wins
		},
	}
	rec := Normalize(raw)
	assert.Equal(t, "Acme", rec.CompanyName)
	assert.Equal(t, 600, rec.EmployeeCount)
	assert.Equal(t, 2_500_000.0, rec.Revenue)
	assert.Equal(t, "fintech", rec.Industry)

	// Metadata fills gaps the company record leaves open
	raw2 := &events.RawLead{
		Company:  events.Company{Name: "Beta"},
		Metadata: events.LeadMetadata{CompanySize: "11-50", Spend: "<10k", Industry: "retail"},
	}
	rec2 := Normalize(raw2)
	assert.Equal(t, 30, rec2.EmployeeCount)
	assert.Equal(t, 50_000.0, rec2.Revenue)
	assert.Equal(t, "retail", rec2.Industry)
}
