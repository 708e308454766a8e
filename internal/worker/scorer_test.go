package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/scoring"
	"github.com/pipelinewhisperer/outreach/internal/store"
)

func TestScorerHappyPath(t *testing.T) {
	s := openTestStore(t)
	pub := &fakePublisher{}
	sc := &fakeScorer{result: scoring.Result{
		Score: 0.87, Persona: "enterprise", Reasoning: "large org", ModelVersion: "gpt-4o-mini",
	}}
	w := NewScorer(s, sc, pub, "")
	ctx := context.Background()

	raw := rawLeadJSON("lf_100", "Acme Corp", "1000+", "500k+", "jordan@acme.example")
	require.NoError(t, w.Handle(ctx, "lf_100", raw))

	lead, err := s.GetLeadByExternalID(ctx, nil, "lf_100")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, store.LeadScored, lead.Status)
	assert.Equal(t, 0.87, *lead.Score)
	assert.Equal(t, store.PersonaEnterprise, lead.Persona)
	assert.NotNil(t, lead.ScoredAt)
	assert.NotEmpty(t, lead.ScoringMetadata)

	published := pub.events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TopicLeadsScored, published[0].Topic)
	assert.Equal(t, "lf_100", published[0].Key)

	var scored events.ScoredLead
	require.NoError(t, json.Unmarshal(published[0].Value, &scored))
	assert.Equal(t, lead.ID, scored.DBID)
	assert.Equal(t, 0.87, scored.Scoring.Score)
	assert.Equal(t, "enterprise", scored.Scoring.Persona)
	assert.Equal(t, "Acme Corp", scored.Company.Name)
}

func TestScorerDuplicateRedeliverySkips(t *testing.T) {
	s := openTestStore(t)
	pub := &fakePublisher{}
	w := NewScorer(s, &fakeScorer{result: scoring.Result{Score: 0.9, Persona: "enterprise"}}, pub, "")
	ctx := context.Background()

	raw := rawLeadJSON("lf_101", "Acme Corp", "1000+", "500k+", "jordan@acme.example")
	require.NoError(t, w.Handle(ctx, "lf_101", raw))
	require.NoError(t, w.Handle(ctx, "lf_101", raw))

	leads, err := s.ListLeads(ctx, store.LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, leads, 1)
	assert.Len(t, pub.events(), 1, "duplicate must not emit a second scored event")
}

func TestScorerEmitFailureRollsBack(t *testing.T) {
	s := openTestStore(t)
	pub := &fakePublisher{err: errPublishDown}
	w := NewScorer(s, &fakeScorer{result: scoring.Result{Score: 0.9, Persona: "smb"}}, pub, "")
	ctx := context.Background()

	err := w.Handle(ctx, "lf_102", rawLeadJSON("lf_102", "Beta Inc", "11-50", "<10k", "lee@beta.example"))
	require.Error(t, err)

	lead, err := s.GetLeadByExternalID(ctx, nil, "lf_102")
	require.NoError(t, err)
	assert.Nil(t, lead, "emit failure must roll the insert back")

	// Once the broker recovers the redelivered record goes through.
	pub.err = nil
	require.NoError(t, w.Handle(ctx, "lf_102", rawLeadJSON("lf_102", "Beta Inc", "11-50", "<10k", "lee@beta.example")))
	lead, _ = s.GetLeadByExternalID(ctx, nil, "lf_102")
	assert.NotNil(t, lead)
}

func TestScorerPersonaMapping(t *testing.T) {
	cases := map[string]store.Persona{
		"mid-market": store.PersonaSMB,
		"Enterprise": store.PersonaEnterprise,
		"galactic":   store.PersonaUnknown,
	}
	i := 0
	for label, want := range cases {
		s := openTestStore(t)
		pub := &fakePublisher{}
		w := NewScorer(s, &fakeScorer{result: scoring.Result{Score: 0.7, Persona: label}}, pub, "")

		extID := "lf_persona_" + label
		require.NoError(t, w.Handle(context.Background(), extID,
			rawLeadJSON(extID, "MapCo", "51-200", "10k-50k", "pat@mapco.example")))

		lead, err := s.GetLeadByExternalID(context.Background(), nil, extID)
		require.NoError(t, err)
		assert.Equal(t, want, lead.Persona, "persona label %q", label)
		i++
	}
}

func TestScorerMalformedRecordCommits(t *testing.T) {
	s := openTestStore(t)
	w := NewScorer(s, &fakeScorer{}, &fakePublisher{}, "")

	assert.NoError(t, w.Handle(context.Background(), "k", []byte(`{"company": 42}`)))
	assert.NoError(t, w.Handle(context.Background(), "", []byte(`{}`)))

	leads, err := s.ListLeads(context.Background(), store.LeadFilter{})
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestScorerExternalIDFallsBackToKey(t *testing.T) {
	s := openTestStore(t)
	pub := &fakePublisher{}
	w := NewScorer(s, &fakeScorer{result: scoring.Result{Score: 0.8, Persona: "smb"}}, pub, "")

	payload := []byte(`{"company": {"name": "KeyedCo"}, "contact": {"email": "a@keyed.example"}}`)
	require.NoError(t, w.Handle(context.Background(), "lf_keyed", payload))

	lead, err := s.GetLeadByExternalID(context.Background(), nil, "lf_keyed")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "KeyedCo", lead.CompanyName)
}
