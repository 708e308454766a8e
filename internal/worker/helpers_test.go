package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/pipelinewhisperer/outreach/internal/delivery"
	"github.com/pipelinewhisperer/outreach/internal/scoring"
	"github.com/pipelinewhisperer/outreach/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.NewWithDB(db, "sqlite3")
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

// fakePublisher records published events and can be told to fail.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	Topic string
	Key   string
	Value []byte
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.published = append(p.published, publishedEvent{Topic: topic, Key: key, Value: value})
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.published...)
}

// fakeScorer returns a canned result.
type fakeScorer struct {
	result scoring.Result
}

func (s *fakeScorer) Score(ctx context.Context, rec scoring.CompanyRecord) scoring.Result {
	return s.result
}

// fakeSender returns a canned delivery result and records requests.
type fakeSender struct {
	mu     sync.Mutex
	result delivery.SendResult
	sent   []delivery.SendRequest
}

func (s *fakeSender) SendEmail(ctx context.Context, req delivery.SendRequest) delivery.SendResult {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	res := s.result
	if res.Status == "sent" && res.SentAt.IsZero() {
		res.SentAt = time.Now().UTC()
	}
	return res
}

func (s *fakeSender) requests() []delivery.SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.SendRequest(nil), s.sent...)
}

// recordingLedger keeps processed keys in memory.
type recordingLedger struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{seen: make(map[string]bool)}
}

func (l *recordingLedger) Seen(ctx context.Context, externalID, eventType string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[externalID+":"+eventType], nil
}

func (l *recordingLedger) MarkProcessed(ctx context.Context, externalID, eventType string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := externalID + ":" + eventType
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

func (l *recordingLedger) marked(externalID, eventType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[externalID+":"+eventType]
}

var errPublishDown = errors.New("broker unavailable")

func rawLeadJSON(externalID, companyName, size, budget, email string) []byte {
	payload := map[string]interface{}{
		"event_type":    "lead.created",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"lightfield_id": externalID,
		"company": map[string]string{
			"name":     companyName,
			"industry": "saas",
			"size":     size,
			"website":  "example.com",
		},
		"contact": map[string]string{
			"name":  "Jordan Diaz",
			"email": email,
			"title": "VP Engineering",
		},
		"metadata": map[string]interface{}{
			"budget_range": budget,
			"pain_points":  []string{"pipeline visibility"},
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

func seedScoredLead(t *testing.T, s *store.Store, externalID string, score float64) *store.Lead {
	t.Helper()
	email := "jordan@acme.example"
	now := time.Now().UTC()
	lead := &store.Lead{
		ExternalID:   externalID,
		CompanyName:  "Acme Corp",
		ContactName:  strPtr("Jordan Diaz"),
		ContactEmail: &email,
		RawPayload:   store.NullRawMessage(`{}`),
		Score:        &score,
		Persona:      store.PersonaEnterprise,
		Status:       store.LeadScored,
		ScoredAt:     &now,
	}
	require.NoError(t, s.InsertLead(context.Background(), nil, lead))
	return lead
}

func seedExperimentWithTemplate(t *testing.T, s *store.Store, experimentID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertExperiment(ctx, nil, &store.Experiment{
		ExperimentID: experimentID,
		Name:         "test " + experimentID,
		Alpha:        1,
		Beta:         1,
		IsActive:     true,
	}))
	require.NoError(t, s.InsertTemplate(ctx, nil, &store.OutreachTemplate{
		TemplateID:   experimentID + "-tpl",
		Name:         "intro",
		ExperimentID: experimentID,
		SubjectLine:  strPtr("Hello {{company_name}}"),
		BodyTemplate: "Hi {{contact_name}}, quick question about {{company_name}}.",
		IsActive:     true,
	}))
}

func strPtr(v string) *string { return &v }
