// Package worker implements the three pipeline stages: the scorer that
// qualifies raw leads, the orchestrator that selects an experiment and
// dispatches outreach, and the feedback loop that folds engagement back
// into the bandit posterior.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
	"github.com/pipelinewhisperer/outreach/internal/scoring"
	"github.com/pipelinewhisperer/outreach/internal/store"
)

// publisher queues a keyed record onto the event log.
type publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// leadScorer qualifies a normalized company record.
type leadScorer interface {
	Score(ctx context.Context, rec scoring.CompanyRecord) scoring.Result
}

// Scorer consumes raw leads, scores them, persists the Lead row and
// emits the scored record.
type Scorer struct {
	store       *store.Store
	scorer      leadScorer
	producer    publisher
	scoredTopic string
}

// NewScorer wires the scorer stage.
func NewScorer(st *store.Store, sc leadScorer, producer publisher, scoredTopic string) *Scorer {
	if scoredTopic == "" {
		scoredTopic = events.TopicLeadsScored
	}
	return &Scorer{store: st, scorer: sc, producer: producer, scoredTopic: scoredTopic}
}

// rawEnvelope tolerates both id field spellings used by upstream
// producers.
type rawEnvelope struct {
	events.RawLead
	AltExternalID string `json:"external_id"`
}

// Handle processes one leads.raw record. The scored event is emitted
// inside the insert transaction so an emit failure rolls the row back
// and the offset stays uncommitted.
func (s *Scorer) Handle(ctx context.Context, key string, value []byte) error {
	var env rawEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		logger.Error("raw lead decode failed, skipping", "key", key, "error", err.Error())
		return nil
	}
	raw := env.RawLead
	if raw.ExternalID == "" {
		raw.ExternalID = env.AltExternalID
	}
	if raw.ExternalID == "" {
		raw.ExternalID = key
	}
	if raw.ExternalID == "" || raw.Company.Name == "" {
		logger.Error("raw lead missing external id or company, skipping", "key", key)
		return nil
	}

	existing, err := s.store.GetLeadByExternalID(ctx, nil, raw.ExternalID)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Debug("lead already scored, skipping", "external_id", raw.ExternalID)
		return nil
	}

	rec := scoring.Normalize(&raw)
	result := s.scorer.Score(ctx, rec)
	persona := store.ParsePersona(result.Persona)

	now := time.Now().UTC()
	metadata, _ := json.Marshal(map[string]interface{}{
		"reasoning":     result.Reasoning,
		"model_version": result.ModelVersion,
		"mock":          result.Mock,
		"scoring_input": rec,
		"scored_at":     now.Format(time.RFC3339),
	})

	lead := &store.Lead{
		ExternalID:      raw.ExternalID,
		CompanyName:     raw.Company.Name,
		ContactName:     optional(raw.Contact.Name),
		ContactEmail:    optional(raw.Contact.Email),
		ContactTitle:    optional(raw.Contact.Title),
		Industry:        optional(rec.Industry),
		CompanySize:     optional(raw.Company.Size),
		Website:         optional(rec.Website),
		RawPayload:      store.NullRawMessage(value),
		Score:           &result.Score,
		Persona:         persona,
		ScoringMetadata: metadata,
		Status:          store.LeadScored,
		ScoredAt:        &now,
	}

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.InsertLead(ctx, tx, lead); err != nil {
			return err
		}

		scored := events.ScoredLead{
			RawLead: raw,
			Scoring: events.ScoringResult{
				Score:        result.Score,
				Persona:      string(persona),
				Reasoning:    result.Reasoning,
				ModelVersion: result.ModelVersion,
				Mock:         result.Mock,
				ScoringInput: map[string]interface{}{
					"company_name":   rec.CompanyName,
					"industry":       rec.Industry,
					"employee_count": rec.EmployeeCount,
					"revenue":        rec.Revenue,
					"website":        rec.Website,
				},
				ScoredAt: now.Format(time.RFC3339),
			},
			DBID:        lead.ID,
			ProcessedAt: events.Now(),
		}
		return s.producer.Publish(ctx, s.scoredTopic, raw.ExternalID, scored)
	})
	if err != nil {
		return fmt.Errorf("scorer: %s: %w", raw.ExternalID, err)
	}

	logger.Info("lead scored",
		"external_id", raw.ExternalID,
		"company", raw.Company.Name,
		"score", fmt.Sprintf("%.2f", result.Score),
		"persona", string(persona),
		"mock", fmt.Sprintf("%t", result.Mock))
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
