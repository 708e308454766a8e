package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pipelinewhisperer/outreach/internal/bandit"
	"github.com/pipelinewhisperer/outreach/internal/delivery"
	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/personalize"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
	"github.com/pipelinewhisperer/outreach/internal/store"
)

// contactThreshold is the minimum score a lead needs before outreach is
// attempted. Strictly below the threshold skips; exactly at it sends.
const contactThreshold = 0.5

// emailSender dispatches one rendered message.
type emailSender interface {
	SendEmail(ctx context.Context, req delivery.SendRequest) delivery.SendResult
}

// Orchestrator consumes scored leads, picks an experiment arm via
// Thompson Sampling, renders and dispatches the outreach, and records
// the attempt.
type Orchestrator struct {
	store         *store.Store
	sampler       *bandit.Sampler
	renderer      *personalize.Renderer
	sender        emailSender
	producer      publisher
	outreachTopic string
	fromName      string
}

// NewOrchestrator wires the orchestrator stage.
func NewOrchestrator(st *store.Store, sampler *bandit.Sampler, renderer *personalize.Renderer, sender emailSender, producer publisher, outreachTopic, fromName string) *Orchestrator {
	if sampler == nil {
		sampler = bandit.NewSampler()
	}
	if renderer == nil {
		renderer = personalize.NewRenderer()
	}
	if outreachTopic == "" {
		outreachTopic = events.TopicOutreachEvents
	}
	return &Orchestrator{
		store:         st,
		sampler:       sampler,
		renderer:      renderer,
		sender:        sender,
		producer:      producer,
		outreachTopic: outreachTopic,
		fromName:      fromName,
	}
}

// Handle processes one leads.scored record.
func (o *Orchestrator) Handle(ctx context.Context, key string, value []byte) error {
	var scored events.ScoredLead
	if err := json.Unmarshal(value, &scored); err != nil {
		logger.Error("scored lead decode failed, skipping", "key", key, "error", err.Error())
		return nil
	}
	externalID := scored.ExternalID
	if externalID == "" {
		externalID = key
	}
	if externalID == "" {
		logger.Error("scored lead missing external id, skipping")
		return nil
	}

	lead, err := o.store.GetLeadByExternalID(ctx, nil, externalID)
	if err != nil {
		return err
	}
	if lead == nil {
		logger.Warn("scored event for unknown lead, skipping", "external_id", externalID)
		return nil
	}
	if lead.Status.Contacted() {
		logger.Debug("lead already contacted, skipping", "external_id", externalID)
		return nil
	}
	if lead.Score == nil || *lead.Score < contactThreshold {
		logger.Info("score below contact threshold, skipping",
			"external_id", externalID,
			"score", scoreString(lead.Score))
		return nil
	}

	experiments, err := o.store.ActiveExperiments(ctx, nil)
	if err != nil {
		return err
	}
	if len(experiments) == 0 {
		return fmt.Errorf("orchestrator: no active experiments: %w", events.ErrFatal)
	}

	arms := make([]bandit.Arm, len(experiments))
	for i, exp := range experiments {
		arms[i] = bandit.Arm{ID: exp.ExperimentID, Alpha: exp.Alpha, Beta: exp.Beta}
	}
	experimentID, err := o.sampler.Select(arms)
	if err != nil {
		return fmt.Errorf("orchestrator: %w: %v", events.ErrFatal, err)
	}

	tpl, err := o.store.ActiveTemplateForExperiment(ctx, nil, experimentID)
	if err != nil {
		return err
	}
	if tpl == nil {
		logger.Error("experiment has no active template",
			"experiment_id", experimentID, "external_id", externalID)
		o.publishEvent(ctx, events.OutreachEvent{
			EventType:    events.EventOutreachFailed,
			Timestamp:    events.Now(),
			LeadID:       lead.ID,
			ExternalID:   externalID,
			ExperimentID: experimentID,
			Error:        "no active template for experiment",
		})
		return nil
	}

	if lead.ContactEmail == nil || *lead.ContactEmail == "" {
		logger.Warn("lead has no contact email, recording failed attempt",
			"external_id", externalID)
		o.recordFailure(ctx, lead, tpl, nil, "lead has no contact email")
		return nil
	}

	msg := o.renderer.Render(ctx,
		deref(tpl.SubjectLine), tpl.BodyTemplate,
		o.leadData(lead, &scored), deref(tpl.PersonalizationPrompt))

	trackingID := uuid.NewString()
	result := o.sender.SendEmail(ctx, delivery.SendRequest{
		ToEmail:    *lead.ContactEmail,
		ToName:     deref(lead.ContactName),
		Subject:    msg.Subject,
		Body:       msg.Body,
		FromName:   o.fromName,
		TrackingID: trackingID,
	})

	if result.Status != "sent" {
		logger.Warn("delivery failed",
			"external_id", externalID,
			"experiment_id", experimentID,
			"error", result.Error)
		o.recordFailure(ctx, lead, tpl, &msg, result.Error)
		return nil
	}

	now := result.SentAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	olog := &store.OutreachLog{
		LeadID:            lead.ID,
		ExperimentID:      experimentID,
		TemplateID:        tpl.TemplateID,
		Subject:           optional(msg.Subject),
		Body:              msg.Body,
		Channel:           tpl.Channel,
		SentVia:           optional(result.Provider),
		ExternalMessageID: optional(result.MessageID),
		Status:            store.OutreachSent,
		SentAt:            &now,
	}
	err = o.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := o.store.InsertOutreachLog(ctx, tx, olog); err != nil {
			return err
		}
		if err := o.store.MarkLeadContacted(ctx, tx, lead, experimentID); err != nil {
			return err
		}
		return o.store.RecordAssignment(ctx, tx, experimentID)
	})
	if err != nil {
		return fmt.Errorf("orchestrator: record send for %s: %w", externalID, err)
	}

	o.publishEvent(ctx, events.OutreachEvent{
		EventType:    events.EventOutreachSent,
		Timestamp:    events.Now(),
		LeadID:       lead.ID,
		ExternalID:   externalID,
		ExperimentID: experimentID,
		TemplateID:   tpl.TemplateID,
		Channel:      tpl.Channel,
		MessageID:    result.MessageID,
		Subject:      msg.Subject,
	})

	logger.Info("outreach sent",
		"external_id", externalID,
		"experiment_id", experimentID,
		"template_id", tpl.TemplateID,
		"message_id", result.MessageID)
	return nil
}

// recordFailure writes a failed OutreachLog without touching the lead's
// status, so the attempt is observable but the lead stays schedulable.
func (o *Orchestrator) recordFailure(ctx context.Context, lead *store.Lead, tpl *store.OutreachTemplate, msg *personalize.Message, cause string) {
	olog := &store.OutreachLog{
		LeadID:       lead.ID,
		ExperimentID: tpl.ExperimentID,
		TemplateID:   tpl.TemplateID,
		Channel:      tpl.Channel,
		Status:       store.OutreachFailed,
		ErrorMessage: optional(cause),
	}
	if msg != nil {
		olog.Subject = optional(msg.Subject)
		olog.Body = msg.Body
	}
	if err := o.store.InsertOutreachLog(ctx, nil, olog); err != nil {
		logger.Error("failed to record outreach failure",
			"external_id", lead.ExternalID, "error", err.Error())
	}
}

// leadData assembles the substitution map handed to the renderer.
func (o *Orchestrator) leadData(lead *store.Lead, scored *events.ScoredLead) map[string]interface{} {
	data := map[string]interface{}{
		"company_name": lead.CompanyName,
		"contact_name": deref(lead.ContactName),
		"persona":      string(lead.Persona),
	}
	if lead.Industry != nil {
		data["industry"] = *lead.Industry
	}
	if lead.CompanySize != nil {
		data["company_size"] = *lead.CompanySize
	}
	if lead.Website != nil {
		data["website"] = *lead.Website
	}
	if lead.ContactTitle != nil {
		data["contact_title"] = *lead.ContactTitle
	}
	if scored != nil {
		if len(scored.Metadata.PainPoints) > 0 {
			data["pain_point"] = scored.Metadata.PainPoints[0]
		}
		if len(scored.Metadata.TechStack) > 0 {
			data["tech_stack"] = scored.Metadata.TechStack[0]
		}
	}
	return data
}

func (o *Orchestrator) publishEvent(ctx context.Context, ev events.OutreachEvent) {
	if err := o.producer.Publish(ctx, o.outreachTopic, ev.ExternalID, ev); err != nil {
		logger.Error("outreach event publish failed",
			"event_type", ev.EventType,
			"external_id", ev.ExternalID,
			"error", err.Error())
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scoreString(score *float64) string {
	if score == nil {
		return "null"
	}
	return fmt.Sprintf("%.2f", *score)
}
