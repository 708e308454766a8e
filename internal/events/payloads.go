// Package events provides the durable event-log client: typed topic
// payloads, a keyed producer with asynchronous delivery reports, and a
// consumer-group reader with manual offset commits.
package events

import "time"

// Topic names. Records are keyed by the lead's external id so all events
// for one lead land on the same partition.
const (
	TopicLeadsRaw       = "leads.raw"
	TopicLeadsScored    = "leads.scored"
	TopicOutreachEvents = "outreach.events"
)

// Outreach event types carried on outreach.events.
const (
	EventOutreachSent      = "outreach.sent"
	EventOutreachOpened    = "outreach.opened"
	EventOutreachClicked   = "outreach.clicked"
	EventOutreachReplied   = "outreach.replied"
	EventOutreachConverted = "outreach.converted"
	EventOutreachBounced   = "outreach.bounced"
	EventOutreachFailed    = "outreach.failed"
)

// Company is the nested company record on a raw lead.
type Company struct {
	Name        string `json:"name"`
	Website     string `json:"website,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Size        string `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
}

// Contact is the nested contact record on a raw lead.
type Contact struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Title    string `json:"title,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// Source describes where the lead came from.
type Source struct {
	Channel  string `json:"channel,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// LeadMetadata carries qualification hints attached by the CRM.
type LeadMetadata struct {
	TechStack   []string `json:"tech_stack,omitempty"`
	PainPoints  []string `json:"pain_points,omitempty"`
	BudgetRange string   `json:"budget_range,omitempty"`
	Timeline    string   `json:"timeline,omitempty"`
	CompanySize string   `json:"company_size,omitempty"`
	Industry    string   `json:"industry,omitempty"`
	Website     string   `json:"website,omitempty"`
	Spend       string   `json:"spend,omitempty"`
}

// RawLead is the inbound payload on leads.raw.
type RawLead struct {
	EventType  string       `json:"event_type"`
	Timestamp  string       `json:"timestamp"`
	ExternalID string       `json:"lightfield_id"`
	Company    Company      `json:"company"`
	Contact    Contact      `json:"contact"`
	Source     Source       `json:"source,omitempty"`
	Metadata   LeadMetadata `json:"metadata,omitempty"`
}

// ScoringResult is the trimmed scoring sub-document attached to
// leads.scored records.
type ScoringResult struct {
	Score        float64                `json:"score"`
	Persona      string                 `json:"persona"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	ModelVersion string                 `json:"model_version,omitempty"`
	Mock         bool                   `json:"mock"`
	Confidence   *float64               `json:"confidence,omitempty"`
	ScoringInput map[string]interface{} `json:"scoring_input,omitempty"`
	ScoredAt     string                 `json:"scored_at,omitempty"`
}

// ScoredLead is the payload on leads.scored: the raw record plus the
// scoring sub-document and the persisted row id.
type ScoredLead struct {
	RawLead
	Scoring     ScoringResult `json:"scoring"`
	DBID        int64         `json:"db_id"`
	ProcessedAt string        `json:"processed_at"`
}

// OutreachEvent is the payload on outreach.events, produced by the
// orchestrator at send time and by engagement webhooks afterwards.
type OutreachEvent struct {
	EventType       string   `json:"event_type"`
	Timestamp       string   `json:"timestamp"`
	LeadID          int64    `json:"lead_id"`
	ExternalID      string   `json:"lightfield_id"`
	ExperimentID    string   `json:"experiment_id"`
	TemplateID      string   `json:"template_id,omitempty"`
	Channel         string   `json:"channel,omitempty"`
	MessageID       string   `json:"message_id,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	ConversionValue *float64 `json:"conversion_value,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Now returns the RFC3339 UTC timestamp used on every event payload.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
