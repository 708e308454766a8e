// Package store provides the relational persistence layer: lead,
// experiment, template and outreach-log entities, their state machines,
// and transactional accessors over Postgres or embedded SQLite.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NullRawMessage is a json.RawMessage for nullable JSON columns: SQL
// NULL scans as nil and nil stores as NULL, which plain json.RawMessage
// cannot do.
type NullRawMessage json.RawMessage

// Scan implements sql.Scanner.
func (m *NullRawMessage) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		*m = append((*m)[:0], v...)
		return nil
	case string:
		*m = NullRawMessage(v)
		return nil
	}
	return fmt.Errorf("store: cannot scan %T into JSON column", src)
}

// Value implements driver.Valuer.
func (m NullRawMessage) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return []byte(m), nil
}

// MarshalJSON renders empty values as JSON null.
func (m NullRawMessage) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON stores the raw bytes unchanged.
func (m *NullRawMessage) UnmarshalJSON(b []byte) error {
	*m = append((*m)[:0], b...)
	return nil
}

// LeadStatus is the lead processing state.
type LeadStatus string

const (
	LeadRaw       LeadStatus = "raw"
	LeadScored    LeadStatus = "scored"
	LeadContacted LeadStatus = "contacted"
	LeadResponded LeadStatus = "responded"
	LeadConverted LeadStatus = "converted"
	LeadFailed    LeadStatus = "failed"
	LeadSnoozed   LeadStatus = "snoozed"
)

// leadTransitions defines the allowed status edges. Snoozed is a manual
// side-branch reachable from pre-contact states and returnable.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadRaw:       {LeadScored, LeadFailed, LeadSnoozed},
	LeadScored:    {LeadContacted, LeadFailed, LeadSnoozed},
	LeadSnoozed:   {LeadRaw, LeadScored},
	LeadContacted: {LeadResponded, LeadConverted, LeadFailed},
	LeadResponded: {LeadConverted},
}

// CanTransition reports whether a lead may move from its current status
// to the target status. Converted and failed are terminal.
func (s LeadStatus) CanTransition(to LeadStatus) bool {
	for _, allowed := range leadTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Contacted reports whether the lead has reached at least the contacted
// stage of the pipeline.
func (s LeadStatus) Contacted() bool {
	switch s {
	case LeadContacted, LeadResponded, LeadConverted:
		return true
	}
	return false
}

// Persona is the coarse lead segment classification.
type Persona string

const (
	PersonaEnterprise Persona = "enterprise"
	PersonaSMB        Persona = "smb"
	PersonaStartup    Persona = "startup"
	PersonaIndividual Persona = "individual"
	PersonaUnknown    Persona = "unknown"
)

// ParsePersona maps a model-supplied label onto the closed persona enum.
// Matching is case-insensitive; "mid-market" collapses into smb; anything
// else unrecognized maps to unknown.
func ParsePersona(raw string) Persona {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "enterprise":
		return PersonaEnterprise
	case "smb", "mid-market", "midmarket":
		return PersonaSMB
	case "startup":
		return PersonaStartup
	case "individual":
		return PersonaIndividual
	default:
		return PersonaUnknown
	}
}

// OutreachStatus is the delivery/engagement state of one outreach attempt.
type OutreachStatus string

const (
	OutreachPending      OutreachStatus = "pending"
	OutreachSent         OutreachStatus = "sent"
	OutreachDelivered    OutreachStatus = "delivered"
	OutreachOpened       OutreachStatus = "opened"
	OutreachClicked      OutreachStatus = "clicked"
	OutreachReplied      OutreachStatus = "replied"
	OutreachBounced      OutreachStatus = "bounced"
	OutreachUnsubscribed OutreachStatus = "unsubscribed"
	OutreachFailed       OutreachStatus = "failed"
)

// outreachRank orders the engagement progression. Engagement events may
// skip intermediate stages, so any forward move along this order is
// allowed.
var outreachRank = map[OutreachStatus]int{
	OutreachPending:   0,
	OutreachSent:      1,
	OutreachDelivered: 2,
	OutreachOpened:    3,
	OutreachClicked:   4,
	OutreachReplied:   5,
}

// CanTransition reports whether an outreach log may move to the target
// status. Bounced, unsubscribed and failed branch off sent (or pending,
// for failures before handoff) and are terminal.
func (s OutreachStatus) CanTransition(to OutreachStatus) bool {
	switch to {
	case OutreachBounced, OutreachUnsubscribed:
		return s == OutreachSent || s == OutreachDelivered
	case OutreachFailed:
		return s == OutreachPending || s == OutreachSent
	}

	fromRank, okFrom := outreachRank[s]
	toRank, okTo := outreachRank[to]
	return okFrom && okTo && toRank > fromRank
}

// Lead is a prospect record.
type Lead struct {
	ID              int64          `db:"id"`
	ExternalID      string         `db:"external_id"`
	CompanyName     string         `db:"company_name"`
	ContactName     *string        `db:"contact_name"`
	ContactEmail    *string        `db:"contact_email"`
	ContactTitle    *string        `db:"contact_title"`
	Industry        *string        `db:"industry"`
	CompanySize     *string        `db:"company_size"`
	Website         *string        `db:"website"`
	RawPayload      NullRawMessage `db:"raw_payload"`
	Score           *float64       `db:"score"`
	Persona         Persona        `db:"persona"`
	ScoringMetadata NullRawMessage `db:"scoring_metadata"`
	Status          LeadStatus     `db:"status"`
	ExperimentID    *string        `db:"experiment_id"`
	OutreachCount   int            `db:"outreach_count"`
	ResponseCount   int            `db:"response_count"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at"`
	ScoredAt        *time.Time     `db:"scored_at"`
	ContactedAt     *time.Time     `db:"contacted_at"`
}

// Experiment is one bandit arm with its Beta posterior and counters.
type Experiment struct {
	ID                int64          `db:"id"`
	ExperimentID      string         `db:"experiment_id"`
	Name              string         `db:"name"`
	Description       *string        `db:"description"`
	Variant           *string        `db:"variant"`
	Config            NullRawMessage `db:"config"`
	LeadsAssigned     int            `db:"leads_assigned"`
	OutreachSent      int            `db:"outreach_sent"`
	ResponsesReceived int            `db:"responses_received"`
	Conversions       int            `db:"conversions"`
	ConversionRate    float64        `db:"conversion_rate"`
	ResponseRate      float64        `db:"response_rate"`
	Alpha             float64        `db:"alpha"`
	Beta              float64        `db:"beta"`
	IsActive          bool           `db:"is_active"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         *time.Time     `db:"updated_at"`
	EndedAt           *time.Time     `db:"ended_at"`
}

// OutreachTemplate is a message blueprint bound to one experiment.
type OutreachTemplate struct {
	ID                    int64          `db:"id"`
	TemplateID            string         `db:"template_id"`
	Name                  string         `db:"name"`
	Description           *string        `db:"description"`
	ExperimentID          string         `db:"experiment_id"`
	SubjectLine           *string        `db:"subject_line"`
	BodyTemplate          string         `db:"body_template"`
	PersonalizationPrompt *string        `db:"personalization_prompt"`
	Channel               string         `db:"channel"`
	Config                NullRawMessage `db:"config"`
	IsActive              bool           `db:"is_active"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             *time.Time     `db:"updated_at"`
}

// OutreachLog records one outbound attempt. Subject and body are captured
// at send time and immutable thereafter.
type OutreachLog struct {
	ID                int64          `db:"id"`
	LeadID            int64          `db:"lead_id"`
	ExperimentID      string         `db:"experiment_id"`
	TemplateID        string         `db:"template_id"`
	Subject           *string        `db:"subject"`
	Body              string         `db:"body"`
	Channel           string         `db:"channel"`
	SentVia           *string        `db:"sent_via"`
	ExternalMessageID *string        `db:"external_message_id"`
	Status            OutreachStatus `db:"status"`
	StatusDetails     NullRawMessage `db:"status_details"`
	OpenedAt          *time.Time     `db:"opened_at"`
	ClickedAt         *time.Time     `db:"clicked_at"`
	RepliedAt         *time.Time     `db:"replied_at"`
	ErrorMessage      *string        `db:"error_message"`
	RetryCount        int            `db:"retry_count"`
	CreatedAt         time.Time      `db:"created_at"`
	SentAt            *time.Time     `db:"sent_at"`
	DeliveredAt       *time.Time     `db:"delivered_at"`
	BetaCounted       bool           `db:"beta_counted"`
}
