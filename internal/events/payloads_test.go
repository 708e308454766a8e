package events

import (
	"encoding/json"
	"testing"
)

// Downstream consumers key on lightfield_id and read the scoring
// sub-document from the top level, so the scored payload must flatten the
// raw lead rather than nest it.
func TestScoredLeadWireShape(t *testing.T) {
	scored := ScoredLead{
		RawLead: RawLead{
			EventType:  "lead.created",
			ExternalID: "lf_abc123",
			Company:    Company{Name: "Acme", Size: "1000+"},
			Contact:    Contact{Email: "cto@acme.example"},
		},
		Scoring: ScoringResult{Score: 0.91, Persona: "enterprise"},
		DBID:    42,
	}

	data, err := json.Marshal(scored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if m["lightfield_id"] != "lf_abc123" {
		t.Errorf("lightfield_id = %v, want lf_abc123", m["lightfield_id"])
	}
	if _, nested := m["RawLead"]; nested {
		t.Error("raw lead must be flattened into the scored payload, not nested")
	}
	scoring, ok := m["scoring"].(map[string]interface{})
	if !ok {
		t.Fatal("scoring sub-document missing")
	}
	if scoring["persona"] != "enterprise" {
		t.Errorf("scoring.persona = %v", scoring["persona"])
	}
	if m["db_id"] != float64(42) {
		t.Errorf("db_id = %v", m["db_id"])
	}
}

func TestOutreachEventOmitsEmptyOptionalFields(t *testing.T) {
	ev := OutreachEvent{
		EventType:    EventOutreachSent,
		Timestamp:    Now(),
		LeadID:       7,
		ExternalID:   "lf_7",
		ExperimentID: "exp_a",
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, absent := range []string{"template_id", "message_id", "conversion_value", "error"} {
		if _, ok := m[absent]; ok {
			t.Errorf("%s should be omitted when empty", absent)
		}
	}
}
