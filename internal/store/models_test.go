package store

import "testing"

func TestLeadTransitions(t *testing.T) {
	allowed := []struct {
		from, to LeadStatus
	}{
		{LeadRaw, LeadScored},
		{LeadScored, LeadContacted},
		{LeadContacted, LeadResponded},
		{LeadContacted, LeadConverted},
		{LeadResponded, LeadConverted},
		{LeadScored, LeadSnoozed},
		{LeadSnoozed, LeadScored},
		{LeadRaw, LeadFailed},
	}
	for _, c := range allowed {
		if !c.from.CanTransition(c.to) {
			t.Errorf("%s -> %s should be allowed", c.from, c.to)
		}
	}

	rejected := []struct {
		from, to LeadStatus
	}{
		{LeadRaw, LeadContacted},
		{LeadScored, LeadConverted},
		{LeadConverted, LeadContacted},
		{LeadConverted, LeadConverted},
		{LeadFailed, LeadScored},
		{LeadContacted, LeadSnoozed},
		{LeadResponded, LeadResponded},
	}
	for _, c := range rejected {
		if c.from.CanTransition(c.to) {
			t.Errorf("%s -> %s should be rejected", c.from, c.to)
		}
	}
}

func TestLeadStatusContacted(t *testing.T) {
	for _, s := range []LeadStatus{LeadContacted, LeadResponded, LeadConverted} {
		if !s.Contacted() {
			t.Errorf("%s should count as contacted", s)
		}
	}
	for _, s := range []LeadStatus{LeadRaw, LeadScored, LeadSnoozed, LeadFailed} {
		if s.Contacted() {
			t.Errorf("%s should not count as contacted", s)
		}
	}
}

func TestOutreachTransitions(t *testing.T) {
	// Engagement events may skip intermediate stages
	if !OutreachSent.CanTransition(OutreachClicked) {
		t.Error("sent -> clicked should be allowed (skipping delivered/opened)")
	}
	if !OutreachSent.CanTransition(OutreachReplied) {
		t.Error("sent -> replied should be allowed")
	}
	if !OutreachPending.CanTransition(OutreachSent) {
		t.Error("pending -> sent should be allowed")
	}
	if !OutreachPending.CanTransition(OutreachFailed) {
		t.Error("pending -> failed should be allowed")
	}
	if !OutreachSent.CanTransition(OutreachBounced) {
		t.Error("sent -> bounced should be allowed")
	}

	// No moving backwards, no leaving terminal branches
	if OutreachOpened.CanTransition(OutreachSent) {
		t.Error("opened -> sent must be rejected")
	}
	if OutreachReplied.CanTransition(OutreachOpened) {
		t.Error("replied -> opened must be rejected")
	}
	if OutreachBounced.CanTransition(OutreachOpened) {
		t.Error("bounced is terminal")
	}
	if OutreachFailed.CanTransition(OutreachSent) {
		t.Error("failed is terminal")
	}
	if OutreachPending.CanTransition(OutreachBounced) {
		t.Error("pending -> bounced must be rejected (nothing was handed off)")
	}
}

func TestParsePersona(t *testing.T) {
	cases := map[string]Persona{
		"enterprise": PersonaEnterprise,
		"Enterprise": PersonaEnterprise,
		"SMB":        PersonaSMB,
		"mid-market": PersonaSMB,
		"startup":    PersonaStartup,
		"individual": PersonaIndividual,
		"":           PersonaUnknown,
		"galactic":   PersonaUnknown,
	}
	for in, want := range cases {
		if got := ParsePersona(in); got != want {
			t.Errorf("ParsePersona(%q) = %s, want %s", in, got, want)
		}
	}
}
