// Command seed loads three demo experiments with one email template each
// so the orchestrator has arms to sample from on a fresh database.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
	"github.com/pipelinewhisperer/outreach/internal/store"
)

type seedEntry struct {
	experiment store.Experiment
	template   store.OutreachTemplate
}

func strPtr(s string) *string { return &s }

func demoEntries() []seedEntry {
	return []seedEntry{
		{
			experiment: store.Experiment{
				ExperimentID: "exp_enterprise_formal_v1",
				Name:         "Enterprise Outreach - Formal Tone",
				Description:  strPtr("Formal, executive-level messaging for enterprise personas"),
				Variant:      strPtr("formal"),
				Config:       store.NullRawMessage(`{"tone":"professional","length":"concise","cta":"schedule_call"}`),
				Alpha:        1.0,
				Beta:         1.0,
				IsActive:     true,
			},
			template: store.OutreachTemplate{
				TemplateID:   "tpl_enterprise_formal_v1",
				ExperimentID: "exp_enterprise_formal_v1",
				Name:         "Enterprise Formal Email",
				Description:  strPtr("Professional outreach for C-level/VP personas"),
				SubjectLine:  strPtr("Re: {{company_name}} - Enterprise AI Opportunity"),
				BodyTemplate: `Hi {{contact_name}},

I noticed {{company_name}}'s presence in {{industry}} and thought you might be interested in how we're helping similar enterprises automate their sales pipeline with AI.

Quick context: We've helped companies reduce manual lead qualification time by 70% while increasing conversion rates.

Would you be open to a brief 15-minute call next week to explore if there's a fit?

Best regards,
Pipeline Whisperer Team`,
				PersonalizationPrompt: strPtr("Keep tone professional and concise. Focus on ROI and enterprise value proposition."),
				Channel:               "email",
				Config:                store.NullRawMessage(`{"follow_up_days":3,"max_follow_ups":2}`),
				IsActive:              true,
			},
		},
		{
			experiment: store.Experiment{
				ExperimentID: "exp_enterprise_casual_v1",
				Name:         "Enterprise Outreach - Casual Tone",
				Description:  strPtr("Friendly, conversational messaging for enterprise personas"),
				Variant:      strPtr("casual"),
				Config:       store.NullRawMessage(`{"tone":"friendly","length":"medium","cta":"quick_chat"}`),
				Alpha:        1.0,
				Beta:         1.0,
				IsActive:     true,
			},
			template: store.OutreachTemplate{
				TemplateID:   "tpl_enterprise_casual_v1",
				ExperimentID: "exp_enterprise_casual_v1",
				Name:         "Enterprise Casual Email",
				Description:  strPtr("Friendly outreach for C-level/VP personas"),
				SubjectLine:  strPtr("Quick thought for {{company_name}}"),
				BodyTemplate: `Hey {{contact_name}},

Hope this finds you well! I've been following {{company_name}} and was impressed by your work in {{industry}}.

We're building something that might be interesting for your team - basically an AI that handles the boring parts of sales outreach (scoring leads, personalizing messages, A/B testing approaches).

Curious if you'd be up for a quick 10-minute chat sometime? No pressure - just wanted to share what we're seeing work for similar companies.

Cheers,
Pipeline Whisperer Team`,
				PersonalizationPrompt: strPtr("Use conversational tone, mention specific company details if available."),
				Channel:               "email",
				Config:                store.NullRawMessage(`{"follow_up_days":4,"max_follow_ups":1}`),
				IsActive:              true,
			},
		},
		{
			experiment: store.Experiment{
				ExperimentID: "exp_smb_value_v1",
				Name:         "SMB Outreach - Value Proposition",
				Description:  strPtr("Direct value-focused messaging for small/medium business"),
				Variant:      strPtr("value"),
				Config:       store.NullRawMessage(`{"tone":"direct","length":"short","cta":"free_trial"}`),
				Alpha:        1.0,
				Beta:         1.0,
				IsActive:     true,
			},
			template: store.OutreachTemplate{
				TemplateID:   "tpl_smb_value_v1",
				ExperimentID: "exp_smb_value_v1",
				Name:         "SMB Value-Focused Email",
				Description:  strPtr("Direct value prop for SMB personas"),
				SubjectLine:  strPtr("Save 10+ hours/week on sales outreach"),
				BodyTemplate: `Hi {{contact_name}},

Quick question: How much time does your team spend manually reaching out to leads each week?

We built Pipeline Whisperer to automate exactly that - AI handles lead scoring, message personalization, and A/B testing so you can focus on closing deals.

Want to try it free for 14 days? No credit card required.

{{company_name}} seems like a great fit based on your industry ({{industry}}).

Let me know!

Best,
Pipeline Whisperer Team`,
				PersonalizationPrompt: strPtr("Be direct and value-focused. Highlight time savings and ease of use."),
				Channel:               "email",
				Config:                store.NullRawMessage(`{"follow_up_days":7,"max_follow_ups":1}`),
				IsActive:              true,
			},
		},
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	st, err := store.Open(cfg.Database)
	if err != nil {
		logger.Error("database open failed", "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("schema migration failed", "error", err.Error())
		os.Exit(1)
	}

	for _, entry := range demoEntries() {
		entry := entry
		err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := st.InsertExperiment(ctx, tx, &entry.experiment); err != nil {
				return err
			}
			return st.InsertTemplate(ctx, tx, &entry.template)
		})
		if err != nil {
			logger.Warn("seed entry skipped", "experiment_id", entry.experiment.ExperimentID, "error", err.Error())
			continue
		}
		logger.Info("seeded experiment",
			"experiment_id", entry.experiment.ExperimentID,
			"template_id", entry.template.TemplateID)
	}
	logger.Info("seeding complete")
}
