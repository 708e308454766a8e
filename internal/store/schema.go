package store

import (
	"context"
	"fmt"
	"strings"
)

// schemaDDL returns the idempotent DDL for the given driver. Only the
// auto-increment primary key syntax differs between backends; everything
// else sticks to portable types.
func schemaDDL(driver string) []string {
	pk := "BIGSERIAL PRIMARY KEY"
	if driver == "sqlite3" {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS leads (
			id %s,
			external_id VARCHAR(255) NOT NULL UNIQUE,
			company_name VARCHAR(255) NOT NULL,
			contact_name VARCHAR(255),
			contact_email VARCHAR(255),
			contact_title VARCHAR(255),
			industry VARCHAR(255),
			company_size VARCHAR(50),
			website VARCHAR(500),
			raw_payload TEXT,
			score REAL,
			persona VARCHAR(50) NOT NULL DEFAULT 'unknown',
			scoring_metadata TEXT,
			status VARCHAR(50) NOT NULL DEFAULT 'raw',
			experiment_id VARCHAR(100),
			outreach_count INTEGER NOT NULL DEFAULT 0,
			response_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP,
			scored_at TIMESTAMP,
			contacted_at TIMESTAMP
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_leads_external_id ON leads (external_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_status ON leads (status)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_contact_email ON leads (contact_email)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS experiments (
			id %s,
			experiment_id VARCHAR(100) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			description VARCHAR(1000),
			variant VARCHAR(50),
			config TEXT,
			leads_assigned INTEGER NOT NULL DEFAULT 0,
			outreach_sent INTEGER NOT NULL DEFAULT 0,
			responses_received INTEGER NOT NULL DEFAULT 0,
			conversions INTEGER NOT NULL DEFAULT 0,
			conversion_rate REAL NOT NULL DEFAULT 0,
			response_rate REAL NOT NULL DEFAULT 0,
			alpha REAL NOT NULL DEFAULT 1.0,
			beta REAL NOT NULL DEFAULT 1.0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP,
			ended_at TIMESTAMP,
			CHECK (alpha >= 1.0),
			CHECK (beta >= 1.0)
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_experiments_active ON experiments (is_active)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS outreach_templates (
			id %s,
			template_id VARCHAR(100) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			description VARCHAR(1000),
			experiment_id VARCHAR(100) NOT NULL REFERENCES experiments (experiment_id),
			subject_line VARCHAR(500),
			body_template TEXT NOT NULL,
			personalization_prompt TEXT,
			channel VARCHAR(50) NOT NULL DEFAULT 'email',
			config TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_templates_experiment ON outreach_templates (experiment_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS outreach_logs (
			id %s,
			lead_id INTEGER NOT NULL REFERENCES leads (id),
			experiment_id VARCHAR(100) NOT NULL REFERENCES experiments (experiment_id),
			template_id VARCHAR(100) NOT NULL REFERENCES outreach_templates (template_id),
			subject VARCHAR(500),
			body TEXT NOT NULL,
			channel VARCHAR(50) NOT NULL DEFAULT 'email',
			sent_via VARCHAR(100),
			external_message_id VARCHAR(255),
			status VARCHAR(50) NOT NULL DEFAULT 'pending',
			status_details TEXT,
			opened_at TIMESTAMP,
			clicked_at TIMESTAMP,
			replied_at TIMESTAMP,
			error_message TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			sent_at TIMESTAMP,
			delivered_at TIMESTAMP,
			beta_counted BOOLEAN NOT NULL DEFAULT FALSE
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_outreach_logs_lead ON outreach_logs (lead_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outreach_logs_experiment ON outreach_logs (experiment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outreach_logs_message ON outreach_logs (external_message_id)`,
	}
	return stmts
}

// EnsureSchema creates tables and indexes if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			head := strings.Fields(stmt)
			return fmt.Errorf("store: schema statement %q: %w", strings.Join(head[:min(4, len(head))], " "), err)
		}
	}
	return nil
}
