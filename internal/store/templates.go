package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const templateColumns = `id, template_id, name, description, experiment_id,
	subject_line, body_template, personalization_prompt, channel, config,
	is_active, created_at, updated_at`

// ActiveTemplateForExperiment returns one active template bound to the
// experiment, or (nil, nil) when the experiment has none. The at-least-
// one-active-template invariant is enforced here at selection time, not
// by the schema.
func (s *Store) ActiveTemplateForExperiment(ctx context.Context, q sqlx.ExtContext, experimentID string) (*OutreachTemplate, error) {
	q = s.ext(q)
	var tpl OutreachTemplate
	query := q.Rebind(`SELECT ` + templateColumns + ` FROM outreach_templates
		WHERE experiment_id = ? AND is_active = ? ORDER BY id LIMIT 1`)
	err := sqlx.GetContext(ctx, q, &tpl, query, experimentID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active template for %s: %w", experimentID, err)
	}
	return &tpl, nil
}

// InsertTemplate persists a new message blueprint.
func (s *Store) InsertTemplate(ctx context.Context, q sqlx.ExtContext, tpl *OutreachTemplate) error {
	q = s.ext(q)
	tpl.CreatedAt = time.Now().UTC()
	if tpl.Channel == "" {
		tpl.Channel = "email"
	}
	query := q.Rebind(`INSERT INTO outreach_templates (template_id, name, description,
		experiment_id, subject_line, body_template, personalization_prompt,
		channel, config, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := q.ExecContext(ctx, query,
		tpl.TemplateID, tpl.Name, tpl.Description, tpl.ExperimentID,
		tpl.SubjectLine, tpl.BodyTemplate, tpl.PersonalizationPrompt,
		tpl.Channel, tpl.Config, tpl.IsActive, tpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert template %s: %w", tpl.TemplateID, err)
	}
	return nil
}
