package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const experimentColumns = `id, experiment_id, name, description, variant, config,
	leads_assigned, outreach_sent, responses_received, conversions,
	conversion_rate, response_rate, alpha, beta, is_active,
	created_at, updated_at, ended_at`

// ActiveExperiments returns all active bandit arms in insertion order.
// Iteration order is the tie-break order for Thompson Sampling.
func (s *Store) ActiveExperiments(ctx context.Context, q sqlx.ExtContext) ([]Experiment, error) {
	q = s.ext(q)
	var exps []Experiment
	query := q.Rebind(`SELECT ` + experimentColumns + ` FROM experiments WHERE is_active = ? ORDER BY id`)
	if err := sqlx.SelectContext(ctx, q, &exps, query, true); err != nil {
		return nil, fmt.Errorf("store: active experiments: %w", err)
	}
	return exps, nil
}

// GetExperiment fetches one arm by its experiment id. Returns (nil, nil)
// when absent.
func (s *Store) GetExperiment(ctx context.Context, q sqlx.ExtContext, experimentID string) (*Experiment, error) {
	q = s.ext(q)
	var exp Experiment
	query := q.Rebind(`SELECT ` + experimentColumns + ` FROM experiments WHERE experiment_id = ?`)
	err := sqlx.GetContext(ctx, q, &exp, query, experimentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get experiment %s: %w", experimentID, err)
	}
	return &exp, nil
}

// InsertExperiment persists a new arm. Priors below 1.0 are rejected to
// keep the Beta posterior proper.
func (s *Store) InsertExperiment(ctx context.Context, q sqlx.ExtContext, exp *Experiment) error {
	if exp.Alpha < 1.0 || exp.Beta < 1.0 {
		return fmt.Errorf("store: experiment %s priors must be >= 1.0 (alpha=%.2f beta=%.2f)",
			exp.ExperimentID, exp.Alpha, exp.Beta)
	}
	q = s.ext(q)
	exp.CreatedAt = time.Now().UTC()
	query := q.Rebind(`INSERT INTO experiments (experiment_id, name, description, variant,
		config, alpha, beta, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := q.ExecContext(ctx, query,
		exp.ExperimentID, exp.Name, exp.Description, exp.Variant,
		exp.Config, exp.Alpha, exp.Beta, exp.IsActive, exp.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert experiment %s: %w", exp.ExperimentID, err)
	}
	return nil
}

// RecordAssignment bumps leads_assigned and outreach_sent for a
// successful send and recomputes both rates in the same statement.
// Counter arithmetic happens in SQL so concurrent orchestrators cannot
// lose updates.
func (s *Store) RecordAssignment(ctx context.Context, q sqlx.ExtContext, experimentID string) error {
	q = s.ext(q)
	query := q.Rebind(`UPDATE experiments
		SET leads_assigned = leads_assigned + 1,
			outreach_sent = outreach_sent + 1,
			conversion_rate = CAST(conversions AS REAL) / (leads_assigned + 1),
			response_rate = CAST(responses_received AS REAL) / (outreach_sent + 1),
			updated_at = ?
		WHERE experiment_id = ?`)
	res, err := q.ExecContext(ctx, query, time.Now().UTC(), experimentID)
	if err != nil {
		return fmt.Errorf("store: record assignment %s: %w", experimentID, err)
	}
	return checkExperimentUpdated(res, experimentID)
}

// RecordResponse bumps responses_received and recomputes response_rate.
func (s *Store) RecordResponse(ctx context.Context, q sqlx.ExtContext, experimentID string) error {
	q = s.ext(q)
	query := q.Rebind(`UPDATE experiments
		SET responses_received = responses_received + 1,
			response_rate = CAST(responses_received + 1 AS REAL) /
				(CASE WHEN outreach_sent > 0 THEN outreach_sent ELSE 1 END),
			updated_at = ?
		WHERE experiment_id = ?`)
	res, err := q.ExecContext(ctx, query, time.Now().UTC(), experimentID)
	if err != nil {
		return fmt.Errorf("store: record response %s: %w", experimentID, err)
	}
	return checkExperimentUpdated(res, experimentID)
}

// RecordConversion bumps conversions, adds one success to the Beta
// posterior (alpha += 1) and recomputes conversion_rate.
func (s *Store) RecordConversion(ctx context.Context, q sqlx.ExtContext, experimentID string) error {
	q = s.ext(q)
	query := q.Rebind(`UPDATE experiments
		SET conversions = conversions + 1,
			alpha = alpha + 1.0,
			conversion_rate = CAST(conversions + 1 AS REAL) /
				(CASE WHEN leads_assigned > 0 THEN leads_assigned ELSE 1 END),
			updated_at = ?
		WHERE experiment_id = ?`)
	res, err := q.ExecContext(ctx, query, time.Now().UTC(), experimentID)
	if err != nil {
		return fmt.Errorf("store: record conversion %s: %w", experimentID, err)
	}
	return checkExperimentUpdated(res, experimentID)
}

// RecordFailurePrior adds one failure to the Beta posterior (beta += 1).
// Used by the conversion-window aging pass.
func (s *Store) RecordFailurePrior(ctx context.Context, q sqlx.ExtContext, experimentID string) error {
	q = s.ext(q)
	query := q.Rebind(`UPDATE experiments SET beta = beta + 1.0, updated_at = ? WHERE experiment_id = ?`)
	res, err := q.ExecContext(ctx, query, time.Now().UTC(), experimentID)
	if err != nil {
		return fmt.Errorf("store: record failure prior %s: %w", experimentID, err)
	}
	return checkExperimentUpdated(res, experimentID)
}

// SetExperimentActive flips the arm's active flag; deactivation stamps
// ended_at.
func (s *Store) SetExperimentActive(ctx context.Context, experimentID string, active bool) error {
	now := time.Now().UTC()
	var endedAt *time.Time
	if !active {
		endedAt = &now
	}
	query := s.rebind(`UPDATE experiments SET is_active = ?, ended_at = ?, updated_at = ? WHERE experiment_id = ?`)
	res, err := s.db.ExecContext(ctx, query, active, endedAt, now, experimentID)
	if err != nil {
		return fmt.Errorf("store: set experiment %s active=%v: %w", experimentID, active, err)
	}
	return checkExperimentUpdated(res, experimentID)
}

// ListExperiments returns all arms, active first then newest first.
func (s *Store) ListExperiments(ctx context.Context) ([]Experiment, error) {
	var exps []Experiment
	query := `SELECT ` + experimentColumns + ` FROM experiments ORDER BY is_active DESC, created_at DESC`
	if err := sqlx.SelectContext(ctx, s.db, &exps, query); err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	return exps, nil
}

func checkExperimentUpdated(res sql.Result, experimentID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil // driver does not report affected rows; assume success
	}
	if n == 0 {
		return fmt.Errorf("store: experiment %s not found", experimentID)
	}
	return nil
}
