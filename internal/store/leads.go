package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrInvalidTransition is returned when a status change violates the
// entity's state machine.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// ext resolves the querier: a transaction when supplied, otherwise the
// root handle.
func (s *Store) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q == nil {
		return s.db
	}
	return q
}

const leadColumns = `id, external_id, company_name, contact_name, contact_email,
	contact_title, industry, company_size, website, raw_payload, score, persona,
	scoring_metadata, status, experiment_id, outreach_count, response_count,
	created_at, updated_at, scored_at, contacted_at`

// GetLeadByExternalID fetches a lead by its CRM id. Returns (nil, nil)
// when no row exists so callers can use it as an existence check.
func (s *Store) GetLeadByExternalID(ctx context.Context, q sqlx.ExtContext, externalID string) (*Lead, error) {
	q = s.ext(q)
	var lead Lead
	query := q.Rebind(`SELECT ` + leadColumns + ` FROM leads WHERE external_id = ?`)
	err := sqlx.GetContext(ctx, q, &lead, query, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get lead %s: %w", externalID, err)
	}
	return &lead, nil
}

// GetLeadByID fetches a lead by row id. Returns (nil, nil) when absent.
func (s *Store) GetLeadByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Lead, error) {
	q = s.ext(q)
	var lead Lead
	query := q.Rebind(`SELECT ` + leadColumns + ` FROM leads WHERE id = ?`)
	err := sqlx.GetContext(ctx, q, &lead, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get lead id=%d: %w", id, err)
	}
	return &lead, nil
}

// InsertLead persists a new lead and fills in its row id. CreatedAt is
// set here; the unique index on external_id makes redelivered raw events
// fail cleanly instead of duplicating rows.
func (s *Store) InsertLead(ctx context.Context, q sqlx.ExtContext, lead *Lead) error {
	q = s.ext(q)
	lead.CreatedAt = time.Now().UTC()

	cols := `external_id, company_name, contact_name, contact_email, contact_title,
		industry, company_size, website, raw_payload, score, persona, scoring_metadata,
		status, experiment_id, outreach_count, response_count, created_at, scored_at`
	args := []interface{}{
		lead.ExternalID, lead.CompanyName, lead.ContactName, lead.ContactEmail,
		lead.ContactTitle, lead.Industry, lead.CompanySize, lead.Website,
		lead.RawPayload, lead.Score, lead.Persona, lead.ScoringMetadata,
		lead.Status, lead.ExperimentID, lead.OutreachCount, lead.ResponseCount,
		lead.CreatedAt, lead.ScoredAt,
	}

	if s.driver == "postgres" {
		query := q.Rebind(`INSERT INTO leads (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		row := q.QueryRowxContext(ctx, query, args...)
		if err := row.Scan(&lead.ID); err != nil {
			return fmt.Errorf("store: insert lead %s: %w", lead.ExternalID, err)
		}
		return nil
	}

	query := q.Rebind(`INSERT INTO leads (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: insert lead %s: %w", lead.ExternalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert lead %s: %w", lead.ExternalID, err)
	}
	lead.ID = id
	return nil
}

// MarkLeadContacted transitions a lead to contacted inside the send
// transaction: assigns the experiment, stamps contacted_at and bumps
// outreach_count with atomic arithmetic.
func (s *Store) MarkLeadContacted(ctx context.Context, q sqlx.ExtContext, lead *Lead, experimentID string) error {
	if !lead.Status.CanTransition(LeadContacted) {
		return fmt.Errorf("%w: lead %s %s -> contacted", ErrInvalidTransition, lead.ExternalID, lead.Status)
	}
	q = s.ext(q)
	now := time.Now().UTC()
	query := q.Rebind(`UPDATE leads
		SET status = ?, experiment_id = ?, contacted_at = ?,
			outreach_count = outreach_count + 1, updated_at = ?
		WHERE id = ?`)
	if _, err := q.ExecContext(ctx, query, LeadContacted, experimentID, now, now, lead.ID); err != nil {
		return fmt.Errorf("store: mark lead %s contacted: %w", lead.ExternalID, err)
	}
	lead.Status = LeadContacted
	lead.ExperimentID = &experimentID
	lead.ContactedAt = &now
	lead.OutreachCount++
	return nil
}

// TransitionLead moves a lead along its state machine. For the responded
// transition, response_count is bumped as well.
func (s *Store) TransitionLead(ctx context.Context, q sqlx.ExtContext, lead *Lead, to LeadStatus) error {
	if !lead.Status.CanTransition(to) {
		return fmt.Errorf("%w: lead %s %s -> %s", ErrInvalidTransition, lead.ExternalID, lead.Status, to)
	}
	q = s.ext(q)
	now := time.Now().UTC()

	var (
		query string
		args  []interface{}
	)
	if to == LeadResponded {
		query = q.Rebind(`UPDATE leads SET status = ?, response_count = response_count + 1, updated_at = ? WHERE id = ?`)
		args = []interface{}{to, now, lead.ID}
	} else {
		query = q.Rebind(`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`)
		args = []interface{}{to, now, lead.ID}
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: transition lead %s to %s: %w", lead.ExternalID, to, err)
	}
	lead.Status = to
	if to == LeadResponded {
		lead.ResponseCount++
	}
	return nil
}

// LeadFilter narrows ListLeads results.
type LeadFilter struct {
	Status  LeadStatus
	Persona Persona
	Limit   int
	Offset  int
}

// ListLeads returns leads ordered newest first.
func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]Lead, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Persona != "" {
		query += ` AND persona = ?`
		args = append(args, f.Persona)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	var leads []Lead
	if err := sqlx.SelectContext(ctx, s.db, &leads, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: list leads: %w", err)
	}
	return leads, nil
}

// LeadStats summarizes the pipeline for the dashboard.
type LeadStats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	ByPersona map[string]int `json:"by_persona"`
	AvgScore  *float64       `json:"avg_score,omitempty"`
}

// GetLeadStats aggregates lead counts by status and persona plus the
// average score of scored leads.
func (s *Store) GetLeadStats(ctx context.Context) (*LeadStats, error) {
	stats := &LeadStats{
		ByStatus:  make(map[string]int),
		ByPersona: make(map[string]int),
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: lead stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.QueryxContext(ctx, `SELECT persona, COUNT(*) FROM leads GROUP BY persona`)
	if err != nil {
		return nil, fmt.Errorf("store: lead stats by persona: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var persona string
		var count int
		if err := prows.Scan(&persona, &count); err != nil {
			return nil, err
		}
		stats.ByPersona[persona] = count
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowxContext(ctx, `SELECT AVG(score) FROM leads WHERE score IS NOT NULL`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("store: avg score: %w", err)
	}
	if avg.Valid {
		stats.AvgScore = &avg.Float64
	}
	return stats, nil
}
