package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const outreachLogColumns = `id, lead_id, experiment_id, template_id, subject, body,
	channel, sent_via, external_message_id, status, status_details,
	opened_at, clicked_at, replied_at, error_message, retry_count,
	created_at, sent_at, delivered_at, beta_counted`

// InsertOutreachLog persists one outbound attempt. Subject and body are
// captured as rendered; they are never updated afterwards.
func (s *Store) InsertOutreachLog(ctx context.Context, q sqlx.ExtContext, olog *OutreachLog) error {
	q = s.ext(q)
	olog.CreatedAt = time.Now().UTC()
	if olog.Channel == "" {
		olog.Channel = "email"
	}

	cols := `lead_id, experiment_id, template_id, subject, body, channel, sent_via,
		external_message_id, status, error_message, retry_count, created_at, sent_at`
	args := []interface{}{
		olog.LeadID, olog.ExperimentID, olog.TemplateID, olog.Subject, olog.Body,
		olog.Channel, olog.SentVia, olog.ExternalMessageID, olog.Status,
		olog.ErrorMessage, olog.RetryCount, olog.CreatedAt, olog.SentAt,
	}

	if s.driver == "postgres" {
		query := q.Rebind(`INSERT INTO outreach_logs (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		row := q.QueryRowxContext(ctx, query, args...)
		if err := row.Scan(&olog.ID); err != nil {
			return fmt.Errorf("store: insert outreach log lead=%d: %w", olog.LeadID, err)
		}
		return nil
	}

	query := q.Rebind(`INSERT INTO outreach_logs (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: insert outreach log lead=%d: %w", olog.LeadID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert outreach log lead=%d: %w", olog.LeadID, err)
	}
	olog.ID = id
	return nil
}

// LatestLogForLead returns the most recent outreach log for a lead under
// an experiment, or (nil, nil) when none exists.
func (s *Store) LatestLogForLead(ctx context.Context, q sqlx.ExtContext, leadID int64, experimentID string) (*OutreachLog, error) {
	q = s.ext(q)
	var olog OutreachLog
	query := q.Rebind(`SELECT ` + outreachLogColumns + ` FROM outreach_logs
		WHERE lead_id = ? AND experiment_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`)
	err := sqlx.GetContext(ctx, q, &olog, query, leadID, experimentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest log lead=%d exp=%s: %w", leadID, experimentID, err)
	}
	return &olog, nil
}

// AdvanceOutreachStatus moves a log along its state machine and stamps
// the matching engagement timestamp.
func (s *Store) AdvanceOutreachStatus(ctx context.Context, q sqlx.ExtContext, olog *OutreachLog, to OutreachStatus) error {
	if !olog.Status.CanTransition(to) {
		return fmt.Errorf("%w: outreach log %d %s -> %s", ErrInvalidTransition, olog.ID, olog.Status, to)
	}
	q = s.ext(q)
	now := time.Now().UTC()

	tsColumn := ""
	switch to {
	case OutreachDelivered:
		tsColumn = "delivered_at"
	case OutreachOpened:
		tsColumn = "opened_at"
	case OutreachClicked:
		tsColumn = "clicked_at"
	case OutreachReplied:
		tsColumn = "replied_at"
	}

	var (
		query string
		args  []interface{}
	)
	if tsColumn != "" {
		query = q.Rebind(`UPDATE outreach_logs SET status = ?, ` + tsColumn + ` = ? WHERE id = ?`)
		args = []interface{}{to, now, olog.ID}
	} else {
		query = q.Rebind(`UPDATE outreach_logs SET status = ? WHERE id = ?`)
		args = []interface{}{to, olog.ID}
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: advance log %d to %s: %w", olog.ID, to, err)
	}

	olog.Status = to
	switch to {
	case OutreachDelivered:
		olog.DeliveredAt = &now
	case OutreachOpened:
		olog.OpenedAt = &now
	case OutreachClicked:
		olog.ClickedAt = &now
	case OutreachReplied:
		olog.RepliedAt = &now
	}
	return nil
}

// AgedOutreach identifies a sent message whose conversion window expired.
type AgedOutreach struct {
	LogID        int64  `db:"id"`
	ExperimentID string `db:"experiment_id"`
}

// AgedSentOutreach returns sent outreach older than the cutoff that has
// not converted and has not yet been counted as a Beta failure.
func (s *Store) AgedSentOutreach(ctx context.Context, q sqlx.ExtContext, cutoff time.Time, limit int) ([]AgedOutreach, error) {
	q = s.ext(q)
	if limit <= 0 {
		limit = 200
	}
	var aged []AgedOutreach
	query := q.Rebind(`SELECT ol.id, ol.experiment_id
		FROM outreach_logs ol
		JOIN leads l ON l.id = ol.lead_id
		WHERE ol.sent_at IS NOT NULL
		  AND ol.sent_at < ?
		  AND ol.beta_counted = ?
		  AND ol.status NOT IN (?, ?)
		  AND l.status != ?
		ORDER BY ol.sent_at
		LIMIT ?`)
	err := sqlx.SelectContext(ctx, q, &aged, query,
		cutoff, false, OutreachFailed, OutreachBounced, LeadConverted, limit)
	if err != nil {
		return nil, fmt.Errorf("store: aged outreach: %w", err)
	}
	return aged, nil
}

// MarkBetaCounted records that an aged log has been applied to its
// experiment's Beta prior, so the aging pass counts each attempt once.
func (s *Store) MarkBetaCounted(ctx context.Context, q sqlx.ExtContext, logID int64) error {
	q = s.ext(q)
	query := q.Rebind(`UPDATE outreach_logs SET beta_counted = ? WHERE id = ?`)
	if _, err := q.ExecContext(ctx, query, true, logID); err != nil {
		return fmt.Errorf("store: mark beta counted %d: %w", logID, err)
	}
	return nil
}

// RecentOutreach returns the newest outreach logs for the activity feed.
func (s *Store) RecentOutreach(ctx context.Context, limit int) ([]OutreachLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []OutreachLog
	query := s.rebind(`SELECT ` + outreachLogColumns + ` FROM outreach_logs
		ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err := sqlx.SelectContext(ctx, s.db, &logs, query, limit); err != nil {
		return nil, fmt.Errorf("store: recent outreach: %w", err)
	}
	return logs, nil
}
