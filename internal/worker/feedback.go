package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/pkg/ledger"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
	"github.com/pipelinewhisperer/outreach/internal/store"
)

// Feedback consumes outreach engagement events and folds them back into
// lead status, outreach logs and the experiments' Beta posteriors.
type Feedback struct {
	store            *store.Store
	ledger           ledger.Ledger
	conversionWindow time.Duration
}

// NewFeedback wires the feedback stage. A zero conversionWindow disables
// the Beta aging pass; dedup falls back to state guards when the ledger
// is a NopLedger.
func NewFeedback(st *store.Store, led ledger.Ledger, conversionWindow time.Duration) *Feedback {
	if led == nil {
		led = ledger.NopLedger{}
	}
	return &Feedback{store: st, ledger: led, conversionWindow: conversionWindow}
}

// Handle processes one outreach.events record. Unknown event types and
// state-machine violations are committed rather than retried.
func (f *Feedback) Handle(ctx context.Context, key string, value []byte) error {
	var ev events.OutreachEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		logger.Error("outreach event decode failed, skipping", "key", key, "error", err.Error())
		return nil
	}
	if ev.ExternalID == "" {
		ev.ExternalID = key
	}

	switch ev.EventType {
	case events.EventOutreachSent, events.EventOutreachFailed:
		// Produced by the orchestrator for downstream observers; nothing
		// to fold back.
		return nil
	case events.EventOutreachOpened, events.EventOutreachClicked,
		events.EventOutreachReplied, events.EventOutreachConverted,
		events.EventOutreachBounced:
	default:
		logger.Warn("unknown outreach event type, skipping",
			"event_type", ev.EventType, "external_id", ev.ExternalID)
		return nil
	}

	seen, err := f.ledger.Seen(ctx, ev.ExternalID, ev.EventType)
	if err != nil {
		// Ledger unavailable: fall through and rely on state guards.
		logger.Warn("processed-event ledger unavailable",
			"external_id", ev.ExternalID, "error", err.Error())
	} else if seen {
		logger.Debug("event already processed, skipping",
			"event_type", ev.EventType, "external_id", ev.ExternalID)
		return nil
	}

	lead, err := f.loadLead(ctx, &ev)
	if err != nil {
		return err
	}
	if lead == nil {
		logger.Warn("engagement event for unknown lead, skipping",
			"event_type", ev.EventType, "external_id", ev.ExternalID)
		return nil
	}

	experimentID := ev.ExperimentID
	if experimentID == "" && lead.ExperimentID != nil {
		experimentID = *lead.ExperimentID
	}
	if experimentID == "" {
		logger.Warn("engagement event without experiment, skipping",
			"event_type", ev.EventType, "external_id", ev.ExternalID)
		return nil
	}

	switch ev.EventType {
	case events.EventOutreachOpened:
		err = f.advanceLog(ctx, lead, experimentID, store.OutreachOpened)
	case events.EventOutreachClicked:
		err = f.advanceLog(ctx, lead, experimentID, store.OutreachClicked)
	case events.EventOutreachBounced:
		err = f.advanceLog(ctx, lead, experimentID, store.OutreachBounced)
	case events.EventOutreachReplied:
		err = f.handleReply(ctx, lead, experimentID)
	case events.EventOutreachConverted:
		err = f.handleConversion(ctx, lead, experimentID)
	}
	if err != nil {
		return err
	}

	// Record only after the apply has committed, so a failed apply stays
	// retryable. A crash between commit and record leaves at most one
	// redelivered apply, absorbed by the state guards above.
	if _, err := f.ledger.MarkProcessed(ctx, ev.ExternalID, ev.EventType); err != nil {
		logger.Warn("processed-event ledger record failed",
			"external_id", ev.ExternalID, "error", err.Error())
	}
	return nil
}

func (f *Feedback) loadLead(ctx context.Context, ev *events.OutreachEvent) (*store.Lead, error) {
	if ev.ExternalID != "" {
		return f.store.GetLeadByExternalID(ctx, nil, ev.ExternalID)
	}
	if ev.LeadID != 0 {
		return f.store.GetLeadByID(ctx, nil, ev.LeadID)
	}
	return nil, nil
}

// advanceLog moves the latest outreach log forward. Violations of the
// engagement order are permanent; they are logged and committed.
func (f *Feedback) advanceLog(ctx context.Context, lead *store.Lead, experimentID string, to store.OutreachStatus) error {
	olog, err := f.store.LatestLogForLead(ctx, nil, lead.ID, experimentID)
	if err != nil {
		return err
	}
	if olog == nil {
		logger.Warn("engagement event without outreach log, skipping",
			"external_id", lead.ExternalID, "experiment_id", experimentID)
		return nil
	}
	if err := f.store.AdvanceOutreachStatus(ctx, nil, olog, to); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.Debug("engagement event out of order, skipping",
				"external_id", lead.ExternalID,
				"from", string(olog.Status), "to", string(to))
			return nil
		}
		return err
	}
	logger.Info("outreach engagement recorded",
		"external_id", lead.ExternalID,
		"experiment_id", experimentID,
		"status", string(to))
	return nil
}

// handleReply transitions log and lead and bumps the experiment's
// response counter in one transaction.
func (f *Feedback) handleReply(ctx context.Context, lead *store.Lead, experimentID string) error {
	if !lead.Status.CanTransition(store.LeadResponded) {
		logger.Debug("lead cannot move to responded, skipping",
			"external_id", lead.ExternalID, "status", string(lead.Status))
		return nil
	}

	err := f.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		olog, err := f.store.LatestLogForLead(ctx, tx, lead.ID, experimentID)
		if err != nil {
			return err
		}
		if olog != nil && olog.Status.CanTransition(store.OutreachReplied) {
			if err := f.store.AdvanceOutreachStatus(ctx, tx, olog, store.OutreachReplied); err != nil {
				return err
			}
		}
		if err := f.store.TransitionLead(ctx, tx, lead, store.LeadResponded); err != nil {
			return err
		}
		return f.store.RecordResponse(ctx, tx, experimentID)
	})
	if err != nil {
		return fmt.Errorf("feedback: reply for %s: %w", lead.ExternalID, err)
	}

	logger.Info("lead responded",
		"external_id", lead.ExternalID, "experiment_id", experimentID)
	return nil
}

// handleConversion transitions the lead to converted and adds one
// success to the experiment's posterior. Leads already converted are a
// state guard against redelivered conversion events.
func (f *Feedback) handleConversion(ctx context.Context, lead *store.Lead, experimentID string) error {
	if lead.Status == store.LeadConverted {
		logger.Debug("lead already converted, skipping", "external_id", lead.ExternalID)
		return nil
	}
	if !lead.Status.CanTransition(store.LeadConverted) {
		logger.Warn("lead cannot convert from current status, skipping",
			"external_id", lead.ExternalID, "status", string(lead.Status))
		return nil
	}

	err := f.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := f.store.TransitionLead(ctx, tx, lead, store.LeadConverted); err != nil {
			return err
		}
		return f.store.RecordConversion(ctx, tx, experimentID)
	})
	if err != nil {
		return fmt.Errorf("feedback: conversion for %s: %w", lead.ExternalID, err)
	}

	logger.Info("lead converted",
		"external_id", lead.ExternalID, "experiment_id", experimentID)
	return nil
}

// RunAging periodically counts sent outreach that outlived the
// conversion window as Beta failures, so arms that send without
// converting lose posterior mass. No-op when the window is zero.
func (f *Feedback) RunAging(ctx context.Context, interval time.Duration) {
	if f.conversionWindow <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.AgeOutreach(ctx); err != nil {
				logger.Error("beta aging pass failed", "error", err.Error())
			}
		}
	}
}

// AgeOutreach runs one aging pass over sent-but-unconverted outreach.
func (f *Feedback) AgeOutreach(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-f.conversionWindow)
	aged, err := f.store.AgedSentOutreach(ctx, nil, cutoff, 200)
	if err != nil {
		return err
	}
	for _, a := range aged {
		err := f.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := f.store.RecordFailurePrior(ctx, tx, a.ExperimentID); err != nil {
				return err
			}
			return f.store.MarkBetaCounted(ctx, tx, a.LogID)
		})
		if err != nil {
			return err
		}
	}
	if len(aged) > 0 {
		logger.Info("aged outreach counted as failures", "count", fmt.Sprintf("%d", len(aged)))
	}
	return nil
}
