// Package ledger provides a processed-event ledger for at-most-once
// handling of redelivered engagement events. Keys are recorded via Redis
// SET NX with a TTL; a key that was already present means the event was
// seen before and must not be applied again.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger records processed (external_id, event_type) pairs. Callers
// check Seen before applying an event and call MarkProcessed only after
// the apply has committed, so a failed apply stays retryable.
type Ledger interface {
	// Seen reports whether the event key has already been recorded.
	Seen(ctx context.Context, externalID, eventType string) (bool, error)
	// MarkProcessed records the event key. Returns true if this is the
	// first time the key has been seen, false if it was already recorded.
	MarkProcessed(ctx context.Context, externalID, eventType string) (bool, error)
}

// RedisLedger implements Ledger on Redis using SET NX with TTL.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a ledger backed by Redis. Entries expire after ttl
// (default 30 days) so the keyspace stays bounded.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// Seen checks for the event key via EXISTS.
func (l *RedisLedger) Seen(ctx context.Context, externalID, eventType string) (bool, error) {
	key := fmt.Sprintf("processed:%s:%s", externalID, eventType)
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ledger: failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// MarkProcessed records the event key via SET NX.
func (l *RedisLedger) MarkProcessed(ctx context.Context, externalID, eventType string) (bool, error) {
	key := fmt.Sprintf("processed:%s:%s", externalID, eventType)
	first, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger: failed to record %s: %w", key, err)
	}
	return first, nil
}

// NopLedger treats every event as first-seen. Used when Redis is not
// configured; callers must then rely on state-guarded transitions for
// deduplication.
type NopLedger struct{}

// Seen always reports unseen.
func (NopLedger) Seen(ctx context.Context, externalID, eventType string) (bool, error) {
	return false, nil
}

// MarkProcessed always reports first-seen.
func (NopLedger) MarkProcessed(ctx context.Context, externalID, eventType string) (bool, error) {
	return true, nil
}
