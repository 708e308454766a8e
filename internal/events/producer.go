package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
)

// Producer publishes keyed JSON records to the event log. Writes are
// asynchronous: Publish queues the record and returns; delivery reports
// arrive on a completion callback where failures are counted and logged.
type Producer struct {
	writer        *kafka.Writer
	inFlight      int64
	deliveryFails int64
}

// NewProducer creates a producer for the given brokers. Records are
// balanced by key hash so per-key ordering holds, and writes require
// acknowledgement from all in-sync replicas.
func NewProducer(brokers []string, clientID string) *Producer {
	p := &Producer{}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion:   p.onDelivery,
		Transport:    &kafka.Transport{ClientID: clientID},
	}
	return p
}

func (p *Producer) onDelivery(messages []kafka.Message, err error) {
	atomic.AddInt64(&p.inFlight, -int64(len(messages)))
	if err != nil {
		atomic.AddInt64(&p.deliveryFails, int64(len(messages)))
		for _, m := range messages {
			logger.Error("event delivery failed",
				"topic", m.Topic,
				"key", string(m.Key),
				"error", err.Error())
		}
	}
}

// Publish queues a record for delivery. The payload is marshalled to JSON
// and keyed for partitioning. Queueing errors are returned; delivery
// errors surface on the completion callback and never block the caller.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload for %s: %w", topic, err)
	}

	atomic.AddInt64(&p.inFlight, 1)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		atomic.AddInt64(&p.inFlight, -1)
		return fmt.Errorf("events: queue record for %s: %w", topic, err)
	}

	logger.Debug("event queued", "topic", topic, "key", key)
	return nil
}

// publishRaw queues an already-encoded record, preserving its headers.
// The consumer uses it to requeue failed records with an updated
// retry-count header.
func (p *Producer) publishRaw(ctx context.Context, msg kafka.Message) error {
	atomic.AddInt64(&p.inFlight, 1)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		atomic.AddInt64(&p.inFlight, -1)
		return fmt.Errorf("events: queue record for %s: %w", msg.Topic, err)
	}
	logger.Debug("event requeued", "topic", msg.Topic, "key", string(msg.Key))
	return nil
}

// Flush blocks until all queued records are acknowledged or the timeout
// elapses. It returns the number of records still undelivered.
func (p *Producer) Flush(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&p.inFlight) == 0 {
			return 0
		}
		time.Sleep(10 * time.Millisecond)
	}
	remaining := int(atomic.LoadInt64(&p.inFlight))
	if remaining > 0 {
		logger.Warn("producer flush timed out", "undelivered", remaining)
	}
	return remaining
}

// DeliveryFailures reports the number of records whose delivery report
// came back with an error.
func (p *Producer) DeliveryFailures() int64 {
	return atomic.LoadInt64(&p.deliveryFails)
}

// Close flushes pending records and closes the writer.
func (p *Producer) Close() error {
	p.Flush(10 * time.Second)
	return p.writer.Close()
}
