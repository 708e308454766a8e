package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
)

// maxHandlerAttempts is the number of times a record handler is attempted
// before the record is committed and forwarded to the dead-letter topic.
const maxHandlerAttempts = 3

// retryCountHeader carries the number of failed handling attempts across
// redeliveries, so the count survives process restarts and group
// rebalances.
const retryCountHeader = "retry-count"

// ErrFatal marks a configuration error the pipeline cannot retry its way
// out of. A handler error wrapping ErrFatal stops the consumer with the
// offset uncommitted instead of dead-lettering the record.
var ErrFatal = errors.New("fatal configuration error")

// Handler processes one decoded record. Returning an error requeues the
// record on its own topic with an incremented retry-count header; after
// maxHandlerAttempts failures the record is dead-lettered and skipped.
type Handler func(ctx context.Context, key string, value []byte) error

// ConsumerConfig holds consumer-group settings for one topic.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// DisableDLQ turns off dead-letter publishing; poison records are
	// then committed with only an error log.
	DisableDLQ bool
}

// Consumer joins a consumer group on a single topic, polls records,
// decodes JSON and hands each record to the handler. Offsets are
// committed only after the record is handled, requeued or dead-lettered.
type Consumer struct {
	reader     *kafka.Reader
	producer   *Producer
	topic      string
	group      string
	dlqEnabled bool
}

// NewConsumer creates a consumer for the given topic and group.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // synchronous commits
	})

	return &Consumer{
		reader:     r,
		producer:   NewProducer(cfg.Brokers, cfg.GroupID+"-retry"),
		topic:      cfg.Topic,
		group:      cfg.GroupID,
		dlqEnabled: !cfg.DisableDLQ,
	}
}

// Run polls until the context is canceled. Malformed records (not valid
// JSON objects) are committed with an error log rather than retried.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	logger.Info("consumer started", "topic", c.topic, "group", c.group)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info("consumer stopping", "topic", c.topic)
				return c.Close()
			}
			logger.Error("fetch failed", "topic", c.topic, "error", err.Error())
			continue
		}

		if !json.Valid(msg.Value) {
			logger.Error("malformed record, skipping",
				"topic", c.topic,
				"offset", strconv.FormatInt(msg.Offset, 10))
			c.commit(ctx, msg)
			continue
		}

		if err := c.handleOnce(ctx, msg, handler); err != nil {
			c.Close()
			return err
		}
	}
}

// handleOnce runs the handler once. On failure the retry-count header
// decides the outcome: a record with fewer than maxHandlerAttempts
// failures is requeued on its own topic with the header incremented, so
// the count is durable across crashes and rebalances; a record at the
// limit is dead-lettered. Either way the offset is committed so the
// partition is not blocked. A fatal handler error is returned with the
// offset left uncommitted.
func (c *Consumer) handleOnce(ctx context.Context, msg kafka.Message, handler Handler) error {
	err := handler(ctx, string(msg.Key), msg.Value)
	if err == nil {
		c.commit(ctx, msg)
		return nil
	}
	if errors.Is(err, ErrFatal) {
		logger.Error("fatal handler error, stopping consumer",
			"topic", c.topic,
			"key", string(msg.Key),
			"error", err.Error())
		return err
	}
	if ctx.Err() != nil {
		// Shutting down mid-record: leave the offset uncommitted so the
		// next group member redelivers it.
		return nil
	}

	attempts := retryCount(msg.Headers) + 1
	logger.Warn("handler failed",
		"topic", c.topic,
		"key", string(msg.Key),
		"attempt", strconv.Itoa(attempts),
		"error", err.Error())

	if attempts >= maxHandlerAttempts {
		c.deadLetter(ctx, msg, attempts, err)
		c.commit(ctx, msg)
		return nil
	}

	if pubErr := c.producer.publishRaw(ctx, requeueMessage(msg, attempts)); pubErr != nil {
		// Requeue failed: leave the offset uncommitted so the broker
		// redelivers the record with its current header intact.
		logger.Error("requeue failed",
			"topic", c.topic,
			"key", string(msg.Key),
			"error", pubErr.Error())
		return nil
	}
	c.commit(ctx, msg)
	return nil
}

// retryCount reads the retry-count header. Absent or malformed headers
// count as zero prior failures.
func retryCount(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key != retryCountHeader {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
			return n
		}
		return 0
	}
	return 0
}

// requeueMessage builds the retry copy of a failed record: same topic,
// key and value, with the retry-count header replaced by the new count.
func requeueMessage(msg kafka.Message, attempts int) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	for _, h := range msg.Headers {
		if h.Key != retryCountHeader {
			headers = append(headers, h)
		}
	}
	headers = append(headers, kafka.Header{
		Key:   retryCountHeader,
		Value: []byte(strconv.Itoa(attempts)),
	})
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, attempts int, cause error) {
	logger.Error("poison record, dead-lettering",
		"topic", c.topic,
		"key", string(msg.Key),
		"offset", strconv.FormatInt(msg.Offset, 10),
		"error", cause.Error())

	if !c.dlqEnabled {
		return
	}

	envelope := map[string]interface{}{
		"original_topic": c.topic,
		"group_id":       c.group,
		"key":            string(msg.Key),
		"offset":         msg.Offset,
		"partition":      msg.Partition,
		"attempts":       attempts,
		"error":          cause.Error(),
		"failed_at":      Now(),
		"payload":        json.RawMessage(msg.Value),
	}
	if err := c.producer.Publish(ctx, c.topic+".dlq", string(msg.Key), envelope); err != nil {
		logger.Error("dead-letter publish failed", "topic", c.topic, "error", err.Error())
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		logger.Error("offset commit failed",
			"topic", c.topic,
			"offset", strconv.FormatInt(msg.Offset, 10),
			"error", err.Error())
	}
}

// Close closes the reader, triggering a group rebalance, and flushes the
// requeue/dead-letter producer.
func (c *Consumer) Close() error {
	var errs []error
	if err := c.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("events: close consumer: %v", errs)
	}
	return nil
}
