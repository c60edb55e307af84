// Package webhook implements the Webhook Dispatcher (spec.md section
// 6): it publishes one JSON event per derived-state change to Kafka,
// keyed so consumers can dedup at-least-once delivery.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// topic is the single Kafka topic every webhook event is published to;
// consumers fan out on the envelope's Type field rather than on topic,
// since ordering across event types for the same Safe matters (e.g. a
// NEW_CONFIRMATION must not be observed after the
// EXECUTED_MULTISIG_TRANSACTION it belongs to).
const topic = "safe-events"

// Publisher is the production ports.EventPublisher implementation.
type Publisher struct {
	writer *kafka.Writer
	logger ports.Logger
}

func NewPublisher(cfg config.KafkaConfig, logger ports.Logger) *Publisher {
	fullTopic := topic
	if cfg.TopicPrefix != "" {
		fullTopic = fmt.Sprintf("%s_%s", cfg.TopicPrefix, topic)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        fullTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		Async:        false,
	}

	return &Publisher{writer: writer, logger: logger}
}

func requiredAcks(s string) kafka.RequiredAcks {
	switch s {
	case "none":
		return kafka.RequireNone
	case "one":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

// Publish writes one event to Kafka, keyed by its dedup key so
// consumers that key offsets on message key naturally deduplicate
// at-least-once redelivery.
func (p *Publisher) Publish(ctx context.Context, event domain.WebhookEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook publisher: failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.DedupKey()),
		Value: data,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("webhook publisher: failed to publish %s event for safe %s: %w", event.Type, event.Safe, err)
	}

	p.logger.Debugw("webhook publisher: published event", "type", event.Type, "safe", event.Safe.Hex())
	return nil
}

func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("webhook publisher: failed to close writer: %w", err)
	}
	return nil
}
