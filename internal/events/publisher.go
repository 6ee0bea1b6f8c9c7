// Package events publishes domain events (generation finished, payment
// settled) to Kafka for downstream consumers such as analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Event types.
const (
	TypeGenerationSucceeded = "generation.succeeded"
	TypeGenerationFailed    = "generation.failed"
	TypePaymentSettled      = "payment.settled"
	TypeCreditsRefilled     = "credits.refilled"
)

// Event is the JSON envelope written to the topic. UserID is the message key
// so one user's events stay ordered within a partition.
type Event struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	ResourceID string         `json:"resource_id"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

const (
	kafkaRetryMax     = 3
	kafkaRetryBackoff = 200 * time.Millisecond
)

// Kafka publishes through a sarama SyncProducer.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka dials brokers and returns a synchronous publisher.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = kafkaRetryMax
	cfg.Producer.Retry.Backoff = kafkaRetryBackoff
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	return NewKafkaWithProducer(p, topic), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

// Publish encodes e and waits for the broker ack.
func (k *Kafka) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.UserID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("events: send %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error { return k.producer.Close() }

// Noop drops every event.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }
