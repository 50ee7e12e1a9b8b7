// Package kafka publishes mutation events to a Kafka topic using
// segmentio/kafka-go. Events are keyed by memory id so mutations for one
// memory land on one partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mnemohq/mnemo/pkg/eventstream"
	"github.com/mnemohq/mnemo/pkg/logger"
)

// Config holds connection settings for the Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic is the topic mutation events are written to.
	Topic string
}

// Publisher implements eventstream.Publisher on a kafka-go Writer.
type Publisher struct {
	writer *kafkago.Writer
	log    *slog.Logger
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(c Config, log *slog.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return &Publisher{writer: writer, log: log}, nil
}

// PublishMutation writes one event, keyed by memory id.
func (p *Publisher) PublishMutation(ctx context.Context, event *eventstream.MemoryMutatedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling mutation event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.MemoryID),
		Value: payload,
		Time:  event.EmittedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing mutation event: %w", err)
	}

	p.log.Debug("published mutation event",
		"event_id", event.EventID, "memory_id", event.MemoryID, "event", event.Event)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
