package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"stockpulse/pkg/logger"
)

// Consumer handles Kafka message consumption
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 10e3 // 10KB
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}

	log := logger.Get().With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.FirstOffset, // Start from beginning if no offset committed
	})

	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
		"topic", cfg.Topic,
	)

	return &Consumer{
		reader: reader,
		log:    log,
	}
}

// ReadMessage reads the next message (blocking until message available or ctx cancelled)
func (c *Consumer) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return c.reader.ReadMessage(ctx)
}

// FetchMessage reads the next message without committing its offset.
// Pair with CommitMessages so an event is only acknowledged after the handler
// succeeds; a store failure leaves the offset uncommitted for redelivery.
func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	// Check for shutdown signal BEFORE blocking on FetchMessage
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, err
	}

	return msg, nil
}

// CommitMessages marks messages as processed
func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return c.reader.CommitMessages(ctx, msgs...)
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
