package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	kafkaadapter "stockpulse/internal/adapters/kafka"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/internal/services/aggregator"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

const redeliveryBackoff = 2 * time.Second

// DeadLetterer routes poison messages off the partition.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, key, value []byte, reason string) error
}

// AggregateConsumer reads producer result events and feeds them to the
// aggregation engine.
//
// Offsets are committed manually, after handling: a store outage leaves the
// offset uncommitted so the event is redelivered, while malformed events are
// dead-lettered and committed so they never block the partition.
type AggregateConsumer struct {
	consumer   *kafkaadapter.Consumer
	aggregator *aggregator.Service
	deadletter DeadLetterer
	log        *logger.Logger
}

// NewAggregateConsumer creates the aggregation consumer.
func NewAggregateConsumer(
	consumer *kafkaadapter.Consumer,
	service *aggregator.Service,
	deadletter DeadLetterer,
	log *logger.Logger,
) *AggregateConsumer {
	return &AggregateConsumer{
		consumer:   consumer,
		aggregator: service,
		deadletter: deadletter,
		log:        log,
	}
}

// Start consumes result events until the context is cancelled.
func (c *AggregateConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting aggregate consumer...")

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close aggregate consumer", "error", err)
		}
	}()

	for {
		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Aggregate consumer stopping (context cancelled)")
				return nil
			}
			c.log.Debugw("Failed to fetch result event", "error", err)
			continue
		}
		metrics.KafkaMessages.WithLabelValues(msg.Topic, "consumed", "ok").Inc()

		if err := c.handleMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Transient failure with the offset uncommitted; the event will
			// be redelivered. Back off so a store outage does not spin.
			c.log.Errorw("Result handling failed, leaving event for redelivery",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(redeliveryBackoff):
			}
			continue
		}

		if err := c.consumer.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorw("Failed to commit offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// handleMessage processes one Kafka message. A nil return means the offset
// may be committed; dead-lettered messages count as handled.
func (c *AggregateConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event events.ResultEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		metrics.DeadLetters.WithLabelValues(msg.Topic, "malformed").Inc()
		return c.deadletter.DeadLetter(ctx, msg.Key, msg.Value, "undecodable result event: "+err.Error())
	}

	err := c.aggregator.HandleResult(ctx, event)
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrMalformedEvent) || errors.Is(err, errors.ErrUnknownSlot) {
		c.log.Warnw("Dead-lettering unprocessable result event",
			"task_id", event.TaskID, "slot", string(event.Slot), "error", err)
		metrics.DeadLetters.WithLabelValues(msg.Topic, "rejected").Inc()
		return c.deadletter.DeadLetter(ctx, msg.Key, msg.Value, err.Error())
	}
	return err
}
