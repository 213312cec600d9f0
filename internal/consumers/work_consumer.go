package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	kafkaadapter "stockpulse/internal/adapters/kafka"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// WorkHandler processes a single work request. Handlers are expected to
// publish their own result event, degraded or not, before returning nil.
type WorkHandler interface {
	HandleRequest(ctx context.Context, req events.WorkRequest) error
}

const workTimeout = 5 * time.Minute

// WorkConsumer drives one producer service off one request topic. The
// fetcher, analyzer and LLM services all share this loop; they differ only
// in the handler wired in.
type WorkConsumer struct {
	name       string
	consumer   *kafkaadapter.Consumer
	handler    WorkHandler
	deadletter DeadLetterer
	log        *logger.Logger
}

// NewWorkConsumer creates a consumer for one request topic.
func NewWorkConsumer(
	name string,
	consumer *kafkaadapter.Consumer,
	handler WorkHandler,
	deadletter DeadLetterer,
	log *logger.Logger,
) *WorkConsumer {
	return &WorkConsumer{
		name:       name,
		consumer:   consumer,
		handler:    handler,
		deadletter: deadletter,
		log:        log.With("consumer", name),
	}
}

// Start consumes work requests until the context is cancelled.
func (c *WorkConsumer) Start(ctx context.Context) error {
	c.log.Infow("Starting work consumer...")

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close work consumer", "error", err)
		}
	}()

	for {
		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Infow("Work consumer stopping (context cancelled)")
				return nil
			}
			c.log.Debugw("Failed to fetch work request", "error", err)
			continue
		}
		metrics.KafkaMessages.WithLabelValues(msg.Topic, "consumed", "ok").Inc()

		if err := c.handleMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorw("Work request failed, leaving for redelivery",
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

func (c *WorkConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var req events.WorkRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		metrics.DeadLetters.WithLabelValues(msg.Topic, "malformed").Inc()
		return c.deadletter.DeadLetter(ctx, msg.Key, msg.Value, "undecodable work request: "+err.Error())
	}

	workCtx, cancel := context.WithTimeout(ctx, workTimeout)
	defer cancel()

	err := c.handler.HandleRequest(workCtx, req)
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrMalformedEvent) || errors.Is(err, errors.ErrInvalidInput) {
		c.log.Warnw("Dead-lettering unprocessable work request",
			"task_id", req.TaskID, "kind", req.Kind, "error", err)
		metrics.DeadLetters.WithLabelValues(msg.Topic, "rejected").Inc()
		return c.deadletter.DeadLetter(ctx, msg.Key, msg.Value, err.Error())
	}
	return err
}
