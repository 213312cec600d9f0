package events

import (
	"context"
	"time"

	"stockpulse/internal/adapters/kafka"
	"stockpulse/internal/domain/task"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// kindTopics routes each work-request kind to its queue.
var kindTopics = map[TaskKind]string{
	KindFetchStockData: kafka.TopicFetchRequests,
	KindFetchNews:      kafka.TopicFetchRequests,
	KindMLPrediction:   kafka.TopicMLPrediction,
	KindMLTechnical:    kafka.TopicMLTechnical,
	KindMLSentiment:    kafka.TopicMLSentiment,
	KindLLMAnalysis:    kafka.TopicLLMAnalysis,
}

// Publisher publishes pipeline events to Kafka
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// PublishResult sends a result event to the aggregation topic.
// The task id keys the message so all events of one task share a partition.
func (p *Publisher) PublishResult(ctx context.Context, event ResultEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := p.producer.Publish(ctx, kafka.TopicResults, event.TaskID, event); err != nil {
		return errors.Wrapf(err, "publish result %s for task %s", event.Slot, event.TaskID)
	}
	p.log.Debugw("Result published", "task_id", event.TaskID, "slot", event.Slot)
	return nil
}

// PublishWork sends one work request to the producer queue for its kind.
func (p *Publisher) PublishWork(ctx context.Context, req WorkRequest) error {
	topic, ok := kindTopics[req.Kind]
	if !ok {
		return errors.Wrapf(errors.ErrMalformedEvent, "no topic for task_kind %q", req.Kind)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	if err := p.producer.Publish(ctx, topic, req.TaskID, req); err != nil {
		return errors.Wrapf(err, "publish %s work for task %s", req.Kind, req.TaskID)
	}
	p.log.Debugw("Work request published", "task_id", req.TaskID, "kind", req.Kind)
	return nil
}

// PublishFetchRequests emits the initial pair of fetch work requests for a
// new analysis task.
func (p *Publisher) PublishFetchRequests(ctx context.Context, taskID, ticker string, llmEnabled bool) error {
	for _, kind := range []TaskKind{KindFetchStockData, KindFetchNews} {
		req := WorkRequest{
			TaskID:     taskID,
			Ticker:     ticker,
			Kind:       kind,
			LLMEnabled: llmEnabled,
		}
		if err := p.PublishWork(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// PublishMLRequests fans out the statistical analyzers once both fetch slots
// are present. Prediction and technical consume the stock data payload;
// sentiment consumes the news payload. Payloads pass through verbatim.
func (p *Publisher) PublishMLRequests(ctx context.Context, snap *task.Snapshot) error {
	requests := []WorkRequest{
		{TaskID: snap.TaskID, Ticker: snap.Ticker, Kind: KindMLPrediction, Input: snap.Payload(task.SlotStockData), LLMEnabled: snap.LLMEnabled},
		{TaskID: snap.TaskID, Ticker: snap.Ticker, Kind: KindMLTechnical, Input: snap.Payload(task.SlotStockData), LLMEnabled: snap.LLMEnabled},
		{TaskID: snap.TaskID, Ticker: snap.Ticker, Kind: KindMLSentiment, Input: snap.Payload(task.SlotNews), LLMEnabled: snap.LLMEnabled},
	}

	for _, req := range requests {
		if err := p.PublishWork(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// PublishLLMRequest emits the LLM analysis batch request. The LLM stage
// receives the news payload; it produces all three LLM slots from it.
func (p *Publisher) PublishLLMRequest(ctx context.Context, snap *task.Snapshot) error {
	req := WorkRequest{
		TaskID:     snap.TaskID,
		Ticker:     snap.Ticker,
		Kind:       KindLLMAnalysis,
		Input:      snap.Payload(task.SlotNews),
		LLMEnabled: true,
	}
	return p.PublishWork(ctx, req)
}

// DeadLetter forwards an unprocessable message's raw bytes to the dead-letter
// topic so poison messages never block a partition.
func (p *Publisher) DeadLetter(ctx context.Context, key, value []byte, reason string) error {
	p.log.Warnw("Dead-lettering message", "reason", reason, "size", len(value))
	if err := p.producer.PublishRaw(ctx, kafka.TopicDeadLetter, key, value); err != nil {
		return errors.Wrap(err, "publish to dead-letter topic")
	}
	return nil
}
