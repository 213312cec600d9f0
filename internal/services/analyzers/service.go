package analyzers

import (
	"context"
	"encoding/json"
	"time"

	"stockpulse/internal/adapters/config"
	"stockpulse/internal/adapters/marketdata/alphavantage"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// ResultPublisher emits result events back to the aggregation topic.
type ResultPublisher interface {
	PublishResult(ctx context.Context, event events.ResultEvent) error
}

// Service runs the statistical analyzers over fan-out work requests. The
// analyzers are pure computation; a failure means the input data cannot
// support the analysis, so the service degrades immediately instead of
// retrying.
type Service struct {
	cfg       config.AnalysisConfig
	publisher ResultPublisher
	log       *logger.Logger
}

// NewService creates the analyzer service.
func NewService(cfg config.AnalysisConfig, publisher ResultPublisher, log *logger.Logger) *Service {
	return &Service{
		cfg:       cfg,
		publisher: publisher,
		log:       log,
	}
}

// HandleRequest processes one ML work request and emits exactly one result.
func (s *Service) HandleRequest(ctx context.Context, req events.WorkRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var slot task.Slot
	switch req.Kind {
	case events.KindMLPrediction:
		slot = task.SlotMLPrediction
	case events.KindMLTechnical:
		slot = task.SlotMLTechnical
	case events.KindMLSentiment:
		slot = task.SlotMLSentiment
	default:
		return errors.Wrapf(errors.ErrMalformedEvent, "analyzer cannot handle task_kind %q", req.Kind)
	}

	start := time.Now()
	payload, err := s.analyze(slot, req.Input)
	metrics.RecordProducerExecution(string(slot), time.Since(start), err)

	if err != nil {
		s.log.Warnw("Analysis degraded",
			"task_id", req.TaskID, "ticker", req.Ticker, "slot", slot, "error", err)
		payload = events.NewDegradedPayload(err.Error())
		metrics.ProducerExecutions.WithLabelValues(string(slot), "degraded").Inc()
	}

	return s.publisher.PublishResult(ctx, events.ResultEvent{
		TaskID:     req.TaskID,
		Ticker:     req.Ticker,
		Slot:       slot,
		Payload:    payload,
		Producer:   events.ProducerMLAnalysis,
		LLMEnabled: req.LLMEnabled,
	})
}

func (s *Service) analyze(slot task.Slot, input json.RawMessage) (json.RawMessage, error) {
	switch slot {
	case task.SlotMLPrediction, task.SlotMLTechnical:
		var data alphavantage.StockData
		if err := json.Unmarshal(input, &data); err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad stock data input: %v", err)
		}
		if degraded(input) {
			return nil, errors.Wrap(errors.ErrSourceUnavailable, "stock data unavailable upstream")
		}

		if slot == task.SlotMLPrediction {
			result, err := RunPrediction(&data, s.cfg.MinPriceBars)
			if err != nil {
				return nil, err
			}
			return json.Marshal(result)
		}

		result, err := RunTechnical(&data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case task.SlotMLSentiment:
		if degraded(input) {
			return nil, errors.Wrap(errors.ErrSourceUnavailable, "news unavailable upstream")
		}
		var articles []alphavantage.NewsArticle
		if err := json.Unmarshal(input, &articles); err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad news input: %v", err)
		}
		return json.Marshal(RunSentiment(articles))
	}

	return nil, errors.Wrapf(errors.ErrUnknownSlot, "%q", slot)
}

// degraded reports whether an upstream producer already emitted an
// unavailable marker for this input.
func degraded(input json.RawMessage) bool {
	var marker events.DegradedPayload
	if err := json.Unmarshal(input, &marker); err != nil {
		return false
	}
	return marker.Unavailable
}
