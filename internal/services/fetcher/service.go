package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"stockpulse/internal/adapters/marketdata/alphavantage"
	"stockpulse/internal/adapters/retry"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// MarketData is the slice of the market data client the fetcher needs.
type MarketData interface {
	FetchStockData(ctx context.Context, ticker string) (*alphavantage.StockData, error)
	FetchNews(ctx context.Context, ticker string) ([]alphavantage.NewsArticle, error)
}

// ResultPublisher emits result events back to the aggregation topic.
type ResultPublisher interface {
	PublishResult(ctx context.Context, event events.ResultEvent) error
}

// Service executes fetch work requests. Each request resolves to exactly one
// result event: the fetched payload on success, or a degraded payload when
// retries are exhausted, so the aggregation predicate always advances.
type Service struct {
	market    MarketData
	publisher ResultPublisher
	retry     *retry.Middleware
	log       *logger.Logger
}

// NewService creates the fetch service.
func NewService(market MarketData, publisher ResultPublisher, retryMW *retry.Middleware, log *logger.Logger) *Service {
	if retryMW == nil {
		retryMW = retry.New(retry.DefaultConfig())
	}
	return &Service{
		market:    market,
		publisher: publisher,
		retry:     retryMW,
		log:       log,
	}
}

// HandleRequest processes one fetch work request.
func (s *Service) HandleRequest(ctx context.Context, req events.WorkRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var slot task.Slot
	switch req.Kind {
	case events.KindFetchStockData:
		slot = task.SlotStockData
	case events.KindFetchNews:
		slot = task.SlotNews
	default:
		return errors.Wrapf(errors.ErrMalformedEvent, "fetcher cannot handle task_kind %q", req.Kind)
	}

	start := time.Now()
	payload, fetchErr := s.fetch(ctx, slot, req.Ticker)
	metrics.RecordProducerExecution("fetcher_"+string(slot), time.Since(start), fetchErr)

	if fetchErr != nil {
		// Retries exhausted. Emit an explicit unavailable result instead of
		// stalling the task.
		s.log.Warnw("Fetch degraded after retries",
			"task_id", req.TaskID, "ticker", req.Ticker, "slot", slot, "error", fetchErr)
		payload = events.NewDegradedPayload(fetchErr.Error())
		metrics.ProducerExecutions.WithLabelValues("fetcher_"+string(slot), "degraded").Inc()
	}

	return s.publisher.PublishResult(ctx, events.ResultEvent{
		TaskID:     req.TaskID,
		Ticker:     req.Ticker,
		Slot:       slot,
		Payload:    payload,
		Producer:   events.ProducerDataFetch,
		LLMEnabled: req.LLMEnabled,
	})
}

func (s *Service) fetch(ctx context.Context, slot task.Slot, ticker string) (json.RawMessage, error) {
	var payload json.RawMessage

	err := s.retry.Do(ctx, func() error {
		var data interface{}
		var err error

		switch slot {
		case task.SlotStockData:
			data, err = s.market.FetchStockData(ctx, ticker)
		case task.SlotNews:
			var articles []alphavantage.NewsArticle
			articles, err = s.market.FetchNews(ctx, ticker)
			if err == nil && articles == nil {
				articles = []alphavantage.NewsArticle{}
			}
			data = articles
		}
		if err != nil {
			return err
		}

		payload, err = json.Marshal(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}
