package events

import (
	"encoding/json"
	"time"

	"stockpulse/internal/domain/task"
	"stockpulse/pkg/errors"
)

// ProducerKind labels which stage emitted a result event. It is used for
// routing and progress labeling only, never for the completion predicate.
type ProducerKind string

const (
	ProducerDataFetch   ProducerKind = "data_fetch"
	ProducerMLAnalysis  ProducerKind = "ml_analysis"
	ProducerLLMAnalysis ProducerKind = "llm_analysis"
)

// TaskKind identifies the work a downstream producer should perform.
type TaskKind string

const (
	KindFetchStockData TaskKind = "fetch_stock_data"
	KindFetchNews      TaskKind = "fetch_news"
	KindMLPrediction   TaskKind = "ml_prediction"
	KindMLTechnical    TaskKind = "ml_technical"
	KindMLSentiment    TaskKind = "ml_sentiment"
	KindLLMAnalysis    TaskKind = "llm_analysis"
)

// ResultEvent is the message each producer emits exactly once per assigned
// slot. Delivery is at-least-once and unordered; the aggregator treats the
// payload as opaque and merges it verbatim.
type ResultEvent struct {
	TaskID     string          `json:"task_id"`
	Ticker     string          `json:"ticker"`
	Slot       task.Slot       `json:"slot_name"`
	Payload    json.RawMessage `json:"payload"`
	Producer   ProducerKind    `json:"producer_kind"`
	LLMEnabled bool            `json:"llm_config_present"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Validate rejects events that cannot be merged. A malformed event must not
// mutate any task state; it is a dead-letter candidate for the caller.
func (e *ResultEvent) Validate() error {
	if e.TaskID == "" {
		return errors.Wrap(errors.ErrMalformedEvent, "missing task_id")
	}
	if !e.Slot.Valid() {
		return errors.Wrapf(errors.ErrMalformedEvent, "unrecognized slot %q", e.Slot)
	}
	if len(e.Payload) == 0 {
		return errors.Wrapf(errors.ErrMalformedEvent, "empty payload for slot %s", e.Slot)
	}
	return nil
}

// WorkRequest is the message the aggregator (or the API layer, for the
// initial fetch) sends to a downstream producer. Input carries the relevant
// already-fetched payload verbatim.
type WorkRequest struct {
	TaskID     string          `json:"task_id"`
	Ticker     string          `json:"ticker"`
	Kind       TaskKind        `json:"task_kind"`
	Input      json.RawMessage `json:"input_payload,omitempty"`
	LLMEnabled bool            `json:"llm_config_present,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Validate checks a work request before it is handed to a producer.
func (w *WorkRequest) Validate() error {
	if w.TaskID == "" {
		return errors.Wrap(errors.ErrMalformedEvent, "missing task_id")
	}
	if w.Ticker == "" {
		return errors.Wrap(errors.ErrMalformedEvent, "missing ticker")
	}
	switch w.Kind {
	case KindFetchStockData, KindFetchNews, KindMLPrediction, KindMLTechnical, KindMLSentiment, KindLLMAnalysis:
		return nil
	}
	return errors.Wrapf(errors.ErrMalformedEvent, "unrecognized task_kind %q", w.Kind)
}

// DegradedPayload is what a producer emits when all retries are exhausted.
// An explicit "unavailable" result keeps the completion predicate moving so
// the client receives a partial-but-complete report instead of a stall.
type DegradedPayload struct {
	Unavailable bool   `json:"unavailable"`
	Reason      string `json:"reason,omitempty"`
}

// NewDegradedPayload serializes a degraded payload for a slot.
func NewDegradedPayload(reason string) json.RawMessage {
	data, _ := json.Marshal(DegradedPayload{Unavailable: true, Reason: reason})
	return data
}
