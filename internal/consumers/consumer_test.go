package consumers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"stockpulse/internal/domain/report"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/events"
	"stockpulse/internal/notifier"
	"stockpulse/internal/repository/memory"
	"stockpulse/internal/services/aggregator"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

type fakeDeadLetterer struct {
	reasons []string
}

func (d *fakeDeadLetterer) DeadLetter(ctx context.Context, key, value []byte, reason string) error {
	d.reasons = append(d.reasons, reason)
	return nil
}

type stubPublisher struct{}

func (stubPublisher) PublishFetchRequests(ctx context.Context, taskID, ticker string, llmEnabled bool) error {
	return nil
}
func (stubPublisher) PublishMLRequests(ctx context.Context, snap *task.Snapshot) error { return nil }
func (stubPublisher) PublishLLMRequest(ctx context.Context, snap *task.Snapshot) error { return nil }

type stubReports struct{}

func (stubReports) Save(ctx context.Context, rep *report.Report) error { return nil }
func (stubReports) GetByTaskID(ctx context.Context, taskID string) (*report.Report, error) {
	return nil, errors.Wrap(errors.ErrNotFound, "report")
}

type silentNotifier struct{}

func (silentNotifier) Notify(ctx context.Context, update notifier.Update) {}

func newAggregateConsumer(t *testing.T) (*AggregateConsumer, *fakeDeadLetterer) {
	t.Helper()

	svc := aggregator.NewService(
		memory.NewTaskStore(time.Hour), stubReports{}, stubPublisher{}, silentNotifier{}, logger.Get())
	dl := &fakeDeadLetterer{}
	return NewAggregateConsumer(nil, svc, dl, logger.Get()), dl
}

func resultMessage(t *testing.T, event events.ResultEvent) kafka.Message {
	t.Helper()

	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Topic: "analysis.results", Key: []byte(event.TaskID), Value: value}
}

func TestAggregateConsumerHandlesValidResult(t *testing.T) {
	consumer, dl := newAggregateConsumer(t)

	msg := resultMessage(t, events.ResultEvent{
		TaskID:   "t1",
		Ticker:   "AAPL",
		Slot:     task.SlotStockData,
		Payload:  json.RawMessage(`{"ticker":"AAPL"}`),
		Producer: events.ProducerDataFetch,
	})

	require.NoError(t, consumer.handleMessage(context.Background(), msg))
	assert.Empty(t, dl.reasons)
}

func TestAggregateConsumerDeadLettersUndecodable(t *testing.T) {
	consumer, dl := newAggregateConsumer(t)

	msg := kafka.Message{Topic: "analysis.results", Value: []byte("not json")}
	require.NoError(t, consumer.handleMessage(context.Background(), msg))
	require.Len(t, dl.reasons, 1)
	assert.Contains(t, dl.reasons[0], "undecodable")
}

func TestAggregateConsumerDeadLettersUnknownSlot(t *testing.T) {
	consumer, dl := newAggregateConsumer(t)

	msg := resultMessage(t, events.ResultEvent{
		TaskID:   "t1",
		Ticker:   "AAPL",
		Slot:     task.Slot("astrology"),
		Payload:  json.RawMessage(`{}`),
		Producer: events.ProducerDataFetch,
	})

	require.NoError(t, consumer.handleMessage(context.Background(), msg))
	assert.Len(t, dl.reasons, 1)
}

func TestAggregateConsumerLogsStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	svc := aggregator.NewService(
		memory.NewTaskStore(time.Hour), stubReports{}, stubPublisher{}, silentNotifier{}, log)
	consumer := NewAggregateConsumer(nil, svc, &fakeDeadLetterer{}, log)

	msg := resultMessage(t, events.ResultEvent{
		TaskID:   "t1",
		Ticker:   "AAPL",
		Slot:     task.Slot("astrology"),
		Payload:  json.RawMessage(`{}`),
		Producer: events.ProducerDataFetch,
	})
	require.NoError(t, consumer.handleMessage(context.Background(), msg))

	entries := logs.FilterMessage("Dead-lettering unprocessable result event").All()
	require.Len(t, entries, 1)

	// Key-value pairs must land as structured fields, not get concatenated
	// into the message text.
	fields := entries[0].ContextMap()
	assert.Equal(t, "t1", fields["task_id"])
	assert.Equal(t, "astrology", fields["slot"])
	assert.Contains(t, fields, "error")
}

type scriptedHandler struct {
	err   error
	calls int
}

func (h *scriptedHandler) HandleRequest(ctx context.Context, req events.WorkRequest) error {
	h.calls++
	return h.err
}

func workMessage(t *testing.T, req events.WorkRequest) kafka.Message {
	t.Helper()

	value, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Topic: "analysis.fetch", Key: []byte(req.TaskID), Value: value}
}

func TestWorkConsumerDispatchesToHandler(t *testing.T) {
	handler := &scriptedHandler{}
	dl := &fakeDeadLetterer{}
	consumer := NewWorkConsumer("fetcher", nil, handler, dl, logger.Get())

	msg := workMessage(t, events.WorkRequest{TaskID: "t1", Ticker: "AAPL", Kind: events.KindFetchNews})
	require.NoError(t, consumer.handleMessage(context.Background(), msg))
	assert.Equal(t, 1, handler.calls)
	assert.Empty(t, dl.reasons)
}

func TestWorkConsumerDeadLettersRejectedRequest(t *testing.T) {
	handler := &scriptedHandler{err: errors.Wrap(errors.ErrMalformedEvent, "bad kind")}
	dl := &fakeDeadLetterer{}
	consumer := NewWorkConsumer("fetcher", nil, handler, dl, logger.Get())

	msg := workMessage(t, events.WorkRequest{TaskID: "t1", Ticker: "AAPL", Kind: events.KindFetchNews})
	require.NoError(t, consumer.handleMessage(context.Background(), msg))
	assert.Len(t, dl.reasons, 1)
}

func TestWorkConsumerPropagatesTransientError(t *testing.T) {
	handler := &scriptedHandler{err: errors.Wrap(errors.ErrStoreUnavailable, "redis down")}
	dl := &fakeDeadLetterer{}
	consumer := NewWorkConsumer("fetcher", nil, handler, dl, logger.Get())

	msg := workMessage(t, events.WorkRequest{TaskID: "t1", Ticker: "AAPL", Kind: events.KindFetchNews})
	err := consumer.handleMessage(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreUnavailable))
	assert.Empty(t, dl.reasons)
}
