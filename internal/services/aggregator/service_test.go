package aggregator

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/domain/report"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/events"
	"stockpulse/internal/notifier"
	"stockpulse/internal/repository/memory"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

type fakePublisher struct {
	mu            sync.Mutex
	fetchRequests int
	mlFanouts     int
	llmFanouts    int

	// Consumed on the next matching publish, then cleared.
	mlErr  error
	llmErr error
}

func (f *fakePublisher) PublishFetchRequests(ctx context.Context, taskID, ticker string, llmEnabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchRequests++
	return nil
}

func (f *fakePublisher) PublishMLRequests(ctx context.Context, snap *task.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mlErr != nil {
		err := f.mlErr
		f.mlErr = nil
		return err
	}
	f.mlFanouts++
	return nil
}

func (f *fakePublisher) PublishLLMRequest(ctx context.Context, snap *task.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.llmErr != nil {
		err := f.llmErr
		f.llmErr = nil
		return err
	}
	f.llmFanouts++
	return nil
}

func (f *fakePublisher) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchRequests, f.mlFanouts, f.llmFanouts
}

type fakeReports struct {
	mu      sync.Mutex
	saves   int
	byTask  map[string]*report.Report
	saveErr error
}

func newFakeReports() *fakeReports {
	return &fakeReports{byTask: make(map[string]*report.Report)}
}

func (f *fakeReports) Save(ctx context.Context, r *report.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.byTask[r.TaskID] = r
	return nil
}

func (f *fakeReports) GetByTaskID(ctx context.Context, taskID string) (*report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.byTask[taskID]; ok {
		return r, nil
	}
	return nil, errors.ErrNotFound
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []notifier.Update
}

func (r *recordingNotifier) Notify(ctx context.Context, update notifier.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingNotifier) completed() []notifier.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifier.Update
	for _, u := range r.updates {
		if u.Status == notifier.StatusCompleted {
			out = append(out, u)
		}
	}
	return out
}

func (r *recordingNotifier) progressValues() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Progress)
	}
	return out
}

type failingStore struct {
	task.Store
	err error
}

func (f *failingStore) MergeField(ctx context.Context, taskID string, slot task.Slot, payload json.RawMessage, meta task.Meta) (*task.Snapshot, error) {
	return nil, f.err
}

func newTestService(t *testing.T) (*Service, *memory.TaskStore, *fakePublisher, *fakeReports, *recordingNotifier) {
	t.Helper()
	store := memory.NewTaskStore(time.Hour)
	pub := &fakePublisher{}
	reports := newFakeReports()
	notif := &recordingNotifier{}
	svc := NewService(store, reports, pub, notif, logger.Get().With("component", "aggregator_test"))
	return svc, store, pub, reports, notif
}

func resultEvent(taskID string, slot task.Slot, llmEnabled bool) events.ResultEvent {
	return events.ResultEvent{
		TaskID:     taskID,
		Ticker:     "AAPL",
		Slot:       slot,
		Payload:    json.RawMessage(`{"value":"` + string(slot) + `"}`),
		Producer:   events.ProducerDataFetch,
		LLMEnabled: llmEnabled,
		Timestamp:  time.Now().UTC(),
	}
}

func TestHappyPathWithoutLLM(t *testing.T) {
	svc, store, pub, reports, notif := newTestService(t)
	ctx := context.Background()

	for _, slot := range []task.Slot{task.SlotStockData, task.SlotNews} {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t1", slot, false)))
	}

	_, ml, llm := pub.counts()
	assert.Equal(t, 1, ml, "ML fan-out after both fetch slots")
	assert.Equal(t, 0, llm)

	for _, slot := range []task.Slot{task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment} {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t1", slot, false)))
	}

	_, _, llm = pub.counts()
	assert.Equal(t, 0, llm, "no LLM fan-out when llm disabled")

	completed := notif.completed()
	require.Len(t, completed, 1)
	assert.Equal(t, 100, completed[0].Progress)
	assert.Equal(t, "AAPL", completed[0].Ticker)
	assert.NotNil(t, completed[0].Data)

	assert.Equal(t, 1, reports.saves)

	snap, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, snap.Results, "task record deleted after finalize")
}

func TestHappyPathWithLLM(t *testing.T) {
	svc, _, pub, reports, notif := newTestService(t)
	ctx := context.Background()

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t2", slot, true)))
	}

	_, ml, llm := pub.counts()
	assert.Equal(t, 1, ml)
	assert.Equal(t, 1, llm, "LLM fan-out after ML set complete")
	assert.Empty(t, notif.completed(), "not complete before LLM slots land")

	for _, slot := range []task.Slot{task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights} {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t2", slot, true)))
	}

	require.Len(t, notif.completed(), 1)
	assert.Equal(t, 1, reports.saves)
}

func TestNoPrematureCompletion(t *testing.T) {
	svc, _, _, reports, notif := newTestService(t)
	ctx := context.Background()

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t3", slot, false)))
	}

	assert.Empty(t, notif.completed())
	assert.Equal(t, 0, reports.saves)
}

func TestLLMSlotsIgnoredWhenDisabled(t *testing.T) {
	svc, _, _, _, notif := newTestService(t)
	ctx := context.Background()

	// A stray LLM result for an llm-disabled task merges harmlessly but
	// never gates completion.
	require.NoError(t, svc.HandleResult(ctx, resultEvent("t4", task.SlotLLMSummary, false)))

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t4", slot, false)))
	}

	assert.Len(t, notif.completed(), 1)
}

func TestDuplicateEventsAreIdempotent(t *testing.T) {
	svc, _, pub, reports, notif := newTestService(t)
	ctx := context.Background()

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t5", slot, false)))
		// Replay each event immediately.
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t5", slot, false)))
	}

	_, ml, llm := pub.counts()
	assert.Equal(t, 1, ml, "duplicate fetch results must not re-fan-out ML")
	assert.Equal(t, 0, llm)
	assert.Len(t, notif.completed(), 1, "exactly one completion notification")
	assert.Equal(t, 1, reports.saves)
}

func TestDuplicateAfterLLMFanoutDoesNotReemit(t *testing.T) {
	svc, _, pub, _, _ := newTestService(t)
	ctx := context.Background()

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t6", slot, true)))
	}

	_, _, llm := pub.counts()
	require.Equal(t, 1, llm)

	// A redelivered news event lands while the boundary condition still
	// holds. The phase claim keeps the batch from firing twice.
	require.NoError(t, svc.HandleResult(ctx, resultEvent("t6", task.SlotNews, true)))

	_, _, llm = pub.counts()
	assert.Equal(t, 1, llm)
}

func TestPhaseFanoutRetriedAfterPublishFailure(t *testing.T) {
	svc, _, pub, _, _ := newTestService(t)
	ctx := context.Background()
	pub.mlErr = errors.Wrap(errors.ErrUnavailable, "broker down")

	require.NoError(t, svc.HandleResult(ctx, resultEvent("t15", task.SlotStockData, false)))

	// The boundary event fails to fan out; the consumer would leave its
	// offset uncommitted and redeliver it.
	boundary := resultEvent("t15", task.SlotNews, false)
	err := svc.HandleResult(ctx, boundary)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	_, ml, _ := pub.counts()
	require.Equal(t, 0, ml)

	// Redelivery must be able to reclaim the phase and emit the batch.
	require.NoError(t, svc.HandleResult(ctx, boundary))
	_, ml, _ = pub.counts()
	assert.Equal(t, 1, ml, "fan-out retried after publish failure")
}

func TestLLMFanoutRetriedAfterPublishFailure(t *testing.T) {
	svc, _, pub, _, _ := newTestService(t)
	ctx := context.Background()
	pub.llmErr = errors.Wrap(errors.ErrUnavailable, "broker down")

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t16", slot, true)))
	}

	boundary := resultEvent("t16", task.SlotMLSentiment, true)
	require.Error(t, svc.HandleResult(ctx, boundary))

	require.NoError(t, svc.HandleResult(ctx, boundary))
	_, _, llm := pub.counts()
	assert.Equal(t, 1, llm)
}

func TestEventsAfterFinalizeAreNoOps(t *testing.T) {
	svc, store, pub, reports, notif := newTestService(t)
	ctx := context.Background()

	allSlots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
		task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights,
	}
	for _, slot := range allSlots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t17", slot, true)))
	}
	require.Len(t, notif.completed(), 1)

	// Replaying the whole stream after the record was deleted must not
	// rebuild the task and walk the pipeline a second time.
	for _, slot := range allSlots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t17", slot, true)))
	}

	_, ml, llm := pub.counts()
	assert.Equal(t, 1, ml, "no second ML fan-out from stale replays")
	assert.Equal(t, 1, llm, "no second LLM fan-out from stale replays")
	assert.Len(t, notif.completed(), 1, "no second completion notification")
	assert.Equal(t, 1, reports.saves)

	snap, err := store.Get(ctx, "t17")
	require.NoError(t, err)
	assert.Empty(t, snap.Results, "stale replays must not recreate the record")
}

func TestOrderIndependence(t *testing.T) {
	allSlots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
		task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights,
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		svc, store, _, reports, notif := newTestService(t)
		ctx := context.Background()

		shuffled := append([]task.Slot(nil), allSlots...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, slot := range shuffled {
			require.NoError(t, svc.HandleResult(ctx, resultEvent("t7", slot, true)))
		}

		assert.Len(t, notif.completed(), 1, "order %v", shuffled)
		assert.Equal(t, 1, reports.saves)

		snap, err := store.Get(ctx, "t7")
		require.NoError(t, err)
		assert.Empty(t, snap.Results)
	}
}

func TestProgressMonotonicUnderOrderedDelivery(t *testing.T) {
	svc, _, _, _, notif := newTestService(t)
	ctx := context.Background()

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t8", slot, false)))
	}

	values := notif.progressValues()
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress must never regress")
	}
	assert.Equal(t, 100, values[len(values)-1])
}

func TestDegradedPayloadCountsTowardCompletion(t *testing.T) {
	svc, _, _, reports, notif := newTestService(t)
	ctx := context.Background()

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t9", slot, false)))
	}

	degraded := resultEvent("t9", task.SlotMLSentiment, false)
	degraded.Payload = events.NewDegradedPayload("news source unavailable")
	require.NoError(t, svc.HandleResult(ctx, degraded))

	require.Len(t, notif.completed(), 1)

	rep, err := reports.GetByTaskID(ctx, "t9")
	require.NoError(t, err)

	var results map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rep.Results, &results))

	var payload events.DegradedPayload
	require.NoError(t, json.Unmarshal(results[string(task.SlotMLSentiment)], &payload))
	assert.True(t, payload.Unavailable)
	assert.Equal(t, "news source unavailable", payload.Reason)
}

func TestMalformedEventRejectedWithoutStateChange(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	ctx := context.Background()

	event := resultEvent("t10", "bogus_slot", false)
	err := svc.HandleResult(ctx, event)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedEvent))

	missing := resultEvent("", task.SlotNews, false)
	err = svc.HandleResult(ctx, missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedEvent))

	empty := resultEvent("t10", task.SlotNews, false)
	empty.Payload = nil
	err = svc.HandleResult(ctx, empty)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedEvent))

	snap, err := store.Get(ctx, "t10")
	require.NoError(t, err)
	assert.Empty(t, snap.Results, "rejected events must not touch task state")
}

func TestStoreFailurePropagates(t *testing.T) {
	store := &failingStore{
		Store: memory.NewTaskStore(time.Hour),
		err:   errors.Wrap(errors.ErrStoreUnavailable, "connection refused"),
	}
	svc := NewService(store, newFakeReports(), &fakePublisher{}, &recordingNotifier{}, logger.Get())

	err := svc.HandleResult(context.Background(), resultEvent("t11", task.SlotNews, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreUnavailable))
}

func TestReportSaveFailureBlocksFinalize(t *testing.T) {
	svc, store, _, reports, notif := newTestService(t)
	ctx := context.Background()
	reports.saveErr = errors.Wrap(errors.ErrUnavailable, "postgres down")

	slots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical,
	}
	for _, slot := range slots {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t12", slot, false)))
	}

	final := resultEvent("t12", task.SlotMLSentiment, false)
	require.Error(t, svc.HandleResult(ctx, final))
	assert.Empty(t, notif.completed())

	// Recovery: redelivery of the final event finishes the task.
	reports.saveErr = nil
	require.NoError(t, svc.HandleResult(ctx, final))
	assert.Len(t, notif.completed(), 1)

	snap, err := store.Get(ctx, "t12")
	require.NoError(t, err)
	assert.Empty(t, snap.Results)
}

func TestConcurrentEventsSingleFanout(t *testing.T) {
	svc, _, pub, _, notif := newTestService(t)
	ctx := context.Background()

	allSlots := []task.Slot{
		task.SlotStockData, task.SlotNews,
		task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
		task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights,
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, slot := range allSlots {
			wg.Add(1)
			go func(slot task.Slot) {
				defer wg.Done()
				_ = svc.HandleResult(ctx, resultEvent("t13", slot, true))
			}(slot)
		}
	}
	wg.Wait()

	_, ml, llm := pub.counts()
	assert.LessOrEqual(t, ml, 1, "at most one ML fan-out")
	assert.LessOrEqual(t, llm, 1, "at most one LLM fan-out")
	assert.LessOrEqual(t, len(notif.completed()), 1, "at most one completion notification")
}

func TestStartAnalysis(t *testing.T) {
	svc, _, pub, _, notif := newTestService(t)
	ctx := context.Background()

	taskID, err := svc.StartAnalysis(ctx, " aapl ", true)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	fetch, _, _ := pub.counts()
	assert.Equal(t, 1, fetch)
	require.NotEmpty(t, notif.updates)
	assert.Equal(t, "AAPL", notif.updates[0].Ticker)

	_, err = svc.StartAnalysis(ctx, "not a ticker!!", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTicker))
}

func TestGetStatus(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetStatus(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, svc.HandleResult(ctx, resultEvent("t14", task.SlotStockData, false)))

	status, err := svc.GetStatus(ctx, "t14")
	require.NoError(t, err)
	assert.Equal(t, notifier.StatusProcessing, status.Status)
	assert.Equal(t, 15, status.Progress)

	for _, slot := range []task.Slot{
		task.SlotNews, task.SlotMLPrediction, task.SlotMLTechnical, task.SlotMLSentiment,
	} {
		require.NoError(t, svc.HandleResult(ctx, resultEvent("t14", slot, false)))
	}

	status, err = svc.GetStatus(ctx, "t14")
	require.NoError(t, err)
	assert.Equal(t, notifier.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.NotNil(t, status.Data)
}
