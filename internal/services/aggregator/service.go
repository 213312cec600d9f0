package aggregator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockpulse/internal/domain/report"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notifier"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// Publisher is the slice of the event publisher the aggregator needs.
type Publisher interface {
	PublishFetchRequests(ctx context.Context, taskID, ticker string, llmEnabled bool) error
	PublishMLRequests(ctx context.Context, snap *task.Snapshot) error
	PublishLLMRequest(ctx context.Context, snap *task.Snapshot) error
}

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// Service is the aggregation engine. It merges producer results into the
// task store, reports progress after every merge, and drives the two
// fan-out boundaries plus finalization off the post-merge snapshot alone.
//
// Handlers are safe to call concurrently for the same task: the store
// serializes merges and phase claims, so every decision point sees a
// consistent snapshot and each fan-out batch is claimed by exactly one
// caller.
type Service struct {
	store     task.Store
	reports   report.Repository
	publisher Publisher
	notifier  notifier.Notifier
	log       *logger.Logger
}

// NewService creates the aggregation service.
func NewService(
	store task.Store,
	reports report.Repository,
	publisher Publisher,
	n notifier.Notifier,
	log *logger.Logger,
) *Service {
	return &Service{
		store:     store,
		reports:   reports,
		publisher: publisher,
		notifier:  n,
		log:       log,
	}
}

// StartAnalysis validates the ticker, allocates a task id, and emits the
// initial pair of fetch work requests. The task record itself is created
// lazily by the first result merge.
func (s *Service) StartAnalysis(ctx context.Context, ticker string, llmEnabled bool) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerPattern.MatchString(ticker) {
		return "", errors.Wrapf(errors.ErrInvalidTicker, "invalid ticker %q", ticker)
	}

	taskID := uuid.NewString()
	if err := s.publisher.PublishFetchRequests(ctx, taskID, ticker, llmEnabled); err != nil {
		return "", errors.Wrap(err, "publish fetch requests")
	}

	s.log.Infow("Analysis started", "task_id", taskID, "ticker", ticker, "llm_enabled", llmEnabled)

	s.notifier.Notify(ctx, notifier.Update{
		TaskID:      taskID,
		Progress:    0,
		CurrentStep: "Analysis started",
		Status:      notifier.StatusProcessing,
		Ticker:      ticker,
	})

	return taskID, nil
}

// HandleResult processes one producer result event. It is idempotent:
// replaying any event, in any order, converges on the same task state.
//
// A validation error means the event can never be merged; the caller should
// dead-letter it and move on. Any other error is a transient store or broker
// failure and the caller must redeliver the event.
func (s *Service) HandleResult(ctx context.Context, event events.ResultEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	// A stale duplicate landing after finalization would re-create the task
	// record from nothing and walk the whole pipeline again. The completion
	// mark outlives the record, so drop such events here.
	done, err := s.store.IsDone(ctx, event.TaskID)
	if err != nil {
		return errors.Wrapf(err, "check completion for task %s", event.TaskID)
	}
	if done {
		s.log.Debugw("Dropping result for finished task", "task_id", event.TaskID, "slot", event.Slot)
		return nil
	}

	start := time.Now()
	snap, err := s.store.MergeField(ctx, event.TaskID, event.Slot, event.Payload, task.Meta{
		Ticker:     event.Ticker,
		LLMEnabled: event.LLMEnabled,
	})
	metrics.RecordMerge(string(event.Slot), time.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "merge %s for task %s", event.Slot, event.TaskID)
	}

	s.log.Debugw("Result merged",
		"task_id", snap.TaskID,
		"ticker", snap.Ticker,
		"slot", event.Slot,
		"progress", snap.Progress(),
		"missing", snap.MissingSlots())

	if snap.Complete() {
		return s.finalize(ctx, snap)
	}

	s.notifier.Notify(ctx, notifier.Update{
		TaskID:      snap.TaskID,
		Progress:    snap.Progress(),
		CurrentStep: event.Slot.StepLabel(),
		Status:      notifier.StatusProcessing,
		Ticker:      snap.Ticker,
	})

	return s.advancePhases(ctx, snap)
}

// advancePhases emits the next fan-out batch when the snapshot sits on a
// phase boundary. The store claim makes each batch fire exactly once per
// task no matter how many duplicate or concurrent events observe the
// boundary.
func (s *Service) advancePhases(ctx context.Context, snap *task.Snapshot) error {
	switch {
	case snap.FetchComplete() && !snap.MLComplete():
		return s.fanOut(ctx, snap, task.PhaseML, s.publisher.PublishMLRequests)
	case snap.MLComplete() && snap.LLMEnabled && !snap.LLMComplete():
		return s.fanOut(ctx, snap, task.PhaseLLM, s.publisher.PublishLLMRequest)
	}
	return nil
}

// fanOut claims a phase and publishes its work batch. A failed publish
// releases the claim again, so the uncommitted event's redelivery retries the
// whole fan-out instead of finding the phase claimed with nothing in flight.
func (s *Service) fanOut(ctx context.Context, snap *task.Snapshot, phase task.Phase, publish func(context.Context, *task.Snapshot) error) error {
	// Stale duplicates can rebuild a deleted record slot by slot until it
	// sits on a boundary again. The completion mark outlives the record and
	// is set before the delete, so a rebuilt record always fails this check.
	done, err := s.store.IsDone(ctx, snap.TaskID)
	if err != nil {
		return errors.Wrapf(err, "check completion for task %s", snap.TaskID)
	}
	if done {
		return nil
	}

	claimed, err := s.store.ClaimPhase(ctx, snap.TaskID, phase)
	if err != nil {
		return errors.Wrapf(err, "claim %s phase for task %s", phase, snap.TaskID)
	}
	if !claimed {
		return nil
	}

	if err := publish(ctx, snap); err != nil {
		if relErr := s.store.ReleasePhase(ctx, snap.TaskID, phase); relErr != nil {
			s.log.Errorw("Failed to release phase claim after publish failure",
				"task_id", snap.TaskID, "phase", phase, "error", relErr)
		}
		return errors.Wrapf(err, "fan out %s phase for task %s", phase, snap.TaskID)
	}

	metrics.PhaseFanouts.WithLabelValues(string(phase)).Inc()
	s.log.Infow("Phase fanned out", "task_id", snap.TaskID, "ticker", snap.Ticker, "phase", phase)
	return nil
}

// finalize persists the report, emits the completion notification exactly
// once, and deletes the task record.
//
// The order matters for crash safety: the report upsert is idempotent so it
// runs before the claim, the completion mark is set before the delete so
// duplicates straddling the delete cannot restart the task, and a failed
// delete leaves a complete record whose redelivery retries only the delete.
func (s *Service) finalize(ctx context.Context, snap *task.Snapshot) error {
	rep, err := report.FromSnapshot(snap)
	if err != nil {
		return errors.Wrapf(err, "assemble report for task %s", snap.TaskID)
	}

	if err := s.reports.Save(ctx, rep); err != nil {
		return errors.Wrapf(err, "persist report for task %s", snap.TaskID)
	}

	claimed, err := s.store.ClaimCompletion(ctx, snap.TaskID)
	if err != nil {
		return errors.Wrapf(err, "claim completion for task %s", snap.TaskID)
	}
	if claimed {
		s.notifier.Notify(ctx, notifier.Update{
			TaskID:      snap.TaskID,
			Progress:    100,
			CurrentStep: "Analysis complete",
			Status:      notifier.StatusCompleted,
			Ticker:      snap.Ticker,
			Data:        rep.Results,
		})
		metrics.TasksCompleted.WithLabelValues(boolLabel(snap.LLMEnabled)).Inc()
		s.log.Infow("Task completed", "task_id", snap.TaskID, "ticker", snap.Ticker, "llm_enabled", snap.LLMEnabled)
	}

	if err := s.store.Delete(ctx, snap.TaskID); err != nil {
		return errors.Wrapf(err, "delete task %s", snap.TaskID)
	}

	return nil
}

// GetStatus reports task state for the API layer. A finished task resolves
// from the report store; an in-flight one from the task store.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*notifier.Update, error) {
	if rep, err := s.reports.GetByTaskID(ctx, taskID); err == nil {
		return &notifier.Update{
			TaskID:      taskID,
			Progress:    100,
			CurrentStep: "Analysis complete",
			Status:      notifier.StatusCompleted,
			Ticker:      rep.Ticker,
			Data:        rep.Results,
		}, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(err, "load report for task %s", taskID)
	}

	snap, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, errors.Wrapf(err, "load task %s", taskID)
	}
	if len(snap.Results) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "task %s not found", taskID)
	}

	return &notifier.Update{
		TaskID:      taskID,
		Progress:    snap.Progress(),
		CurrentStep: "Processing",
		Status:      notifier.StatusProcessing,
		Ticker:      snap.Ticker,
	}, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
