package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"stockpulse/internal/domain/task"
	"stockpulse/pkg/errors"
)

type record struct {
	ticker     string
	llmEnabled bool
	results    map[task.Slot]json.RawMessage
	claims     map[task.Phase]bool
	expiresAt  time.Time
}

// TaskStore is an in-memory task.Store for single-process deployments and
// tests. A single mutex serializes merges, which gives the same per-task
// atomicity the Redis store gets from HSET. Expiry is checked lazily on
// access, mirroring how a TTL'd key simply stops existing.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*record
	done  map[string]time.Time
	ttl   time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewTaskStore creates an in-memory task store.
func NewTaskStore(ttl time.Duration) *TaskStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TaskStore{
		tasks: make(map[string]*record),
		done:  make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *TaskStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns the current snapshot, or an empty one for an unseen task id.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(taskID)
	if rec == nil {
		return task.NewSnapshot(taskID), nil
	}
	return s.snapshot(taskID, rec), nil
}

// MergeField atomically sets one slot plus the meta fields and refreshes the TTL.
func (s *TaskStore) MergeField(ctx context.Context, taskID string, slot task.Slot, payload json.RawMessage, meta task.Meta) (*task.Snapshot, error) {
	if !slot.Valid() {
		return nil, errors.Wrapf(errors.ErrUnknownSlot, "%q", slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(taskID)
	if rec == nil {
		rec = &record{
			results: make(map[task.Slot]json.RawMessage),
			claims:  make(map[task.Phase]bool),
		}
		s.tasks[taskID] = rec
	}

	rec.results[slot] = append(json.RawMessage(nil), payload...)
	if meta.Ticker != "" {
		rec.ticker = meta.Ticker
	}
	if meta.LLMEnabled {
		rec.llmEnabled = true
	}
	rec.expiresAt = s.now().Add(s.ttl)

	return s.snapshot(taskID, rec), nil
}

// ClaimPhase marks a phase as requested; true for the first caller only.
func (s *TaskStore) ClaimPhase(ctx context.Context, taskID string, phase task.Phase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(taskID)
	if rec == nil {
		rec = &record{
			results: make(map[task.Slot]json.RawMessage),
			claims:  make(map[task.Phase]bool),
		}
		s.tasks[taskID] = rec
	}
	rec.expiresAt = s.now().Add(s.ttl)

	if rec.claims[phase] {
		return false, nil
	}
	rec.claims[phase] = true
	return true, nil
}

// ReleasePhase clears a phase claim so a redelivery can retry the fan-out.
func (s *TaskStore) ReleasePhase(ctx context.Context, taskID string, phase task.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.live(taskID); rec != nil {
		delete(rec.claims, phase)
	}
	return nil
}

// ClaimCompletion marks the task finished; true for the first caller only.
// The mark is kept apart from the record so it survives Delete.
func (s *TaskStore) ClaimCompletion(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.done[taskID]; ok && s.now().Before(exp) {
		return false, nil
	}
	s.done[taskID] = s.now().Add(s.ttl)
	return true, nil
}

// IsDone reports whether the task already claimed completion.
func (s *TaskStore) IsDone(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.done[taskID]
	if !ok {
		return false, nil
	}
	if s.now().After(exp) {
		delete(s.done, taskID)
		return false, nil
	}
	return true, nil
}

// Delete removes the task record; absent tasks are a no-op.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, taskID)
	return nil
}

// live returns the record for taskID if present and not expired.
// Expired records are dropped on sight. Callers must hold the lock.
func (s *TaskStore) live(taskID string) *record {
	rec, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	if s.now().After(rec.expiresAt) {
		delete(s.tasks, taskID)
		return nil
	}
	return rec
}

func (s *TaskStore) snapshot(taskID string, rec *record) *task.Snapshot {
	snap := task.NewSnapshot(taskID)
	snap.Ticker = rec.ticker
	snap.LLMEnabled = rec.llmEnabled
	for slot, payload := range rec.results {
		snap.Results[slot] = append(json.RawMessage(nil), payload...)
	}
	return snap
}
