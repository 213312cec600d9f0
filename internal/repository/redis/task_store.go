package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stockpulse/internal/domain/task"
	"stockpulse/pkg/errors"
)

const (
	fieldTicker     = "ticker"
	fieldLLMEnabled = "llm_enabled"

	claimSuffix = "_requested"
)

// TaskStore implements task.Store on a Redis hash per task.
//
// One hash field per slot keeps concurrent merges of different slots from
// clobbering each other: HSET touches only the addressed field, unlike the
// load-blob/mutate/store-blob pattern this replaces. HSETNX backs the phase
// claims. Every write refreshes the key TTL so abandoned tasks self-expire;
// a late event for an expired task simply starts a fresh empty record.
type TaskStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTaskStore creates a Redis-backed task store.
func NewTaskStore(client *redis.Client, ttl time.Duration) *TaskStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TaskStore{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the current snapshot, or an empty one for an unseen task id.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*task.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key(taskID)).Result()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "get task %s: %v", taskID, err)
	}
	return s.parse(taskID, fields), nil
}

// MergeField atomically sets one slot plus the task meta fields, refreshes
// the TTL and reads the post-merge record, all inside one MULTI/EXEC.
func (s *TaskStore) MergeField(ctx context.Context, taskID string, slot task.Slot, payload json.RawMessage, meta task.Meta) (*task.Snapshot, error) {
	if !slot.Valid() {
		return nil, errors.Wrapf(errors.ErrUnknownSlot, "%q", slot)
	}

	fields := map[string]interface{}{
		string(slot): string(payload),
	}
	if meta.Ticker != "" {
		fields[fieldTicker] = meta.Ticker
	}
	// Only ever set, never clear: a later event without credentials must not
	// demote a task that was created with LLM analysis enabled.
	if meta.LLMEnabled {
		fields[fieldLLMEnabled] = "1"
	}

	key := s.key(taskID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	getAll := pipe.HGetAll(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "merge %s into task %s: %v", slot, taskID, err)
	}

	return s.parse(taskID, getAll.Val()), nil
}

// ClaimPhase marks a fan-out phase as requested. HSETNX returns true for
// exactly one caller per task and phase.
func (s *TaskStore) ClaimPhase(ctx context.Context, taskID string, phase task.Phase) (bool, error) {
	key := s.key(taskID)
	pipe := s.client.TxPipeline()
	setNX := pipe.HSetNX(ctx, key, string(phase)+claimSuffix, "1")
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrapf(errors.ErrStoreUnavailable, "claim phase %s for task %s: %v", phase, taskID, err)
	}

	return setNX.Val(), nil
}

// ReleasePhase drops a phase claim field so a redelivery can retry the
// fan-out after a failed publish.
func (s *TaskStore) ReleasePhase(ctx context.Context, taskID string, phase task.Phase) error {
	if err := s.client.HDel(ctx, s.key(taskID), string(phase)+claimSuffix).Err(); err != nil {
		return errors.Wrapf(errors.ErrStoreUnavailable, "release phase %s for task %s: %v", phase, taskID, err)
	}
	return nil
}

// ClaimCompletion marks the task finished via SET NX on a dedicated key.
// The key is separate from the task hash on purpose: it outlives Delete for
// the task TTL, so duplicates arriving after cleanup still see the task as
// done instead of rebuilding it from scratch.
func (s *TaskStore) ClaimCompletion(ctx context.Context, taskID string) (bool, error) {
	won, err := s.client.SetNX(ctx, s.doneKey(taskID), "1", s.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(errors.ErrStoreUnavailable, "claim completion for task %s: %v", taskID, err)
	}
	return won, nil
}

// IsDone reports whether the completion key exists.
func (s *TaskStore) IsDone(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.doneKey(taskID)).Result()
	if err != nil {
		return false, errors.Wrapf(errors.ErrStoreUnavailable, "check completion for task %s: %v", taskID, err)
	}
	return n > 0, nil
}

// Delete removes the task record. DEL of an absent key is a no-op.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.key(taskID)).Err(); err != nil {
		return errors.Wrapf(errors.ErrStoreUnavailable, "delete task %s: %v", taskID, err)
	}
	return nil
}

func (s *TaskStore) key(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

func (s *TaskStore) doneKey(taskID string) string {
	return fmt.Sprintf("task:done:%s", taskID)
}

func (s *TaskStore) parse(taskID string, fields map[string]string) *task.Snapshot {
	snap := task.NewSnapshot(taskID)

	for field, value := range fields {
		switch {
		case field == fieldTicker:
			snap.Ticker = value
		case field == fieldLLMEnabled:
			snap.LLMEnabled = value == "1"
		case strings.HasSuffix(field, claimSuffix):
			// Phase claims live alongside the slots but are not results.
		default:
			slot := task.Slot(field)
			if slot.Valid() {
				snap.Results[slot] = json.RawMessage(value)
			}
		}
	}

	return snap
}
