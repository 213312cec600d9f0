package task

import (
	"context"
	"encoding/json"
)

// Meta carries the task-level fields every result event repeats. The first
// merge for a task id sets them; later merges of the same values are no-ops.
type Meta struct {
	Ticker     string
	LLMEnabled bool
}

// Store is the durable keyed map from task id to partial-result record.
//
// MergeField is the single serialization point of the whole pipeline: it must
// apply the field write atomically on the backing store (no read-modify-write
// of the whole record at the caller) and return the post-merge snapshot from
// the same operation. Every write refreshes the task TTL so abandoned tasks
// self-expire.
//
// Implementations must fail loudly on backend unavailability; a silently
// dropped merge would leave the completion predicate permanently false.
type Store interface {
	// Get returns the current snapshot, or a fresh empty snapshot when the
	// task id is unseen.
	Get(ctx context.Context, taskID string) (*Snapshot, error)

	// MergeField atomically sets one slot and the task meta fields, refreshes
	// the TTL, and returns the full post-merge snapshot.
	MergeField(ctx context.Context, taskID string, slot Slot, payload json.RawMessage, meta Meta) (*Snapshot, error)

	// ClaimPhase atomically marks a fan-out phase as requested. It returns
	// true for exactly one caller per task and phase; later (duplicate or
	// racing) callers get false. The claim lives in the same record as the
	// slots and disappears with it.
	ClaimPhase(ctx context.Context, taskID string, phase Phase) (bool, error)

	// ReleasePhase undoes a successful ClaimPhase so a later redelivery can
	// claim the phase again. Callers use it when the fan-out publish behind a
	// claim failed; releasing an unclaimed phase is a no-op.
	ReleasePhase(ctx context.Context, taskID string, phase Phase) error

	// ClaimCompletion atomically marks the task as finished. It returns true
	// for exactly one caller per task id. Unlike phase claims the completion
	// mark lives outside the task record and survives Delete for the task
	// TTL, so stale duplicates arriving after cleanup still see it.
	ClaimCompletion(ctx context.Context, taskID string) (bool, error)

	// IsDone reports whether ClaimCompletion already succeeded for the task.
	IsDone(ctx context.Context, taskID string) (bool, error)

	// Delete removes the task record. Deleting an absent task is a no-op.
	Delete(ctx context.Context, taskID string) error
}
