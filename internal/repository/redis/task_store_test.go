package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/adapters/config"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/testsupport"
)

func testStore(t *testing.T) *TaskStore {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.RedisConfig{
		Host: "localhost",
		Port: 6379,
		DB:   1, // Use different DB for tests
	}

	client := testsupport.NewRedisClient(t, cfg)
	return NewTaskStore(client, time.Hour)
}

func TestTaskStore_GetUnseenTask(t *testing.T) {
	store := testStore(t)

	snap, err := store.Get(context.Background(), "unseen")
	require.NoError(t, err)
	assert.Equal(t, "unseen", snap.TaskID)
	assert.Empty(t, snap.Results)
}

func TestTaskStore_MergeFieldRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	snap, err := store.MergeField(ctx, "t1", task.SlotStockData,
		json.RawMessage(`{"price_history":[{"close":187.4}]}`),
		task.Meta{Ticker: "AAPL", LLMEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, "AAPL", snap.Ticker)
	assert.True(t, snap.LLMEnabled)
	assert.True(t, snap.Has(task.SlotStockData))
	assert.JSONEq(t, `{"price_history":[{"close":187.4}]}`, string(snap.Payload(task.SlotStockData)))

	// The snapshot comes from the same MULTI/EXEC as the write.
	snap, err = store.MergeField(ctx, "t1", task.SlotNews, json.RawMessage(`[]`), task.Meta{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.True(t, snap.Has(task.SlotStockData))
	assert.True(t, snap.Has(task.SlotNews))
	assert.True(t, snap.FetchComplete())
}

func TestTaskStore_ConcurrentSlotMerges(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	slots := task.AllSlots()

	var wg sync.WaitGroup
	for i, slot := range slots {
		wg.Add(1)
		go func(i int, slot task.Slot) {
			defer wg.Done()
			payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
			_, err := store.MergeField(ctx, "t1", slot, payload, task.Meta{Ticker: "TSLA"})
			assert.NoError(t, err)
		}(i, slot)
	}
	wg.Wait()

	snap, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	for i, slot := range slots {
		require.True(t, snap.Has(slot), "slot %s lost under concurrency", slot)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(snap.Payload(slot)))
	}
}

func TestTaskStore_ClaimPhase(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	claimed, err := store.ClaimPhase(ctx, "t1", task.PhaseML)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimPhase(ctx, "t1", task.PhaseML)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Claim fields must not leak into the slot map.
	snap, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, snap.Results)
}

func TestTaskStore_ReleasePhaseAllowsReclaim(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	claimed, err := store.ClaimPhase(ctx, "t1", task.PhaseML)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.ReleasePhase(ctx, "t1", task.PhaseML))

	claimed, err = store.ClaimPhase(ctx, "t1", task.PhaseML)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, store.ReleasePhase(ctx, "absent", task.PhaseML))
}

func TestTaskStore_ClaimCompletionSurvivesDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.MergeField(ctx, "t1", task.SlotNews, json.RawMessage(`[]`), task.Meta{})
	require.NoError(t, err)

	done, err := store.IsDone(ctx, "t1")
	require.NoError(t, err)
	require.False(t, done)

	won, err := store.ClaimCompletion(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.ClaimCompletion(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, store.Delete(ctx, "t1"))

	done, err = store.IsDone(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, done, "completion key must outlive the task hash")
}

func TestTaskStore_DeleteIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.MergeField(ctx, "t1", task.SlotNews, json.RawMessage(`[]`), task.Meta{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "t1"))
	require.NoError(t, store.Delete(ctx, "t1"))

	snap, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, snap.Results)
}

func TestTaskStore_RejectsUnknownSlot(t *testing.T) {
	store := testStore(t)

	_, err := store.MergeField(context.Background(), "t1", task.Slot("nope"), json.RawMessage(`{}`), task.Meta{})
	require.Error(t, err)
}
