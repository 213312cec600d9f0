package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(s *Snapshot, slots ...Slot) {
	for _, slot := range slots {
		s.Results[slot] = json.RawMessage(`{}`)
	}
}

func TestSnapshot_CompletionPredicate_MLOnly(t *testing.T) {
	s := NewSnapshot("t1")
	s.LLMEnabled = false

	assert.False(t, s.Complete())

	fill(s, SlotStockData, SlotNews, SlotMLPrediction, SlotMLTechnical)
	assert.False(t, s.Complete(), "one required slot still unset")

	fill(s, SlotMLSentiment)
	assert.True(t, s.Complete())
}

func TestSnapshot_CompletionPredicate_LLMEnabled(t *testing.T) {
	s := NewSnapshot("t1")
	s.LLMEnabled = true

	fill(s, SlotStockData, SlotNews, SlotMLPrediction, SlotMLTechnical, SlotMLSentiment)
	assert.False(t, s.Complete(), "LLM slots required when enabled")
	assert.True(t, s.MLComplete())

	fill(s, SlotLLMSentiment, SlotLLMSummary)
	assert.False(t, s.Complete())

	fill(s, SlotLLMInsights)
	assert.True(t, s.Complete())
}

func TestSnapshot_LLMSlotsIgnoredWhenDisabled(t *testing.T) {
	s := NewSnapshot("t1")
	s.LLMEnabled = false

	fill(s, SlotStockData, SlotNews, SlotMLPrediction, SlotMLTechnical, SlotMLSentiment)
	require.True(t, s.Complete())

	// LLM results for a non-LLM task do not change the predicate.
	fill(s, SlotLLMSentiment)
	assert.True(t, s.Complete())
}

func TestSnapshot_PredicateMonotone(t *testing.T) {
	s := NewSnapshot("t1")
	s.LLMEnabled = false

	order := []Slot{SlotMLSentiment, SlotMLTechnical, SlotMLPrediction, SlotNews, SlotStockData}
	for i, slot := range order {
		fill(s, slot)
		if i < len(order)-1 {
			assert.False(t, s.Complete())
		}
	}
	require.True(t, s.Complete())

	// Re-merging an already-present slot cannot flip the predicate back.
	fill(s, SlotNews)
	assert.True(t, s.Complete())
}

func TestSnapshot_Progress(t *testing.T) {
	s := NewSnapshot("t1")
	s.LLMEnabled = true

	assert.Equal(t, 0, s.Progress())

	fill(s, SlotStockData)
	assert.Equal(t, 15, s.Progress())

	fill(s, SlotNews)
	assert.Equal(t, 20, s.Progress())

	// Out-of-order arrival: a late slot with a lower weight never lowers progress.
	fill(s, SlotLLMSummary)
	assert.Equal(t, 70, s.Progress())
	fill(s, SlotMLPrediction)
	assert.Equal(t, 70, s.Progress())

	fill(s, SlotMLTechnical, SlotMLSentiment, SlotLLMSentiment, SlotLLMInsights)
	assert.Equal(t, 100, s.Progress())
}

func TestSnapshot_ProgressIdempotentUnderDuplicates(t *testing.T) {
	s := NewSnapshot("t1")

	fill(s, SlotMLTechnical)
	first := s.Progress()

	fill(s, SlotMLTechnical)
	assert.Equal(t, first, s.Progress(), "duplicate merge must not change progress")
}

func TestSnapshot_MissingSlots(t *testing.T) {
	s := NewSnapshot("t1")
	s.LLMEnabled = true

	fill(s, SlotStockData, SlotNews, SlotMLPrediction, SlotMLTechnical, SlotMLSentiment, SlotLLMSentiment, SlotLLMSummary)

	missing := s.MissingSlots()
	require.Len(t, missing, 1)
	assert.Equal(t, SlotLLMInsights, missing[0])
}

func TestSlot_Valid(t *testing.T) {
	for _, slot := range AllSlots() {
		assert.True(t, slot.Valid(), "slot %s", slot)
	}
	assert.False(t, Slot("").Valid())
	assert.False(t, Slot("llm_config").Valid())
	assert.False(t, Slot("sentiment").Valid())
}

func TestSnapshot_RequiredSlots(t *testing.T) {
	s := NewSnapshot("t1")
	assert.Len(t, s.RequiredSlots(), 5)

	s.LLMEnabled = true
	assert.Len(t, s.RequiredSlots(), 8)
}
