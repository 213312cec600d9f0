package task

import (
	"encoding/json"
)

// Slot is one named result field within a task's partial-result record.
// The slot set is fixed: it is derived from whether LLM analysis is enabled
// and never grows or shrinks during a task's lifetime.
type Slot string

const (
	SlotStockData    Slot = "stock_data"
	SlotNews         Slot = "news"
	SlotMLPrediction Slot = "ml_prediction"
	SlotMLTechnical  Slot = "ml_technical"
	SlotMLSentiment  Slot = "ml_sentiment"
	SlotLLMSentiment Slot = "llm_sentiment"
	SlotLLMSummary   Slot = "llm_summary"
	SlotLLMInsights  Slot = "llm_insights"
)

// fetchSlots are the phase-1 prerequisites: raw data both analysis phases consume.
var fetchSlots = []Slot{SlotStockData, SlotNews}

// mlSlots are the statistical analysis results, always required.
var mlSlots = []Slot{SlotMLPrediction, SlotMLTechnical, SlotMLSentiment}

// llmSlots are required only when the client supplied LLM credentials.
var llmSlots = []Slot{SlotLLMSentiment, SlotLLMSummary, SlotLLMInsights}

// AllSlots returns every known slot in canonical order.
func AllSlots() []Slot {
	out := make([]Slot, 0, len(fetchSlots)+len(mlSlots)+len(llmSlots))
	out = append(out, fetchSlots...)
	out = append(out, mlSlots...)
	out = append(out, llmSlots...)
	return out
}

// Valid reports whether s names a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotStockData, SlotNews,
		SlotMLPrediction, SlotMLTechnical, SlotMLSentiment,
		SlotLLMSentiment, SlotLLMSummary, SlotLLMInsights:
		return true
	}
	return false
}

// progressWeights maps each slot to its reported progress percentage.
// Progress is recomputed from the full snapshot on every event (max weight
// among present slots), so duplicate deliveries cannot double-count.
var progressWeights = map[Slot]int{
	SlotStockData:    15,
	SlotNews:         20,
	SlotMLPrediction: 40,
	SlotMLTechnical:  45,
	SlotMLSentiment:  50,
	SlotLLMSentiment: 60,
	SlotLLMSummary:   70,
	SlotLLMInsights:  90,
}

// stepLabels describe what just finished, keyed by slot.
var stepLabels = map[Slot]string{
	SlotStockData:    "Stock data fetched",
	SlotNews:         "News fetched",
	SlotMLPrediction: "ML predictions complete",
	SlotMLTechnical:  "Technical analysis complete",
	SlotMLSentiment:  "Sentiment analysis complete",
	SlotLLMSentiment: "LLM sentiment complete",
	SlotLLMSummary:   "News summary complete",
	SlotLLMInsights:  "AI insights complete",
}

// StepLabel returns the human-readable progress label for a slot.
func (s Slot) StepLabel() string {
	if label, ok := stepLabels[s]; ok {
		return label
	}
	return string(s)
}

// Phase identifies a fan-out boundary in the pipeline.
type Phase string

const (
	// PhaseML fans out the statistical analyzers once both fetch slots landed.
	PhaseML Phase = "ml"
	// PhaseLLM fans out the LLM batch once the statistical set is complete.
	PhaseLLM Phase = "llm"
)

// Snapshot is the full partial-result record of one analysis task, as read
// back from the task store immediately after a merge. Slot payloads are opaque
// to the aggregation logic and passed through verbatim.
type Snapshot struct {
	TaskID     string
	Ticker     string
	LLMEnabled bool
	Results    map[Slot]json.RawMessage
}

// NewSnapshot returns an empty snapshot for an unseen task.
// Absence in the store means "not yet started", not an error.
func NewSnapshot(taskID string) *Snapshot {
	return &Snapshot{
		TaskID:  taskID,
		Results: make(map[Slot]json.RawMessage),
	}
}

// Has reports whether the slot has received a result.
func (s *Snapshot) Has(slot Slot) bool {
	_, ok := s.Results[slot]
	return ok
}

// Payload returns the stored payload for a slot, nil if unset.
func (s *Snapshot) Payload(slot Slot) json.RawMessage {
	return s.Results[slot]
}

// RequiredSlots returns the slots that must be present for completion:
// the fixed statistical set, plus the LLM set iff LLM analysis is enabled.
func (s *Snapshot) RequiredSlots() []Slot {
	required := make([]Slot, 0, len(fetchSlots)+len(mlSlots)+len(llmSlots))
	required = append(required, fetchSlots...)
	required = append(required, mlSlots...)
	if s.LLMEnabled {
		required = append(required, llmSlots...)
	}
	return required
}

// FetchComplete reports whether both phase-1 prerequisite slots are present.
func (s *Snapshot) FetchComplete() bool {
	return s.allPresent(fetchSlots)
}

// MLComplete reports whether every statistical analysis slot is present.
func (s *Snapshot) MLComplete() bool {
	return s.allPresent(mlSlots)
}

// LLMComplete reports whether every LLM analysis slot is present.
func (s *Snapshot) LLMComplete() bool {
	return s.allPresent(llmSlots)
}

// Complete is the completion predicate: true iff every required slot is
// present. It is monotone: slots only transition unset -> present, so once
// true it stays true until the task record is deleted.
func (s *Snapshot) Complete() bool {
	return s.allPresent(s.RequiredSlots())
}

// MissingSlots lists the required slots still unset, for logging.
func (s *Snapshot) MissingSlots() []Slot {
	var missing []Slot
	for _, slot := range s.RequiredSlots() {
		if !s.Has(slot) {
			missing = append(missing, slot)
		}
	}
	return missing
}

// Progress returns the deterministic progress percentage for the snapshot:
// the maximum weight among present slots. Monotonically non-decreasing under
// merges because slots never regress.
func (s *Snapshot) Progress() int {
	if s.Complete() {
		return 100
	}
	progress := 0
	for slot := range s.Results {
		if w, ok := progressWeights[slot]; ok && w > progress {
			progress = w
		}
	}
	return progress
}

func (s *Snapshot) allPresent(slots []Slot) bool {
	for _, slot := range slots {
		if !s.Has(slot) {
			return false
		}
	}
	return true
}
