package report

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"stockpulse/internal/domain/task"
)

// Report is the finished analysis document assembled from a completed task
// snapshot. Slot payloads are carried verbatim; the report layer never
// interprets analyzer output.
type Report struct {
	ID         string          `db:"id" json:"id"`
	TaskID     string          `db:"task_id" json:"task_id"`
	Ticker     string          `db:"ticker" json:"ticker"`
	LLMEnabled bool            `db:"llm_enabled" json:"llm_enabled"`
	Results    json.RawMessage `db:"results" json:"results"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// FromSnapshot assembles a report from a completed task snapshot.
// Every known slot appears in Results; absent optional slots are null so the
// document shape is stable regardless of llm_enabled.
func FromSnapshot(snap *task.Snapshot) (*Report, error) {
	results := make(map[string]json.RawMessage, len(task.AllSlots()))
	for _, slot := range task.AllSlots() {
		if payload := snap.Payload(slot); payload != nil {
			results[string(slot)] = payload
		} else {
			results[string(slot)] = json.RawMessage("null")
		}
	}

	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}

	return &Report{
		ID:         uuid.NewString(),
		TaskID:     snap.TaskID,
		Ticker:     snap.Ticker,
		LLMEnabled: snap.LLMEnabled,
		Results:    data,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
