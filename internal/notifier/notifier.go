package notifier

import (
	"context"
	"encoding/json"
)

// Status is the client-visible state of a task.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Update is one progress notification. Data is only set on completion and
// carries the full report results.
type Update struct {
	TaskID      string          `json:"task_id"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step"`
	Status      Status          `json:"status"`
	Ticker      string          `json:"ticker"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Notifier delivers progress updates to whoever is listening. Delivery is
// fire-and-forget: implementations log failures and never block the
// aggregation path on a slow listener.
type Notifier interface {
	Notify(ctx context.Context, update Update)
}

// Multi fans one update out to several notifiers.
type Multi []Notifier

// Notify forwards the update to every child notifier.
func (m Multi) Notify(ctx context.Context, update Update) {
	for _, n := range m {
		n.Notify(ctx, update)
	}
}
