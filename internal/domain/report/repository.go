package report

import "context"

// Repository persists finished reports for later retrieval by the API layer.
type Repository interface {
	Save(ctx context.Context, r *Report) error
	GetByTaskID(ctx context.Context, taskID string) (*Report, error)
}
