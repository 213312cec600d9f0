package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"stockpulse/internal/domain/report"
	"stockpulse/internal/metrics"
	"stockpulse/pkg/errors"
)

func recordQuery(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueries.WithLabelValues("postgres", operation, status).Inc()
}

// Compile-time check
var _ report.Repository = (*ReportRepository)(nil)

// ReportRepository implements report.Repository using sqlx
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save inserts a finished report. Re-running a finalize for the same task id
// (at-least-once delivery of the triggering event) upserts rather than fails.
func (r *ReportRepository) Save(ctx context.Context, rep *report.Report) error {
	query := `
		INSERT INTO analysis_reports (
			id, task_id, ticker, llm_enabled, results, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (task_id) DO UPDATE SET
			results = EXCLUDED.results,
			llm_enabled = EXCLUDED.llm_enabled`

	_, err := r.db.ExecContext(ctx, query,
		rep.ID, rep.TaskID, rep.Ticker, rep.LLMEnabled, rep.Results, rep.CreatedAt,
	)
	recordQuery("save_report", err)
	if err != nil {
		return errors.Wrapf(err, "save report for task %s", rep.TaskID)
	}

	return nil
}

// GetByTaskID retrieves a report by the originating task id
func (r *ReportRepository) GetByTaskID(ctx context.Context, taskID string) (*report.Report, error) {
	var rep report.Report

	query := `SELECT * FROM analysis_reports WHERE task_id = $1`

	err := r.db.GetContext(ctx, &rep, query, taskID)
	recordQuery("get_report", err)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "report for task %s", taskID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get report for task %s", taskID)
	}

	return &rep, nil
}
