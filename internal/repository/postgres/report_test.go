package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/adapters/config"
	"stockpulse/internal/domain/report"
	"stockpulse/internal/testsupport"
	"stockpulse/pkg/errors"
)

func testRepo(t *testing.T) *ReportRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "stockpulse",
		Database: "stockpulse_test",
		SSLMode:  "disable",
		MaxConns: 4,
	}

	return NewReportRepository(testsupport.NewPostgresDB(t, cfg))
}

func sampleReport(taskID string) *report.Report {
	return &report.Report{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Ticker:     "AAPL",
		LLMEnabled: true,
		Results:    json.RawMessage(`{"stock_data":{"ticker":"AAPL"},"news":[]}`),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestReportRepository_SaveAndGet(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rep := sampleReport("task-save-get")
	require.NoError(t, repo.Save(ctx, rep))

	got, err := repo.GetByTaskID(ctx, "task-save-get")
	require.NoError(t, err)
	assert.Equal(t, rep.TaskID, got.TaskID)
	assert.Equal(t, rep.Ticker, got.Ticker)
	assert.True(t, got.LLMEnabled)
	assert.JSONEq(t, string(rep.Results), string(got.Results))
}

func TestReportRepository_SaveIsIdempotent(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rep := sampleReport("task-upsert")
	require.NoError(t, repo.Save(ctx, rep))

	// A redelivered finalize writes the same task id again with a fresh
	// report id. The row is updated in place rather than duplicated.
	again := sampleReport("task-upsert")
	again.Results = json.RawMessage(`{"stock_data":{"ticker":"AAPL","revised":true}}`)
	require.NoError(t, repo.Save(ctx, again))

	got, err := repo.GetByTaskID(ctx, "task-upsert")
	require.NoError(t, err)
	assert.JSONEq(t, string(again.Results), string(got.Results))
}

func TestReportRepository_GetMissing(t *testing.T) {
	repo := testRepo(t)

	_, err := repo.GetByTaskID(context.Background(), "no-such-task")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
