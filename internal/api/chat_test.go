package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/adapters/ai"
	"stockpulse/internal/domain/report"
	"stockpulse/internal/services/chat"
	"stockpulse/pkg/logger"
)

type cannedProvider struct {
	answer string
}

func (p *cannedProvider) Name() ai.ProviderName { return ai.ProviderNameOpenAI }

func (p *cannedProvider) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	return p.answer, nil
}

func newChatTestHandler(t *testing.T, provider ai.Provider) (*ChatHandler, *stubReports) {
	t.Helper()

	registry := ai.NewProviderRegistry()
	if provider != nil {
		require.NoError(t, registry.Register(provider))
	}

	reports := &stubReports{byTask: make(map[string]*report.Report)}
	svc := chat.NewService(reports, registry, ai.ProviderNameOpenAI, logger.Get())
	return NewChatHandler(svc, logger.Get()), reports
}

func TestHandleChat(t *testing.T) {
	handler, reports := newChatTestHandler(t, &cannedProvider{answer: "The outlook is positive."})
	reports.byTask["t1"] = &report.Report{
		TaskID:  "t1",
		Ticker:  "AAPL",
		Results: json.RawMessage(`{"llm_summary":{"summary":"Strong quarter."}}`),
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/t1/chat",
		strings.NewReader(`{"message":"How does it look?"}`))
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, "The outlook is positive.", resp.Response)
}

func TestHandleChatNoReport(t *testing.T) {
	handler, _ := newChatTestHandler(t, &cannedProvider{answer: "ok"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/ghost/chat",
		strings.NewReader(`{"message":"Anything?"}`))
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChatEmptyMessage(t *testing.T) {
	handler, reports := newChatTestHandler(t, &cannedProvider{answer: "ok"})
	reports.byTask["t1"] = &report.Report{TaskID: "t1", Ticker: "AAPL", Results: json.RawMessage(`{}`)}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/t1/chat",
		strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatNoProviderConfigured(t *testing.T) {
	handler, reports := newChatTestHandler(t, nil)
	reports.byTask["t1"] = &report.Report{TaskID: "t1", Ticker: "AAPL", Results: json.RawMessage(`{}`)}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/t1/chat",
		strings.NewReader(`{"message":"Anything?"}`))
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleChatMethodNotAllowed(t *testing.T) {
	handler, _ := newChatTestHandler(t, &cannedProvider{answer: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/t1/chat", nil)
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
