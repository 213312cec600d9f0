package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"stockpulse/internal/services/aggregator"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// AnalysisHandler exposes the aggregation engine over REST.
type AnalysisHandler struct {
	service *aggregator.Service
	log     *logger.Logger
}

// NewAnalysisHandler creates the analysis REST handler.
func NewAnalysisHandler(service *aggregator.Service, log *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{service: service, log: log}
}

type startAnalysisRequest struct {
	Ticker     string `json:"ticker"`
	LLMEnabled bool   `json:"llm_enabled"`
}

type startAnalysisResponse struct {
	TaskID string `json:"task_id"`
	Ticker string `json:"ticker"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleStart accepts a new analysis request and returns the task id.
// The analysis itself runs asynchronously; clients poll the status
// endpoint or subscribe over WebSocket.
func (h *AnalysisHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskID, err := h.service.StartAnalysis(r.Context(), req.Ticker, req.LLMEnabled)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidTicker) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Errorw("Failed to start analysis", "ticker", req.Ticker, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, startAnalysisResponse{
		TaskID: taskID,
		Ticker: strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Status: "processing",
	})
}

// HandleStatus resolves the current state of one task.
// Route shape: GET /api/v1/analysis/{task_id}
func (h *AnalysisHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/v1/analysis/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}

	update, err := h.service.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.log.Errorw("Failed to resolve task status", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve task status")
		return
	}

	writeJSON(w, http.StatusOK, update)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
