package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"stockpulse/internal/services/chat"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// ChatHandler exposes report chat over REST.
type ChatHandler struct {
	service *chat.Service
	log     *logger.Logger
}

// NewChatHandler creates the report chat handler.
func NewChatHandler(service *chat.Service, log *logger.Logger) *ChatHandler {
	return &ChatHandler{service: service, log: log}
}

type chatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history,omitempty"`
}

type chatResponse struct {
	TaskID   string `json:"task_id"`
	Response string `json:"response"`
}

// HandleChat answers a question about a finished analysis.
// Route shape: POST /api/v1/analysis/{task_id}/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	taskID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/analysis/"), "/chat")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := h.service.Ask(r.Context(), taskID, req.Message, req.History)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrNotFound):
			writeError(w, http.StatusNotFound, "no report for task")
		case errors.Is(err, errors.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, errors.ErrProviderUnavailable):
			writeError(w, http.StatusServiceUnavailable, "no chat provider configured")
		default:
			h.log.Errorw("Report chat failed", "task_id", taskID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to answer question")
		}
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{TaskID: taskID, Response: answer})
}
