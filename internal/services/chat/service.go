package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockpulse/internal/adapters/ai"
	"stockpulse/internal/domain/report"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/metrics"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

const chatSystemPrompt = "You are an AI financial assistant answering follow-up questions " +
	"about a completed stock analysis report. Ground every answer in the report context " +
	"provided. Remind users this is not financial advice."

// maxHistoryMessages bounds how much prior conversation goes into the prompt.
const maxHistoryMessages = 10

// Message is one prior conversation turn, supplied by the client.
type Message struct {
	Role    string `json:"role"` // user|assistant
	Content string `json:"content"`
}

// Service answers questions about finished analysis reports.
//
// A report is a single bounded document that fits whole into one completion
// request, so the context is built directly from the stored record; there is
// no retrieval step.
type Service struct {
	reports  report.Repository
	registry *ai.ProviderRegistry
	provider ai.ProviderName
	log      *logger.Logger
}

// NewService creates the report chat service.
func NewService(reports report.Repository, registry *ai.ProviderRegistry, defaultProvider ai.ProviderName, log *logger.Logger) *Service {
	return &Service{
		reports:  reports,
		registry: registry,
		provider: defaultProvider,
		log:      log,
	}
}

// Ask answers one question about the task's report. History carries the
// prior turns of the conversation; only the most recent ones are included.
func (s *Service) Ask(ctx context.Context, taskID, question string, history []Message) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "empty question")
	}

	rep, err := s.reports.GetByTaskID(ctx, taskID)
	if err != nil {
		return "", errors.Wrapf(err, "load report for task %s", taskID)
	}

	provider, err := s.registry.Get(s.provider)
	if err != nil {
		return "", errors.Wrapf(err, "resolve chat provider %s", s.provider)
	}

	prompt := buildPrompt(rep, question, history)

	start := time.Now()
	answer, err := provider.Complete(ctx, ai.CompletionRequest{
		System:    chatSystemPrompt,
		Prompt:    prompt,
		MaxTokens: 1024,
	})
	metrics.RecordProviderCall(string(provider.Name()), time.Since(start), err)
	if err != nil {
		return "", errors.Wrapf(err, "chat completion for task %s", taskID)
	}

	s.log.Infow("Report chat answered", "task_id", taskID, "ticker", rep.Ticker, "provider", provider.Name())
	return strings.TrimSpace(answer), nil
}

// buildPrompt renders the report, recent history, and the question into one
// completion prompt. Text-valued analyzer output goes in as prose; the rest
// as compact JSON the model reads fine.
func buildPrompt(rep *report.Report, question string, history []Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Stock Ticker: %s\n", rep.Ticker)
	fmt.Fprintf(&b, "Analysis Date: %s\n", rep.CreatedAt.Format("2006-01-02"))

	var results map[string]json.RawMessage
	if err := json.Unmarshal(rep.Results, &results); err == nil {
		b.WriteString(renderResults(results))
	}

	recent := history
	if len(recent) > maxHistoryMessages {
		recent = recent[len(recent)-maxHistoryMessages:]
	}
	if len(recent) > 0 {
		b.WriteString("\n## Conversation History\n")
		for _, msg := range recent {
			label := "User"
			if msg.Role == "assistant" {
				label = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}

func renderResults(results map[string]json.RawMessage) string {
	var b strings.Builder

	sections := []struct {
		slot  task.Slot
		title string
	}{
		{task.SlotMLPrediction, "Price Forecast"},
		{task.SlotMLTechnical, "Technical Indicators"},
		{task.SlotMLSentiment, "Statistical News Sentiment"},
		{task.SlotLLMSentiment, "AI News Sentiment"},
		{task.SlotLLMSummary, "News Summary"},
		{task.SlotLLMInsights, "AI Insights"},
	}

	for _, section := range sections {
		payload, ok := results[string(section.slot)]
		if !ok || string(payload) == "null" {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", section.title, renderPayload(payload))
	}

	return b.String()
}

// renderPayload unwraps single-text payloads (summary, insights) to plain
// prose and passes everything else through as JSON.
func renderPayload(payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil && len(fields) == 1 {
		for _, value := range fields {
			var text string
			if err := json.Unmarshal(value, &text); err == nil {
				return text
			}
		}
	}
	return string(payload)
}
