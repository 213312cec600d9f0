package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockpulse/internal/adapters/ai"
	"stockpulse/internal/adapters/marketdata/alphavantage"
	"stockpulse/internal/domain/task"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

const sentimentSystemPrompt = "You are a financial sentiment analyst. Analyze news headlines and " +
	"classify each as bullish, bearish, or neutral from an investor's perspective."

const summarySystemPrompt = "You are a financial news analyst. Summarize news articles " +
	"highlighting key developments and market implications."

const insightsSystemPrompt = "You are an AI financial analyst. Generate comprehensive " +
	"investment insights. Remind users this is not financial advice."

// ResultPublisher emits result events back to the aggregation topic.
type ResultPublisher interface {
	PublishResult(ctx context.Context, event events.ResultEvent) error
}

// Service runs the LLM analysis batch. One work request produces all three
// LLM slots; each slot degrades independently so a single failed call never
// stalls the task.
type Service struct {
	registry  *ai.ProviderRegistry
	provider  ai.ProviderName
	publisher ResultPublisher
	log       *logger.Logger
}

// NewService creates the LLM analysis service.
func NewService(registry *ai.ProviderRegistry, defaultProvider ai.ProviderName, publisher ResultPublisher, log *logger.Logger) *Service {
	return &Service{
		registry:  registry,
		provider:  defaultProvider,
		publisher: publisher,
		log:       log,
	}
}

// SentimentDetail is one classified headline.
type SentimentDetail struct {
	Headline   string  `json:"headline"`
	Sentiment  string  `json:"sentiment"` // bullish|bearish|neutral
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// SentimentResult is the llm_sentiment payload.
type SentimentResult struct {
	OverallScore float64           `json:"overall_score"`
	Breakdown    map[string]int    `json:"breakdown"`
	Details      []SentimentDetail `json:"details"`
}

// SummaryResult is the llm_summary payload.
type SummaryResult struct {
	Summary string `json:"summary"`
}

// InsightsResult is the llm_insights payload.
type InsightsResult struct {
	Insights string `json:"insights"`
}

// HandleRequest processes one LLM batch request and emits three results.
func (s *Service) HandleRequest(ctx context.Context, req events.WorkRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Kind != events.KindLLMAnalysis {
		return errors.Wrapf(errors.ErrMalformedEvent, "llm service cannot handle task_kind %q", req.Kind)
	}

	articles, inputErr := parseNews(req.Input)

	payloads := make(map[task.Slot]json.RawMessage, 3)

	provider, provErr := s.registry.Get(s.provider)
	switch {
	case provErr != nil:
		for _, slot := range []task.Slot{task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights} {
			payloads[slot] = events.NewDegradedPayload(provErr.Error())
		}
	case inputErr != nil:
		for _, slot := range []task.Slot{task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights} {
			payloads[slot] = events.NewDegradedPayload(inputErr.Error())
		}
	default:
		sentiment := s.runSlot(ctx, provider, task.SlotLLMSentiment, func() (interface{}, error) {
			return s.analyzeSentiment(ctx, provider, articles)
		}, payloads)

		summary := s.runSlot(ctx, provider, task.SlotLLMSummary, func() (interface{}, error) {
			return s.generateSummary(ctx, provider, req.Ticker, articles)
		}, payloads)

		s.runSlot(ctx, provider, task.SlotLLMInsights, func() (interface{}, error) {
			return s.generateInsights(ctx, provider, req.Ticker, sentiment, summary)
		}, payloads)
	}

	for _, slot := range []task.Slot{task.SlotLLMSentiment, task.SlotLLMSummary, task.SlotLLMInsights} {
		event := events.ResultEvent{
			TaskID:     req.TaskID,
			Ticker:     req.Ticker,
			Slot:       slot,
			Payload:    payloads[slot],
			Producer:   events.ProducerLLMAnalysis,
			LLMEnabled: true,
		}
		if err := s.publisher.PublishResult(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// runSlot executes one analysis step and stores either its payload or a
// degraded marker. Returns the typed result for steps that feed later ones,
// nil when degraded.
func (s *Service) runSlot(ctx context.Context, provider ai.Provider, slot task.Slot, fn func() (interface{}, error), payloads map[task.Slot]json.RawMessage) interface{} {
	start := time.Now()
	result, err := fn()
	metrics.RecordProviderCall(string(provider.Name()), time.Since(start), err)

	if err != nil {
		s.log.Warnw("LLM analysis degraded", "slot", slot, "provider", provider.Name(), "error", err)
		payloads[slot] = events.NewDegradedPayload(err.Error())
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		payloads[slot] = events.NewDegradedPayload(err.Error())
		return nil
	}
	payloads[slot] = data
	return result
}

func (s *Service) analyzeSentiment(ctx context.Context, provider ai.Provider, articles []alphavantage.NewsArticle) (*SentimentResult, error) {
	if len(articles) == 0 {
		return &SentimentResult{
			Breakdown: map[string]int{"positive": 0, "negative": 0, "neutral": 0},
			Details:   []SentimentDetail{},
		}, nil
	}

	var headlines strings.Builder
	for i, article := range articles {
		fmt.Fprintf(&headlines, "%d. %s\n", i+1, article.Title)
	}

	prompt := fmt.Sprintf(`Analyze these headlines:

%s
Return JSON:
{
    "results": [
        {"headline": "...", "sentiment": "bullish|bearish|neutral", "confidence": 0.0-1.0, "reasoning": "..."}
    ]
}`, headlines.String())

	raw, err := provider.Complete(ctx, ai.CompletionRequest{
		System:    sentimentSystemPrompt,
		Prompt:    prompt,
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []SentimentDetail `json:"results"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "unparseable sentiment response: %v", err)
	}

	breakdown := map[string]int{"positive": 0, "negative": 0, "neutral": 0}
	total := 0.0
	for _, detail := range parsed.Results {
		switch strings.ToLower(detail.Sentiment) {
		case "bullish":
			breakdown["positive"]++
			total += 1
		case "bearish":
			breakdown["negative"]++
			total -= 1
		default:
			breakdown["neutral"]++
		}
	}

	score := 0.0
	if len(parsed.Results) > 0 {
		score = total / float64(len(parsed.Results))
	}

	return &SentimentResult{
		OverallScore: score,
		Breakdown:    breakdown,
		Details:      parsed.Results,
	}, nil
}

func (s *Service) generateSummary(ctx context.Context, provider ai.Provider, ticker string, articles []alphavantage.NewsArticle) (*SummaryResult, error) {
	if len(articles) == 0 {
		return &SummaryResult{Summary: fmt.Sprintf("No recent news articles found for %s.", ticker)}, nil
	}

	var body strings.Builder
	limit := len(articles)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&body, "\n--- Article %d ---\nTitle: %s\nSummary: %s\n", i+1, articles[i].Title, articles[i].Summary)
	}

	prompt := fmt.Sprintf(`Summarize these news articles about %s:

%s
Provide a 2-3 paragraph summary covering key events, market sentiment, and potential impact.`, ticker, body.String())

	text, err := provider.Complete(ctx, ai.CompletionRequest{
		System:    summarySystemPrompt,
		Prompt:    prompt,
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}

	return &SummaryResult{Summary: strings.TrimSpace(text)}, nil
}

func (s *Service) generateInsights(ctx context.Context, provider ai.Provider, ticker string, sentiment, summary interface{}) (*InsightsResult, error) {
	sentimentInfo := "No sentiment data available."
	if sr, ok := sentiment.(*SentimentResult); ok && sr != nil {
		label := "Neutral"
		if sr.OverallScore > 0.3 {
			label = "Bullish"
		} else if sr.OverallScore < -0.3 {
			label = "Bearish"
		}
		sentimentInfo = fmt.Sprintf("Overall: %s (score: %.2f)", label, sr.OverallScore)
	}

	summaryInfo := "No summary available."
	if sm, ok := summary.(*SummaryResult); ok && sm != nil {
		summaryInfo = sm.Summary
	}

	prompt := fmt.Sprintf(`Generate insights for %s:

## Sentiment
%s

## News Summary
%s

Cover: Current position, sentiment overview, key factors, considerations, and risks.`, ticker, sentimentInfo, summaryInfo)

	text, err := provider.Complete(ctx, ai.CompletionRequest{
		System:    insightsSystemPrompt,
		Prompt:    prompt,
		MaxTokens: 1536,
	})
	if err != nil {
		return nil, err
	}

	return &InsightsResult{Insights: strings.TrimSpace(text)}, nil
}

func parseNews(input json.RawMessage) ([]alphavantage.NewsArticle, error) {
	if len(input) == 0 {
		return nil, errors.Wrap(errors.ErrMalformedEvent, "missing news input")
	}

	var marker events.DegradedPayload
	if err := json.Unmarshal(input, &marker); err == nil && marker.Unavailable {
		return nil, errors.Wrap(errors.ErrSourceUnavailable, "news unavailable upstream")
	}

	var articles []alphavantage.NewsArticle
	if err := json.Unmarshal(input, &articles); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad news input: %v", err)
	}
	return articles, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
	}
	return strings.TrimSpace(raw)
}
