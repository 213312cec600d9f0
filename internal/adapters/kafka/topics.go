package kafka

// Topic definitions for the analysis pipeline
const (
	// Work-request topics (aggregator/API -> producers)
	TopicFetchRequests  = "analysis.fetch"
	TopicMLPrediction   = "analysis.ml.prediction"
	TopicMLTechnical    = "analysis.ml.technical"
	TopicMLSentiment    = "analysis.ml.sentiment"
	TopicLLMAnalysis    = "analysis.llm"

	// Result topic (producers -> aggregator)
	TopicResults = "analysis.results"

	// Poison/malformed messages
	TopicDeadLetter = "analysis.deadletter"
)
