package analyzers

import (
	"math"
	"strings"

	"stockpulse/internal/adapters/marketdata/alphavantage"
)

var bullishKeywords = map[string]struct{}{
	"surge": {}, "soar": {}, "rally": {}, "gain": {}, "rise": {}, "jump": {},
	"climb": {}, "boost": {}, "record": {}, "high": {}, "growth": {}, "profit": {},
	"beat": {}, "beats": {}, "exceed": {}, "strong": {}, "upgrade": {}, "buy": {},
	"bullish": {}, "outperform": {}, "positive": {}, "upside": {},
}

var bearishKeywords = map[string]struct{}{
	"fall": {}, "drop": {}, "decline": {}, "plunge": {}, "crash": {}, "loss": {},
	"miss": {}, "weak": {}, "downgrade": {}, "sell": {}, "bearish": {},
	"underperform": {}, "negative": {}, "risk": {}, "concern": {}, "warning": {},
	"cut": {}, "slash": {}, "layoff": {}, "recession": {},
}

// HeadlineSentiment is one scored headline.
type HeadlineSentiment struct {
	Headline string  `json:"headline"`
	Score    float64 `json:"score"`
	Label    string  `json:"label"`
}

// SentimentResult aggregates headline sentiment over the news batch.
type SentimentResult struct {
	OverallScore float64             `json:"overall_score"`
	Label        string              `json:"label"`
	PositivePct  float64             `json:"positive_pct"`
	NeutralPct   float64             `json:"neutral_pct"`
	NegativePct  float64             `json:"negative_pct"`
	Details      []HeadlineSentiment `json:"details"`
}

// RunSentiment scores each headline by blending the feed's own sentiment
// score with a keyword lexicon, then aggregates. An empty batch yields a
// neutral result rather than an error: no news is a valid answer.
func RunSentiment(articles []alphavantage.NewsArticle) *SentimentResult {
	details := make([]HeadlineSentiment, 0, len(articles))

	for _, article := range articles {
		text := article.Title
		if text == "" {
			continue
		}

		keyword := keywordScore(text)

		score := keyword
		if article.OverallSentimentScore != nil {
			feed := *article.OverallSentimentScore
			score = 0.6*feed + 0.4*keyword
		}

		if len(text) > 200 {
			text = text[:200]
		}
		details = append(details, HeadlineSentiment{
			Headline: text,
			Score:    round3(score),
			Label:    scoreLabel(score),
		})
	}

	if len(details) == 0 {
		return &SentimentResult{Label: "neutral", NeutralPct: 100, Details: []HeadlineSentiment{}}
	}

	var sum float64
	var positive, negative, neutral int
	for _, d := range details {
		sum += d.Score
		switch d.Label {
		case "positive":
			positive++
		case "negative":
			negative++
		default:
			neutral++
		}
	}

	total := float64(len(details))
	overall := sum / total

	return &SentimentResult{
		OverallScore: round3(overall),
		Label:        scoreLabel(overall),
		PositivePct:  round1(float64(positive) / total * 100),
		NeutralPct:   round1(float64(neutral) / total * 100),
		NegativePct:  round1(float64(negative) / total * 100),
		Details:      details,
	}
}

// keywordScore counts bullish vs bearish lexicon hits, normalized to [-1, 1].
func keywordScore(text string) float64 {
	words := strings.Fields(strings.ToLower(text))

	var bullish, bearish int
	for _, word := range words {
		word = strings.Trim(word, ".,:;!?'\"()")
		if _, ok := bullishKeywords[word]; ok {
			bullish++
		}
		if _, ok := bearishKeywords[word]; ok {
			bearish++
		}
	}

	total := bullish + bearish
	if total == 0 {
		return 0
	}
	return float64(bullish-bearish) / float64(total)
}

func scoreLabel(score float64) string {
	switch {
	case score > 0.1:
		return "positive"
	case score < -0.1:
		return "negative"
	default:
		return "neutral"
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
