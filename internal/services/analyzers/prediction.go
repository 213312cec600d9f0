package analyzers

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"stockpulse/internal/adapters/marketdata/alphavantage"
	"stockpulse/pkg/errors"
)

// forecastCap bounds forecasts to +/- 15% of the current price. Short price
// windows produce wild extrapolations otherwise.
const forecastCap = 0.15

// PredictionResult is the price forecast payload.
type PredictionResult struct {
	CurrentPrice float64   `json:"current_price"`
	Forecast7D   float64   `json:"forecast_7d"`
	Forecast30D  float64   `json:"forecast_30d"`
	Daily        []float64 `json:"daily"`
	Trend        string    `json:"trend"` // up|down|flat
	Confidence   float64   `json:"confidence"`
	ModelsUsed   string    `json:"models_used"`
	Reasoning    []string  `json:"reasoning"`
}

// RunPrediction produces an ensemble price forecast from the daily series.
// Two simple models vote: a linear regression extrapolation and an EMA drift
// projection. Agreement on direction raises confidence. The horizons are
// fixed at 7 and 30 days to match the report payload fields.
func RunPrediction(data *alphavantage.StockData, minBars int) (*PredictionResult, error) {
	closes := closesOf(data)
	if len(closes) < minBars {
		return nil, errors.Wrapf(errors.ErrInvalidInput,
			"need at least %d price bars, got %d", minBars, len(closes))
	}

	current := closes[len(closes)-1]

	linear := forecastLinear(closes, 30)
	drift := forecastDrift(closes, 30)

	daily := make([]float64, 30)
	for i := 0; i < 30; i++ {
		daily[i] = round2(capForecast(current, 0.5*linear[i]+0.5*drift[i]))
	}

	forecast7 := daily[min(7, len(daily))-1]
	forecast30 := daily[len(daily)-1]

	trend := "flat"
	switch {
	case forecast30 > current*1.005:
		trend = "up"
	case forecast30 < current*0.995:
		trend = "down"
	}

	var reasoning []string
	confidence := 0.65
	linearUp := linear[len(linear)-1] > current
	driftUp := drift[len(drift)-1] > current
	if linearUp == driftUp {
		confidence = 0.85
		direction := "down"
		if linearUp {
			direction = "up"
		}
		reasoning = append(reasoning, fmt.Sprintf("Both models agree on %sward movement", direction))
	} else {
		reasoning = append(reasoning, "Models disagree on direction, confidence reduced")
	}
	reasoning = append(reasoning, fmt.Sprintf("Forecast based on %d trading days", len(closes)))

	return &PredictionResult{
		CurrentPrice: round2(current),
		Forecast7D:   forecast7,
		Forecast30D:  forecast30,
		Daily:        daily,
		Trend:        trend,
		Confidence:   confidence,
		ModelsUsed:   "LINREG + EMA_DRIFT",
		Reasoning:    reasoning,
	}, nil
}

// forecastLinear extrapolates a least-squares fit of the close series.
func forecastLinear(closes []float64, days int) []float64 {
	n := float64(len(closes))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range closes {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	slope := 0.0
	if denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
	}
	intercept := (sumY - slope*sumX) / n

	out := make([]float64, days)
	for i := 0; i < days; i++ {
		out[i] = intercept + slope*(n+float64(i))
	}
	return out
}

// forecastDrift projects the EMA forward by its recent average step.
func forecastDrift(closes []float64, days int) []float64 {
	period := 10
	if len(closes) < period+1 {
		period = len(closes) - 1
	}

	ema := talib.Ema(closes, period)
	last := ema[len(ema)-1]

	// Average per-day EMA movement over the tail of the series.
	window := min(period, len(ema)-period)
	step := 0.0
	if window > 0 {
		step = (ema[len(ema)-1] - ema[len(ema)-1-window]) / float64(window)
	}

	out := make([]float64, days)
	for i := 0; i < days; i++ {
		out[i] = last + step*float64(i+1)
	}
	return out
}

func capForecast(current, forecast float64) float64 {
	upper := current * (1 + forecastCap)
	lower := current * (1 - forecastCap)
	return math.Min(upper, math.Max(lower, forecast))
}

func closesOf(data *alphavantage.StockData) []float64 {
	closes := make([]float64, 0, len(data.PriceHistory))
	for _, bar := range data.PriceHistory {
		closes = append(closes, bar.Close.InexactFloat64())
	}
	return closes
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
