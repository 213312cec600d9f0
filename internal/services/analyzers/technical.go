package analyzers

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"

	"stockpulse/internal/adapters/marketdata/alphavantage"
	"stockpulse/pkg/errors"
)

// TechnicalResult carries the indicator snapshot for the latest bar.
type TechnicalResult struct {
	RSI           *float64  `json:"rsi"`
	RSISignal     string    `json:"rsi_signal"` // overbought|oversold|neutral
	MACD          *float64  `json:"macd"`
	MACDSignal    string    `json:"macd_signal"` // bullish|bearish|neutral
	MACDHistogram *float64  `json:"macd_histogram"`
	BollUpper     *float64  `json:"bollinger_upper"`
	BollMiddle    *float64  `json:"bollinger_middle"`
	BollLower     *float64  `json:"bollinger_lower"`
	BollPosition  string    `json:"bollinger_position"` // upper|middle|lower
	Support       []float64 `json:"support_levels"`
	Resistance    []float64 `json:"resistance_levels"`
	VolumeSignal  string    `json:"volume_signal"` // unusual_spike|high|normal|low
	VolumeRatio   *float64  `json:"volume_ratio"`
}

// RunTechnical computes RSI, MACD, Bollinger Bands, support/resistance and a
// volume signal for the latest bar. Indicators that need more history than
// the series provides come back nil with their signal marked unknown.
func RunTechnical(data *alphavantage.StockData) (*TechnicalResult, error) {
	bars := data.PriceHistory
	if len(bars) < 14 {
		return nil, errors.Wrapf(errors.ErrInvalidInput,
			"need at least 14 price bars for indicators, got %d", len(bars))
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close.InexactFloat64()
		highs[i] = bar.High.InexactFloat64()
		lows[i] = bar.Low.InexactFloat64()
		volumes[i] = float64(bar.Volume)
	}
	current := closes[len(closes)-1]

	result := &TechnicalResult{
		RSISignal:    "unknown",
		MACDSignal:   "unknown",
		BollPosition: "unknown",
		Support:      []float64{},
		Resistance:   []float64{},
	}

	// RSI(14)
	rsiValues := talib.Rsi(closes, 14)
	if rsi := lastValid(rsiValues); rsi != nil {
		v := round2(*rsi)
		result.RSI = &v
		switch {
		case v > 70:
			result.RSISignal = "overbought"
		case v < 30:
			result.RSISignal = "oversold"
		default:
			result.RSISignal = "neutral"
		}
	}

	// MACD(12,26,9) needs a longer series to produce a signal line.
	if len(closes) >= 35 {
		macdLine, signalLine, histogram := talib.Macd(closes, 12, 26, 9)
		macd, signal := lastValid(macdLine), lastValid(signalLine)
		if macd != nil && signal != nil {
			v := round4(*macd)
			result.MACD = &v
			switch {
			case *macd > *signal:
				result.MACDSignal = "bullish"
			case *macd < *signal:
				result.MACDSignal = "bearish"
			default:
				result.MACDSignal = "neutral"
			}
			if h := lastValid(histogram); h != nil {
				hv := round4(*h)
				result.MACDHistogram = &hv
			}
		}
	}

	// Bollinger Bands(20, 2)
	if len(closes) >= 20 {
		upperBand, middleBand, lowerBand := talib.BBands(closes, 20, 2.0, 2.0, talib.SMA)
		upper, middle, lower := lastValid(upperBand), lastValid(middleBand), lastValid(lowerBand)
		if upper != nil && middle != nil && lower != nil {
			u, m, l := round2(*upper), round2(*middle), round2(*lower)
			result.BollUpper, result.BollMiddle, result.BollLower = &u, &m, &l
			switch {
			case current >= *upper:
				result.BollPosition = "upper"
			case current <= *lower:
				result.BollPosition = "lower"
			default:
				result.BollPosition = "middle"
			}
		}
	}

	result.Support, result.Resistance = supportResistance(highs, lows, current)

	// Volume vs 20-day average
	window := volumes
	if len(volumes) > 20 {
		window = volumes[len(volumes)-20:]
	}
	avg := 0.0
	for _, v := range window {
		avg += v
	}
	avg /= float64(len(window))
	if avg > 0 {
		ratio := round2(volumes[len(volumes)-1] / avg)
		result.VolumeRatio = &ratio
		switch {
		case ratio > 2:
			result.VolumeSignal = "unusual_spike"
		case ratio > 1.5:
			result.VolumeSignal = "high"
		case ratio < 0.5:
			result.VolumeSignal = "low"
		default:
			result.VolumeSignal = "normal"
		}
	} else {
		result.VolumeSignal = "unknown"
	}

	return result, nil
}

// supportResistance finds local extrema over a 2-bar lookaround: the three
// nearest resistance levels above the current price and support levels below.
func supportResistance(highs, lows []float64, current float64) (support, resistance []float64) {
	support = []float64{}
	resistance = []float64{}

	for i := 2; i < len(highs)-2; i++ {
		if highs[i] > highs[i-1] && highs[i] > highs[i-2] && highs[i] > highs[i+1] && highs[i] > highs[i+2] {
			if v := round2(highs[i]); v > current {
				resistance = append(resistance, v)
			}
		}
		if lows[i] < lows[i-1] && lows[i] < lows[i-2] && lows[i] < lows[i+1] && lows[i] < lows[i+2] {
			if v := round2(lows[i]); v < current {
				support = append(support, v)
			}
		}
	}

	sort.Float64s(resistance)
	if len(resistance) > 3 {
		resistance = resistance[:3]
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(support)))
	if len(support) > 3 {
		support = support[:3]
	}
	return support, resistance
}

// lastValid returns the last non-NaN, non-zero-warmup value of an indicator
// series, nil when the series never produced one.
func lastValid(values []float64) *float64 {
	for i := len(values) - 1; i >= 0; i-- {
		v := values[i]
		if !math.IsNaN(v) && v != 0 {
			return &v
		}
	}
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
