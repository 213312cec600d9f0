package alphavantage

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"stockpulse/internal/adapters/config"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

const maxPriceBars = 30

// Client talks to the Alpha Vantage query API.
type Client struct {
	client  *resty.Client
	apiKey  string
	maxNews int
	log     *logger.Logger
}

// NewClient creates an Alpha Vantage client from config.
func NewClient(cfg config.MarketDataConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.AlphaVantageBaseURL)
	client.SetTimeout(cfg.RequestTimeout)

	return &Client{
		client:  client,
		apiKey:  cfg.AlphaVantageKey,
		maxNews: cfg.MaxNewsArticles,
		log:     logger.Get().With("component", "alphavantage"),
	}
}

// PriceBar is one trading day of OHLCV data.
type PriceBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// StockData is the fetched price series plus company fundamentals.
type StockData struct {
	Ticker       string           `json:"ticker"`
	PriceHistory []PriceBar       `json:"price_history"`
	CurrentPrice *decimal.Decimal `json:"current_price"`
	CompanyInfo  *CompanyInfo     `json:"company_info,omitempty"`
}

// CompanyInfo holds the subset of the OVERVIEW response the analyzers use.
type CompanyInfo struct {
	Name          string   `json:"name"`
	Sector        string   `json:"sector"`
	Industry      string   `json:"industry"`
	Description   string   `json:"description"`
	MarketCap     *int64   `json:"market_cap"`
	PERatio       *float64 `json:"pe_ratio"`
	EPS           *float64 `json:"eps"`
	DividendYield *float64 `json:"dividend_yield"`
	WeekHigh52    *float64 `json:"52_week_high"`
	WeekLow52     *float64 `json:"52_week_low"`
	AnalystTarget *float64 `json:"analyst_target"`
}

// NewsArticle is one item from the NEWS_SENTIMENT feed, with the
// sentiment entry matching the requested ticker flattened in.
type NewsArticle struct {
	Title                 string   `json:"title"`
	Summary               string   `json:"summary"`
	URL                   string   `json:"url"`
	Source                string   `json:"source"`
	PublishedAt           string   `json:"published_at"`
	OverallSentimentScore *float64 `json:"overall_sentiment_score"`
	OverallSentimentLabel string   `json:"overall_sentiment_label"`
	TickerSentimentScore  *float64 `json:"ticker_sentiment_score"`
	TickerSentimentLabel  string   `json:"ticker_sentiment_label"`
	RelevanceScore        *float64 `json:"relevance_score"`
}

type dailySeriesResponse struct {
	ErrorMessage string                       `json:"Error Message"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	TimeSeries   map[string]map[string]string `json:"Time Series (Daily)"`
}

type newsResponse struct {
	Note string `json:"Note"`
	Feed []struct {
		Title                 string `json:"title"`
		Summary               string `json:"summary"`
		URL                   string `json:"url"`
		Source                string `json:"source"`
		TimePublished         string `json:"time_published"`
		OverallSentimentScore string `json:"overall_sentiment_score"`
		OverallSentimentLabel string `json:"overall_sentiment_label"`
		TickerSentiment       []struct {
			Ticker               string `json:"ticker"`
			TickerSentimentScore string `json:"ticker_sentiment_score"`
			TickerSentimentLabel string `json:"ticker_sentiment_label"`
			RelevanceScore       string `json:"relevance_score"`
		} `json:"ticker_sentiment"`
	} `json:"feed"`
}

// FetchStockData fetches the recent daily price series and the company
// overview for a ticker. An overview failure is not fatal because the
// downstream analyzers only need the price series.
func (c *Client) FetchStockData(ctx context.Context, ticker string) (*StockData, error) {
	if c.apiKey == "" {
		return nil, errors.Wrap(errors.ErrSourceUnavailable, "alpha vantage api key not configured")
	}

	var series dailySeriesResponse
	if err := c.query(ctx, map[string]string{
		"function":   "TIME_SERIES_DAILY",
		"symbol":     ticker,
		"outputsize": "compact",
	}, &series); err != nil {
		return nil, err
	}

	if series.ErrorMessage != "" {
		return nil, errors.Wrapf(errors.ErrInvalidTicker, "alpha vantage: %s", series.ErrorMessage)
	}
	if series.Note != "" || series.Information != "" {
		return nil, errors.Wrap(errors.ErrRateLimitExceeded, "alpha vantage rate limit")
	}

	bars, err := parsePriceBars(series.TimeSeries)
	if err != nil {
		return nil, err
	}

	data := &StockData{Ticker: ticker, PriceHistory: bars}
	if len(bars) > 0 {
		last := bars[len(bars)-1].Close
		data.CurrentPrice = &last
	}

	info, err := c.fetchCompanyOverview(ctx, ticker)
	if err != nil {
		c.log.Warnw("Company overview unavailable", "ticker", ticker, "error", err)
	} else {
		data.CompanyInfo = info
	}

	return data, nil
}

// FetchNews fetches recent news articles carrying Alpha Vantage's own
// sentiment scores for the ticker.
func (c *Client) FetchNews(ctx context.Context, ticker string) ([]NewsArticle, error) {
	if c.apiKey == "" {
		return nil, errors.Wrap(errors.ErrSourceUnavailable, "alpha vantage api key not configured")
	}

	var resp newsResponse
	if err := c.query(ctx, map[string]string{
		"function": "NEWS_SENTIMENT",
		"tickers":  ticker,
		"limit":    strconv.Itoa(c.maxNews),
	}, &resp); err != nil {
		return nil, err
	}

	if resp.Note != "" {
		return nil, errors.Wrap(errors.ErrRateLimitExceeded, "alpha vantage rate limit")
	}

	articles := make([]NewsArticle, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		article := NewsArticle{
			Title:                 item.Title,
			Summary:               item.Summary,
			URL:                   item.URL,
			Source:                item.Source,
			PublishedAt:           item.TimePublished,
			OverallSentimentScore: parseFloat(item.OverallSentimentScore),
			OverallSentimentLabel: item.OverallSentimentLabel,
			TickerSentimentLabel:  "Neutral",
		}
		for _, ts := range item.TickerSentiment {
			if ts.Ticker == ticker {
				article.TickerSentimentScore = parseFloat(ts.TickerSentimentScore)
				article.TickerSentimentLabel = ts.TickerSentimentLabel
				article.RelevanceScore = parseFloat(ts.RelevanceScore)
				break
			}
		}
		articles = append(articles, article)
		if len(articles) >= c.maxNews {
			break
		}
	}

	return articles, nil
}

func (c *Client) fetchCompanyOverview(ctx context.Context, ticker string) (*CompanyInfo, error) {
	var raw map[string]string
	if err := c.query(ctx, map[string]string{
		"function": "OVERVIEW",
		"symbol":   ticker,
	}, &raw); err != nil {
		return nil, err
	}

	if _, ok := raw["Symbol"]; !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no overview for %s", ticker)
	}

	return &CompanyInfo{
		Name:          raw["Name"],
		Sector:        raw["Sector"],
		Industry:      raw["Industry"],
		Description:   raw["Description"],
		MarketCap:     parseInt(raw["MarketCapitalization"]),
		PERatio:       parseFloat(raw["PERatio"]),
		EPS:           parseFloat(raw["EPS"]),
		DividendYield: parseFloat(raw["DividendYield"]),
		WeekHigh52:    parseFloat(raw["52WeekHigh"]),
		WeekLow52:     parseFloat(raw["52WeekLow"]),
		AnalystTarget: parseFloat(raw["AnalystTargetPrice"]),
	}, nil
}

func (c *Client) query(ctx context.Context, params map[string]string, out interface{}) error {
	params["apikey"] = c.apiKey

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/query")
	if err != nil {
		return errors.Wrapf(errors.ErrSourceUnavailable, "alpha vantage request failed: %v", err)
	}
	if resp.StatusCode() == 429 {
		return errors.Wrap(errors.ErrRateLimitExceeded, "alpha vantage rate limit")
	}
	if resp.StatusCode() != 200 {
		return errors.Wrapf(errors.ErrSourceUnavailable, "alpha vantage status %d: %s", resp.StatusCode(), resp.String())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(errors.ErrMalformedEvent, "failed to parse alpha vantage response: %v", err)
	}
	return nil
}

// parsePriceBars converts the keyed time series into a date-ascending
// slice capped at the most recent maxPriceBars days.
func parsePriceBars(series map[string]map[string]string) ([]PriceBar, error) {
	dates := make([]string, 0, len(series))
	for date := range series {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > maxPriceBars {
		dates = dates[:maxPriceBars]
	}

	bars := make([]PriceBar, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		values := series[dates[i]]

		open, err := decimal.NewFromString(values["1. open"])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad open price for %s", dates[i])
		}
		high, err := decimal.NewFromString(values["2. high"])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad high price for %s", dates[i])
		}
		low, err := decimal.NewFromString(values["3. low"])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad low price for %s", dates[i])
		}
		closePrice, err := decimal.NewFromString(values["4. close"])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedEvent, "bad close price for %s", dates[i])
		}
		volume, _ := strconv.ParseInt(values["5. volume"], 10, 64)

		bars = append(bars, PriceBar{
			Date:   dates[i],
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	return bars, nil
}

func parseFloat(s string) *float64 {
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(s string) *int64 {
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
