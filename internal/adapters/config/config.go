package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"stockpulse/pkg/errors"
)

type Config struct {
	App           AppConfig
	API           APIConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	MarketData    MarketDataConfig
	AI            AIConfig
	Analysis      AnalysisConfig
	Notifier      NotifierConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"stockpulse"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type APIConfig struct {
	Port    int    `envconfig:"API_PORT" default:"8080"`
	Version string `envconfig:"API_VERSION" default:"dev"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"stockpulse"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"stockpulse"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"stockpulse"`
}

type MarketDataConfig struct {
	AlphaVantageKey     string        `envconfig:"ALPHAVANTAGE_API_KEY"`
	AlphaVantageBaseURL string        `envconfig:"ALPHAVANTAGE_BASE_URL" default:"https://www.alphavantage.co"`
	RequestTimeout      time.Duration `envconfig:"MARKET_DATA_TIMEOUT" default:"15s"`
	MaxNewsArticles     int           `envconfig:"MARKET_DATA_MAX_NEWS" default:"20"`
}

type AIConfig struct {
	OpenAIKey       string `envconfig:"OPENAI_API_KEY"`
	ClaudeKey       string `envconfig:"CLAUDE_API_KEY"`
	GeminiKey       string `envconfig:"GEMINI_API_KEY"`
	DefaultProvider string `envconfig:"DEFAULT_AI_PROVIDER" default:"openai"`
	ReqPerMinute    int    `envconfig:"AI_REQ_PER_MINUTE" default:"60"`
	Burst           int    `envconfig:"AI_BURST" default:"5"`
}

// AnalysisConfig tunes the aggregation engine.
// TaskTTL bounds how long an abandoned task survives in the store; late events
// for an expired task start over with a fresh empty snapshot.
type AnalysisConfig struct {
	TaskTTL      time.Duration `envconfig:"ANALYSIS_TASK_TTL" default:"1h"`
	FetchRetries int           `envconfig:"ANALYSIS_FETCH_RETRIES" default:"3"`
	MinPriceBars int           `envconfig:"ANALYSIS_MIN_PRICE_BARS" default:"10"`
}

type NotifierConfig struct {
	CallbackURL     string        `envconfig:"PROGRESS_CALLBACK_URL"`
	CallbackTimeout time.Duration `envconfig:"PROGRESS_CALLBACK_TIMEOUT" default:"5s"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
