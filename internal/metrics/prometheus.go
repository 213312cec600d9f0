package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Aggregation metrics
	ResultsMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_results_merged_total",
			Help: "Total result events merged into task records",
		},
		[]string{"slot", "status"}, // status: success|error|rejected
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_tasks_completed_total",
			Help: "Total analysis tasks finalized",
		},
		[]string{"llm_enabled"}, // true|false
	)

	PhaseFanouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_phase_fanouts_total",
			Help: "Total phase fan-out batches emitted",
		},
		[]string{"phase"}, // ml|llm
	)

	MergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_merge_duration_seconds",
			Help:    "Result merge handling duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"slot"},
	)

	// Producer metrics
	ProducerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_producer_executions_total",
			Help: "Total producer task executions",
		},
		[]string{"producer", "status"}, // status: success|degraded|error
	)

	ProducerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_producer_duration_seconds",
			Help:    "Producer task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"producer"},
	)

	// Provider metrics
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_provider_calls_total",
			Help: "Total AI provider calls",
		},
		[]string{"provider", "status"}, // status: success|error|rate_limited
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_provider_latency_seconds",
			Help:    "AI provider call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_kafka_messages_total",
			Help: "Total Kafka messages produced/consumed",
		},
		[]string{"topic", "direction", "status"}, // direction: produced|consumed
	)

	DeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_dead_letters_total",
			Help: "Total messages routed to the dead-letter topic",
		},
		[]string{"topic", "reason"}, // reason: malformed|rejected
	)

	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_db_queries_total",
			Help: "Total database queries",
		},
		[]string{"database", "operation", "status"}, // database: postgres|redis
	)
)

// Init registers all metrics with the default registry.
func Init() {
	// Aggregation metrics
	prometheus.MustRegister(ResultsMerged)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(PhaseFanouts)
	prometheus.MustRegister(MergeDuration)

	// Producer metrics
	prometheus.MustRegister(ProducerExecutions)
	prometheus.MustRegister(ProducerDuration)

	// Provider metrics
	prometheus.MustRegister(ProviderCalls)
	prometheus.MustRegister(ProviderLatency)

	// System metrics
	prometheus.MustRegister(KafkaMessages)
	prometheus.MustRegister(DeadLetters)
	prometheus.MustRegister(DBQueries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordMerge records one result event merge attempt.
func RecordMerge(slot string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	ResultsMerged.WithLabelValues(slot, status).Inc()
	MergeDuration.WithLabelValues(slot).Observe(duration.Seconds())
}

// RecordProducerExecution records one producer task execution.
func RecordProducerExecution(producer string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	ProducerExecutions.WithLabelValues(producer, status).Inc()
	ProducerDuration.WithLabelValues(producer).Observe(duration.Seconds())
}

// RecordProviderCall records one AI provider invocation.
func RecordProviderCall(provider string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	ProviderCalls.WithLabelValues(provider, status).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}
