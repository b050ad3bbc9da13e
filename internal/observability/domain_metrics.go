package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_turns_total",
			Help: "Total number of chat turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_turn_failures_total",
			Help: "Total number of failed chat turns by stage and error code.",
		},
		[]string{"stage", "code"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbchat_stage_duration_seconds",
			Help:    "Duration of each pipeline stage of a chat turn.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage", "outcome"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_llm_requests_total",
			Help: "Total number of LLM completion requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_query_rows_returned",
			Help:    "Rows returned by generated SQL queries.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbchat_active_sessions",
			Help: "Current number of in-memory chat sessions.",
		},
	)
	reapedSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_reaped_sessions_total",
			Help: "Total number of sessions closed for inactivity.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		turnFailuresTotal,
		stageDurationSeconds,
		llmRequestsTotal,
		queryRowsReturned,
		activeSessions,
		reapedSessionsTotal,
	)
}

func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveTurnFailure(stage, code string) {
	turnFailuresTotal.WithLabelValues(stage, code).Inc()
}

func ObserveStage(stage, outcome string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func ObserveLLMRequest(provider, outcome string) {
	llmRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func ObserveQueryRows(rows int) {
	if rows < 0 {
		rows = 0
	}
	queryRowsReturned.Observe(float64(rows))
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}

func IncrementReapedSessions(count int) {
	if count > 0 {
		reapedSessionsTotal.Add(float64(count))
	}
}
