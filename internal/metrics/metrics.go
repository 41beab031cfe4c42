// Package metrics declares the Prometheus collectors exported by Sage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts analyze requests by method and terminal outcome
	// (success, rejected, failed, invalid).
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sage_analyses_total",
			Help: "Total number of analyze requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	CostLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sage_cost_limit_rejections_total",
			Help: "Cost limit violations by tier",
		},
		[]string{"tier"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sage_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"model", "type"}, // type: input/output
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sage_llm_cost_usd_total",
			Help: "Total LLM cost in USD",
		},
		[]string{"model"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sage_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"model", "status"},
	)

	// StoreSoftFailures counts best-effort store operations that failed
	// without failing the request.
	StoreSoftFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sage_store_soft_failures_total",
			Help: "Best-effort store operations that failed",
		},
		[]string{"operation"},
	)

	ContextTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sage_context_truncations_total",
			Help: "Analyses whose session history was truncated to the context window",
		},
	)

	DailySpendUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sage_daily_spend_usd",
			Help: "Global in-process spend for the current UTC day",
		},
	)
)
