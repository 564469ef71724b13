package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// engineCalls counts engine invocations by outcome (ok, timeout, error).
	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_engine_calls_total",
		Help: "Engine invocations by engine and outcome",
	}, []string{"engine", "outcome"})

	engineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepwise_engine_duration_seconds",
		Help:    "Engine call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4min
	}, []string{"engine"})

	engineRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_engine_retries_total",
		Help: "Engine calls retried after a timeout",
	}, []string{"engine"})

	// modelsTotal counts models by outcome (explained, failed, invalid).
	modelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_models_total",
		Help: "Models processed by outcome",
	}, []string{"outcome"})

	explainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stepwise_explain_duration_seconds",
		Help:    "Reconstruction and rendering time per model",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~0.8s
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_runs_total",
		Help: "Pipeline runs by outcome",
	}, []string{"outcome"})
)
