package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	strategyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_inference_attempts_total",
			Help: "Inference strategy attempts",
		},
		[]string{"strategy"},
	)

	strategySuccesses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_inference_successes_total",
			Help: "Inference strategy successes",
		},
		[]string{"strategy"},
	)

	strategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrcascade_inference_strategy_duration_seconds",
			Help:    "Inference strategy latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"strategy"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_inference_requests_total",
			Help: "Detect requests by result",
		},
		[]string{"result"}, // success, not_found, invalid_image, too_large, cancelled
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrcascade_inference_request_duration_seconds",
			Help:    "Detect request latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
	)
)
