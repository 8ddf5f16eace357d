package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_detections_total",
			Help: "Detection requests by outcome",
		},
		[]string{"outcome"}, // success, cached, not_found, invalid_image, cancelled
	)

	detectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrcascade_detection_duration_seconds",
			Help:    "End-to-end detection time in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_attempts_total",
			Help: "Strategy attempts by tier, strategy and result",
		},
		[]string{"tier", "strategy", "result"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrcascade_attempt_duration_seconds",
			Help:    "Per-attempt latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		},
		[]string{"tier"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	workersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrcascade_workers_busy",
			Help: "Worker pool slots currently held",
		},
	)
)
