package fallback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrcascade_fallback_requests_total",
			Help: "Remote fallback requests by outcome",
		},
		[]string{"outcome"}, // success or a Reason
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrcascade_fallback_request_duration_seconds",
			Help:    "Remote fallback round-trip time in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
	)
)
