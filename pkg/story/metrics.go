package story

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talehopper_generation_requests_total",
			Help: "Story generation requests by kind and outcome.",
		},
		[]string{"kind", "status"},
	)
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talehopper_generation_duration_seconds",
			Help:    "Time spent waiting for the model per story step.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	promptTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talehopper_prompt_tokens",
			Help:    "Prompt size in tokens.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
	)
)
