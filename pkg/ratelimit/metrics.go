package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending jobs per provider
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chess_provider_queue_depth",
			Help: "Number of pending jobs in the provider queue",
		},
		[]string{"provider"},
	)

	// Paused reports whether a provider queue is currently paused
	Paused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chess_provider_paused",
			Help: "1 while the provider queue is paused after a throttle signal",
		},
		[]string{"provider"},
	)

	// Dispatches counts completed dispatches by outcome
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_provider_dispatches_total",
			Help: "Total provider dispatches by outcome",
		},
		[]string{"provider", "outcome"}, // "success", "failure"
	)

	// Pauses counts throttle-triggered pauses
	Pauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_provider_pauses_total",
			Help: "Total throttle-triggered queue pauses",
		},
		[]string{"provider"},
	)

	// BackoffSeconds observes the backoff applied on each pause
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chess_provider_backoff_seconds",
			Help:    "Backoff duration applied when a provider pauses",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)
