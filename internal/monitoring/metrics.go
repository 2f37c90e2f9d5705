package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LocalizeTicks counts localize cycles by outcome: ok, empty, missing_model
	// or error.
	LocalizeTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blelocate_localize_ticks_total",
			Help: "Localize cycles by outcome",
		},
		[]string{"outcome"},
	)

	// LocalizeDuration is the wall time of one localize cycle.
	LocalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blelocate_localize_duration_seconds",
			Help:    "Duration of one localize cycle in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// ReducedVectors counts vectors produced by apply.
	ReducedVectors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blelocate_reduced_vectors_total",
			Help: "Reduced feature vectors produced",
		},
	)

	// ActiveTags is the number of tags seen in the latest localize window.
	ActiveTags = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blelocate_active_tags",
			Help: "Tags present in the most recent localize window",
		},
	)

	// LastSuccess is the unix time of the last successful localize cycle.
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blelocate_localize_last_success_seconds",
			Help: "Unix time of the last successful localize cycle",
		},
	)
)
