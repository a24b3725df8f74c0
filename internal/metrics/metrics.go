package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversion outcomes, labelled by backend and result ("success" or error kind)
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf2image_conversions_total",
			Help: "Total number of conversions by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdf2image_conversion_duration_seconds",
			Help:    "Wall-clock duration of conversions in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	InputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdf2image_input_bytes",
			Help:    "Size of accepted input documents in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 9),
		},
	)

	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdf2image_output_bytes",
			Help:    "Size of rendered PNG images in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 9),
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdf2image_conversions_in_flight",
			Help: "Conversions currently holding a render slot",
		},
	)

	SandboxCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdf2image_sandbox_cleanup_failures_total",
			Help: "Scratch directories that could not be removed",
		},
	)
)
