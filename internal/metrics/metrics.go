package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artvault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "artvault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artvault",
			Subsystem: "records",
			Name:      "uploads_total",
			Help:      "Artwork uploads by content type and outcome",
		},
		[]string{"content_type", "status"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artvault",
			Subsystem: "records",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by action",
		},
		[]string{"action"},
	)

	MockupSlotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artvault",
			Subsystem: "mockups",
			Name:      "slots_total",
			Help:      "Mockup slots by outcome (created, exists, mismatch, unreadable)",
		},
		[]string{"outcome"},
	)

	ValidationProblems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "artvault",
			Subsystem: "integrity",
			Name:      "problems",
			Help:      "Problems reported by the last whole-tree validation",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "artvault",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Background jobs by kind and outcome",
		},
		[]string{"kind", "status"},
	)
)

func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

func RecordUpload(contentType, status string) {
	UploadsTotal.WithLabelValues(contentType, status).Inc()
}

func RecordTransition(action string) {
	TransitionsTotal.WithLabelValues(action).Inc()
}

func RecordMockupSlot(outcome string) {
	MockupSlotsTotal.WithLabelValues(outcome).Inc()
}

func RecordValidation(problems int) {
	ValidationProblems.Set(float64(problems))
}

func RecordJob(kind, status string) {
	JobsTotal.WithLabelValues(kind, status).Inc()
}
