// Package observability provides prometheus metrics for the ingest and
// detection pipelines.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors behind one registry so tests can create
// isolated instances without colliding on the default registry.
type Metrics struct {
	registry *prometheus.Registry

	Ingest    *IngestMetrics
	Detection *DetectionMetrics
}

// NewMetrics creates a metrics bundle with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	return &Metrics{
		registry:  registry,
		Ingest:    newIngestMetrics(registry),
		Detection: newDetectionMetrics(registry),
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IngestMetrics tracks the upload pipeline.
type IngestMetrics struct {
	imagesIngested prometheus.Counter
	batchFailures  prometheus.Counter
	ingestDuration prometheus.Histogram
}

func newIngestMetrics(registry *prometheus.Registry) *IngestMetrics {
	factory := promauto.With(registry)
	return &IngestMetrics{
		imagesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "camtrap_ingest_images_total",
			Help: "Total number of images ingested",
		}),
		batchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "camtrap_ingest_batch_failures_total",
			Help: "Total number of exiftool batch invocations that failed",
		}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camtrap_ingest_duration_seconds",
			Help:    "Duration of complete ingest runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// RecordIngest records one completed ingest run.
func (m *IngestMetrics) RecordIngest(images int, duration time.Duration) {
	if m == nil {
		return
	}
	m.imagesIngested.Add(float64(images))
	m.ingestDuration.Observe(duration.Seconds())
}

// RecordBatchFailure records one failed metadata batch.
func (m *IngestMetrics) RecordBatchFailure() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

// DetectionMetrics tracks the detection pipeline.
type DetectionMetrics struct {
	jobsStarted       prometheus.Counter
	jobsCompleted     prometheus.Counter
	jobsCancelled     prometheus.Counter
	imagesProcessed   *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
}

func newDetectionMetrics(registry *prometheus.Registry) *DetectionMetrics {
	factory := promauto.With(registry)
	return &DetectionMetrics{
		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "camtrap_detection_jobs_started_total",
			Help: "Total number of detection jobs accepted",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "camtrap_detection_jobs_completed_total",
			Help: "Total number of detection jobs that ran to completion",
		}),
		jobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "camtrap_detection_jobs_cancelled_total",
			Help: "Total number of detection jobs cancelled before completion",
		}),
		imagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camtrap_detection_images_processed_total",
			Help: "Total number of images attempted by detection jobs, by outcome",
		}, []string{"outcome"}),
		inferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camtrap_detection_inference_duration_seconds",
			Help:    "Duration of single-image inference",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// RecordJobStarted records one accepted detection job.
func (m *DetectionMetrics) RecordJobStarted() {
	if m == nil {
		return
	}
	m.jobsStarted.Inc()
}

// RecordJobCompleted records one detection job that ran to completion.
func (m *DetectionMetrics) RecordJobCompleted() {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
}

// RecordJobCancelled records one detection job stopped before completion.
func (m *DetectionMetrics) RecordJobCancelled() {
	if m == nil {
		return
	}
	m.jobsCancelled.Inc()
}

// RecordImageProcessed records one attempted image with its outcome, one of
// "detected", "no_valid_detections", "file_not_found", "decode_failed" or
// "inference_failed".
func (m *DetectionMetrics) RecordImageProcessed(outcome string) {
	if m == nil {
		return
	}
	m.imagesProcessed.WithLabelValues(outcome).Inc()
}

// ObserveInference records the duration of one inference pass.
func (m *DetectionMetrics) ObserveInference(duration time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.Observe(duration.Seconds())
}
