package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestAccepted counts new jobs created through the ingest endpoint.
	IngestAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_ingest_accepted_total",
		Help: "Ingest requests that created a new job.",
	})

	// IngestDuplicate counts ingest requests that matched an existing job.
	IngestDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_ingest_duplicate_total",
		Help: "Ingest requests deduplicated by idempotency key.",
	})

	// RateLimitRejects counts ingest requests refused by the rate limiter.
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_ingest_rate_limited_total",
		Help: "Ingest requests rejected by the rate limiter.",
	})

	// WorkerSuccess counts jobs the worker completed.
	WorkerSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_extract_succeeded_total",
		Help: "Jobs that produced a canonical receipt.",
	})

	// WorkerFailures counts failed jobs by error kind.
	WorkerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_extract_failed_total",
		Help: "Jobs that failed, labeled by error kind.",
	}, []string{"kind"})

	// QueueDepthGauge tracks the number of jobs waiting in the queue.
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "receipts_queue_depth",
		Help: "Jobs waiting to be dequeued.",
	})

	// InFlightGauge tracks jobs currently being processed.
	InFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "receipts_jobs_inflight",
		Help: "Jobs currently being processed by workers.",
	})

	// ExtractDuration observes end-to-end pipeline latency per job.
	ExtractDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "receipts_extract_duration_seconds",
		Help:    "Time spent extracting a receipt from its image.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

var registerOnce sync.Once

// Handler registers all metrics and returns the Prometheus scrape handler.
func Handler() http.Handler {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IngestAccepted,
			IngestDuplicate,
			RateLimitRejects,
			WorkerSuccess,
			WorkerFailures,
			QueueDepthGauge,
			InFlightGauge,
			ExtractDuration,
		)
	})
	return promhttp.Handler()
}
